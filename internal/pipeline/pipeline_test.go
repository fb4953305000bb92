package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/kbclient/internal/bridge"
	"github.com/danmuck/kbclient/internal/catalog"
	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/session"
	"github.com/danmuck/kbclient/internal/testutil/bridgetest"
	"github.com/danmuck/kbclient/internal/testutil/testlog"
)

type step struct {
	parts   [][]byte
	timeout bool
	err     error
}

// scriptedSource replays steps, then blocks until ctx is done.
type scriptedSource struct {
	t     *testing.T
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedSource) Endpoint() string { return "inproc://scripted" }

func (s *scriptedSource) RequestNext(ctx context.Context, timeout time.Duration) (bridge.Data, bool, error) {
	s.mu.Lock()
	s.calls++
	if len(s.steps) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	switch {
	case st.err != nil:
		return nil, false, st.err
	case st.timeout:
		return nil, false, nil
	}
	data, err := bridge.Decode(frame.FromParts(st.parts), frame.DefaultLimits())
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func detectorTrain(t *testing.T, tid uint64, modules ...int) [][]byte {
	var pairs [][][]byte
	for _, m := range modules {
		src := fmt.Sprintf("SCS_DET_DSSC1M-1/DET/%dCH0:xtdf", m)
		pairs = append(pairs,
			bridgetest.StructuredPair(t, src, map[string]any{"header.pulseCount": 2}, bridgetest.TrainMetadata(src, tid)),
			bridgetest.ArrayPair(t, src, "image.data", "uint16", []int{2}, bridgetest.Uint16s(uint16(m), 1)),
		)
	}
	return bridgetest.Reply(pairs...)
}

func TestQueueBackpressureAndOrder(t *testing.T) {
	testlog.Start(t)
	q := NewQueue[int](2)
	ctx := context.Background()
	if err := q.Push(ctx, 1); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push(ctx, 2); err != nil {
		t.Fatalf("push: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Push(blocked, 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected full queue to block until deadline, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, 3) }()
	if v, ok := q.TryPop(); !ok || v != 1 {
		t.Fatalf("expected 1, got %d ok=%v", v, ok)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked push should complete once space frees: %v", err)
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Fatalf("unexpected len=%d cap=%d", q.Len(), q.Cap())
	}
	if v, _ := q.TryPop(); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if v, _ := q.TryPop(); v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueClose(t *testing.T) {
	testlog.Start(t)
	q := NewQueue[string](1)
	if err := q.Push(context.Background(), "a"); err != nil {
		t.Fatalf("push: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- q.Push(context.Background(), "b") }()
	time.Sleep(5 * time.Millisecond)
	q.Close()
	if err := <-done; !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed for waiting pusher, got %v", err)
	}
	if v, err := q.Pop(context.Background()); err != nil || v != "a" {
		t.Fatalf("expected queued item to drain, got %q err=%v", v, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestSelectionWildcard(t *testing.T) {
	testlog.Start(t)
	sel := NewSelection("DSSC", "SCS_DET_DSSC1M-1/DET/*CH0:xtdf", "image.data", 0)
	if sel.NModules() != 16 {
		t.Fatalf("expected 16 modules, got %d", sel.NModules())
	}
	if plain := NewSelection("XGM", "SCS_BLU_XGM/XGM/DOOCS", "photonFlux", 0); plain.NModules() != 0 {
		t.Fatalf("expected no module expansion, got %d", plain.NModules())
	}
	if _, err := SelectionFromCatalog(catalog.Default(), "Laser", "x", "y"); !errors.Is(err, catalog.ErrUnknownCategory) {
		t.Fatalf("expected unknown category, got %v", err)
	}
}

func TestBrokerExtractsSelectedItems(t *testing.T) {
	testlog.Start(t)
	src := &scriptedSource{t: t, steps: []step{
		{timeout: true},
		{err: fmt.Errorf("pair 0: %w", protocol.ErrOddFrameCount)},
		{err: fmt.Errorf("%w: recv: reset", session.ErrTransport)},
		{parts: detectorTrain(t, 9001, 0, 3, 15)},
	}}
	b := NewBroker(src, Config{Timeout: time.Millisecond, QueueCapacity: 2, StatsInterval: 1})
	sel, err := SelectionFromCatalog(catalog.Default(), "DSSC", "SCS_DET_DSSC1M-1/DET/*CH0:xtdf", "image.data")
	if err != nil {
		t.Fatalf("selection: %v", err)
	}
	b.Select(sel)
	b.Select(NewSelection("XGM", "SCS_BLU_XGM/XGM/DOOCS", "photonFlux", 0))

	var seen []string
	var seenMu sync.Mutex
	b.OnSources(func(s []string) {
		seenMu.Lock()
		seen = s
		seenMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	train, err := b.Queue().Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	defer train.Release()
	if !train.HasID || train.ID != 9001 {
		t.Fatalf("unexpected train id %d has=%v", train.ID, train.HasID)
	}
	if len(train.Items) != 1 {
		t.Fatalf("expected only the DSSC item, got %d items", len(train.Items))
	}
	item := train.Items[0]
	if len(item.Modules) != 16 || item.Present() != 3 || item.TrainID != 9001 {
		t.Fatalf("unexpected item: modules=%d present=%d tid=%d", len(item.Modules), item.Present(), item.TrainID)
	}
	if item.Modules[1] != nil || item.Modules[3] == nil {
		t.Fatalf("expected module 1 missing and module 3 present")
	}
	img, err := bridge.Array[uint16](item.Modules[15].Bundle, item.Property)
	if err != nil || img[0] != 15 {
		t.Fatalf("unexpected module 15 image=%v err=%v", img, err)
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}
	st := b.Stats()
	if st.Trains != 1 || st.Timeouts != 1 || st.ProtocolErrors != 1 || st.TransportErrors != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.LastTrainID != 9001 || st.AvgAcquisition <= 0 || len(st.Sources) != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	seenMu.Lock()
	defer seenMu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected source callback with 3 sources, got %v", seen)
	}
}

func TestBrokerBackpressureAndConsume(t *testing.T) {
	testlog.Start(t)
	var steps []step
	for i := 0; i < 5; i++ {
		steps = append(steps, step{parts: detectorTrain(t, uint64(100+i), 0)})
	}
	src := &scriptedSource{t: t, steps: steps}
	b := NewBroker(src, Config{Timeout: time.Millisecond, QueueCapacity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for b.Queue().Len() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls > 2 {
		t.Fatalf("producer should block on a full queue, made %d calls", calls)
	}

	var ids []uint64
	err := Consume(ctx, b.Queue(), func(tr *Train) error {
		ids = append(ids, tr.ID)
		if len(ids) == 5 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(ids) != 5 || ids[0] != 100 || ids[4] != 104 {
		t.Fatalf("unexpected train order: %v", ids)
	}
}

func TestBrokerStopsOnClosedSession(t *testing.T) {
	testlog.Start(t)
	src := &scriptedSource{t: t, steps: []step{{err: session.ErrSessionClosed}}}
	b := NewBroker(src, DefaultConfig())
	if err := b.Run(context.Background()); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := b.Queue().Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected queue closed after run, got %v", err)
	}
}
