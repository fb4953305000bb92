package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/ndarray"
	"github.com/danmuck/kbclient/internal/testutil/bridgetest"
	"github.com/danmuck/kbclient/internal/testutil/testlog"
)

func decodeParts(t *testing.T, parts [][]byte) (Data, error) {
	t.Helper()
	return Decode(frame.FromParts(parts), frame.DefaultLimits())
}

func scenarioA(t *testing.T) [][]byte {
	return bridgetest.Reply(
		bridgetest.StructuredPair(t, "A", map[string]any{"x": 1, "y": 2.5}, bridgetest.TrainMetadata("A", 10001)),
		bridgetest.ArrayPair(t, "A", "img", "f32", []int{2, 2}, bridgetest.Float32s(1, 2, 3, 4)),
	)
}

func TestScenarioStructuredAndArray(t *testing.T) {
	testlog.Start(t)
	data, err := decodeParts(t, scenarioA(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, ok := data["A"]
	if !ok || len(data) != 1 {
		t.Fatalf("expected single bundle A, got %v", data.Sources())
	}
	if x, err := Field[int64](b, "x"); err != nil || x != 1 {
		t.Fatalf("expected x=1, got %v err=%v", x, err)
	}
	if y, err := Field[float64](b, "y"); err != nil || y != 2.5 {
		t.Fatalf("expected y=2.5, got %v err=%v", y, err)
	}
	img, err := Array[float32](b, "img")
	if err != nil {
		t.Fatalf("array: %v", err)
	}
	if len(img) != 4 || img[0] != 1 || img[3] != 4 {
		t.Fatalf("unexpected img: %v", img)
	}
	shape, ok := b.Shape("img")
	if !ok || len(shape) != 2 || shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("unexpected shape: %v", shape)
	}
	if dt, ok := b.Dtype("img"); !ok || dt != ndarray.Float32 {
		t.Fatalf("unexpected dtype: %v", dt)
	}
	if tid, ok := b.TrainID(); !ok || tid != 10001 {
		t.Fatalf("unexpected train id %d ok=%v", tid, ok)
	}
	if got := b.BytesReceived(); got == 0 {
		t.Fatalf("expected non-zero byte count")
	}
}

func TestScenarioTwoSources(t *testing.T) {
	testlog.Start(t)
	a := bridgetest.StructuredPair(t, "A", map[string]any{"v": 1}, nil)
	b := bridgetest.StructuredPair(t, "B", map[string]any{"v": 2}, nil)
	for _, parts := range [][][]byte{bridgetest.Reply(a, b), bridgetest.Reply(b, a)} {
		data, err := decodeParts(t, parts)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(data) != 2 {
			t.Fatalf("expected 2 bundles, got %d", len(data))
		}
		for src, want := range map[string]int64{"A": 1, "B": 2} {
			bundle, ok := data[src]
			if !ok {
				t.Fatalf("missing source %s", src)
			}
			if got, err := Field[int64](bundle, "v"); err != nil || got != want {
				t.Fatalf("source %s: expected %d, got %d err=%v", src, want, got, err)
			}
		}
	}
}

func TestScenarioOddFrameCount(t *testing.T) {
	testlog.Start(t)
	parts := scenarioA(t)[:3]
	if _, err := decodeParts(t, parts); !errors.Is(err, protocol.ErrOddFrameCount) {
		t.Fatalf("expected ErrOddFrameCount, got %v", err)
	}
}

func TestRoundTripManySources(t *testing.T) {
	testlog.Start(t)
	const n = 12
	var pairs [][][]byte
	for i := 0; i < n; i++ {
		src := fmt.Sprintf("SPB_DET_AGIPD1M-1/DET/%dCH0:xtdf", i)
		pairs = append(pairs,
			bridgetest.StructuredPair(t, src, map[string]any{"module": i}, bridgetest.TrainMetadata(src, 500)),
			bridgetest.ArrayPair(t, src, "image.data", "uint16", []int{2, 3}, bridgetest.Uint16s(1, 2, 3, 4, 5, uint16(i))),
		)
	}
	data, err := decodeParts(t, bridgetest.Reply(pairs...))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data) != n {
		t.Fatalf("expected %d bundles, got %d", n, len(data))
	}
	for i := 0; i < n; i++ {
		b := data[fmt.Sprintf("SPB_DET_AGIPD1M-1/DET/%dCH0:xtdf", i)]
		if b == nil {
			t.Fatalf("missing module %d", i)
		}
		if got, err := Field[int64](b, "module"); err != nil || got != int64(i) {
			t.Fatalf("module %d: got %d err=%v", i, got, err)
		}
		img, err := Array[uint16](b, "image.data")
		if err != nil || len(img) != 6 || img[5] != uint16(i) {
			t.Fatalf("module %d: img=%v err=%v", i, img, err)
		}
	}
	if tid, ok := data.TrainID(); !ok || tid != 500 {
		t.Fatalf("unexpected train id %d", tid)
	}
}

func TestArrayOnlySourceAndInterleaving(t *testing.T) {
	testlog.Start(t)
	parts := bridgetest.Reply(
		bridgetest.ArrayPair(t, "CAM", "data.image", "uint16", []int{2}, bridgetest.Uint16s(7, 8)),
		bridgetest.StructuredPair(t, "XGM", map[string]any{"data.intensityTD": []float64{0.5}}, nil),
		bridgetest.ArrayPair(t, "XGM", "data.trace", "f4", []int{1}, bridgetest.Float32s(9)),
		bridgetest.ArrayPair(t, "CAM", "data.mask", "uint16", []int{1}, bridgetest.Uint16s(1)),
	)
	data, err := decodeParts(t, parts)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cam := data["CAM"]
	if cam == nil || len(cam.Paths()) != 0 {
		t.Fatalf("expected array-only bundle with no fields, got %+v", cam)
	}
	if got := cam.ArrayPaths(); len(got) != 2 || got[0] != "data.image" || got[1] != "data.mask" {
		t.Fatalf("unexpected CAM arrays: %v", got)
	}
	trace, err := Array[float32](data["XGM"], "data.trace")
	if err != nil || trace[0] != 9 {
		t.Fatalf("unexpected trace=%v err=%v", trace, err)
	}
	if _, err := Field[[]float64](data["XGM"], "data.intensityTD"); err != nil {
		t.Fatalf("expected intensityTD field, got %v", err)
	}
}

func TestDuplicateBlocks(t *testing.T) {
	testlog.Start(t)
	a1 := bridgetest.StructuredPair(t, "A", map[string]any{"x": 1}, nil)
	a2 := bridgetest.StructuredPair(t, "A", map[string]any{"y": 2}, nil)
	b := bridgetest.StructuredPair(t, "B", map[string]any{"x": 1}, nil)

	if _, err := decodeParts(t, bridgetest.Reply(a1, a2)); !errors.Is(err, protocol.ErrDuplicateStructuredBlock) {
		t.Fatalf("expected back-to-back structured blocks to fail, got %v", err)
	}
	data, err := decodeParts(t, bridgetest.Reply(a1, b, a2))
	if err != nil {
		t.Fatalf("expected interleaved blocks to merge, got %v", err)
	}
	if len(data) != 2 || len(data["A"].Paths()) != 2 {
		t.Fatalf("expected merged bundle A, got %v", data["A"].Paths())
	}
	if _, err := decodeParts(t, bridgetest.Reply(a1, b, a1)); !errors.Is(err, protocol.ErrDuplicateStructuredBlock) {
		t.Fatalf("expected repeated field to fail, got %v", err)
	}

	arr := bridgetest.ArrayPair(t, "A", "img", "uint16", []int{1}, bridgetest.Uint16s(1))
	if _, err := decodeParts(t, bridgetest.Reply(a1, arr, arr)); !errors.Is(err, protocol.ErrDuplicateArrayPath) {
		t.Fatalf("expected ErrDuplicateArrayPath, got %v", err)
	}
}

func TestDecodeRejectsBadContent(t *testing.T) {
	testlog.Start(t)
	short := bridgetest.ArrayPair(t, "A", "img", "float32", []int{2, 2}, make([]byte, 15))
	if _, err := decodeParts(t, short); !errors.Is(err, protocol.ErrArrayLengthMismatch) {
		t.Fatalf("expected ErrArrayLengthMismatch, got %v", err)
	}
	notMap := [][]byte{
		bridgetest.Marshal(t, map[string]any{"source": "A", "content": "msgpack"}),
		bridgetest.Marshal(t, []int{1, 2}),
	}
	if _, err := decodeParts(t, notMap); !errors.Is(err, protocol.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent, got %v", err)
	}
	data, err := decodeParts(t, nil)
	if err != nil || len(data) != 0 {
		t.Fatalf("expected empty data for empty reply, got %v err=%v", data, err)
	}
}

func TestTypedAccessFailuresAreLocal(t *testing.T) {
	testlog.Start(t)
	data, err := decodeParts(t, scenarioA(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := data["A"]
	if _, err := Array[float64](b, "img"); !errors.Is(err, protocol.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	_, err = Field[string](b, "x")
	var mismatch *protocol.TypeMismatchError
	if !errors.As(err, &mismatch) || mismatch.Path != "x" {
		t.Fatalf("expected TypeMismatchError at x, got %v", err)
	}
	if _, err := Field[int64](b, "missing"); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
	if _, err := Array[float32](b, "missing"); !errors.Is(err, ErrArrayNotFound) {
		t.Fatalf("expected ErrArrayNotFound, got %v", err)
	}
	img, err := Array[float32](b, "img")
	if err != nil || len(img) != 4 {
		t.Fatalf("bundle must stay usable after failed casts: img=%v err=%v", img, err)
	}
}

func TestMetadataAndNestedLookup(t *testing.T) {
	testlog.Start(t)
	parts := bridgetest.StructuredPair(t, "A",
		map[string]any{"data": map[string]any{"nested": map[string]any{"value": "ok"}}},
		bridgetest.TrainMetadata("A", 42))
	data, err := decodeParts(t, parts)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := data["A"]
	if got, err := Field[string](b, "data.nested.value"); err != nil || got != "ok" {
		t.Fatalf("expected nested lookup, got %q err=%v", got, err)
	}
	if src, err := Metadata[string](b, "source"); err != nil || src != "A" {
		t.Fatalf("unexpected metadata source %q err=%v", src, err)
	}
	if len(b.MetadataKeys()) != 4 {
		t.Fatalf("unexpected metadata keys: %v", b.MetadataKeys())
	}
}

func TestBundlesDoNotAlias(t *testing.T) {
	testlog.Start(t)
	first, err := decodeParts(t, scenarioA(t))
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	second, err := decodeParts(t, scenarioA(t))
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	a, _ := Array[float32](first["A"], "img")
	b, _ := Array[float32](second["A"], "img")
	a[0] = 100
	if b[0] != 1 {
		t.Fatalf("bundles from different replies must not share memory")
	}

	first.Release()
	if _, err := Array[float32](first["A"], "img"); !errors.Is(err, ErrBundleReleased) {
		t.Fatalf("expected ErrBundleReleased, got %v", err)
	}
	if _, err := Field[int64](first["A"], "x"); !errors.Is(err, ErrBundleReleased) {
		t.Fatalf("expected ErrBundleReleased, got %v", err)
	}
	if got, err := Array[float32](second["A"], "img"); err != nil || got[0] != 1 {
		t.Fatalf("release must not affect other bundles: %v err=%v", got, err)
	}
}

func TestSourcesInOneReplyDoNotAlias(t *testing.T) {
	testlog.Start(t)
	parts := bridgetest.Reply(
		bridgetest.ArrayPair(t, "A", "img", "<f4", []int{2}, bridgetest.Float32s(1, 2)),
		bridgetest.ArrayPair(t, "B", "img", "<f4", []int{2}, bridgetest.Float32s(3, 4)),
	)
	data, err := decodeParts(t, parts)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, err := Array[float32](data["A"], "img")
	if err != nil {
		t.Fatalf("array A: %v", err)
	}
	a[0], a[1] = 99, 99
	for i := range parts[1] {
		parts[1][i] = 0xff
	}
	b, err := Array[float32](data["B"], "img")
	if err != nil {
		t.Fatalf("array B: %v", err)
	}
	if len(b) != 2 || b[0] != 3 || b[1] != 4 {
		t.Fatalf("expected B to stay [3 4], got %v", b)
	}
}

func TestConcurrentReleaseAndAccess(t *testing.T) {
	testlog.Start(t)
	for round := 0; round < 20; round++ {
		data, err := decodeParts(t, scenarioA(t))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		b := data["A"]
		var wg sync.WaitGroup
		errs := make(chan error, 64)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					if _, err := Array[float32](b, "img"); err != nil && !errors.Is(err, ErrBundleReleased) {
						errs <- err
					}
					if _, err := Field[int64](b, "x"); err != nil && !errors.Is(err, ErrBundleReleased) {
						errs <- err
					}
					b.Paths()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Release()
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("expected data or ErrBundleReleased, got %v", err)
		}
		if _, err := Array[float32](b, "img"); !errors.Is(err, ErrBundleReleased) {
			t.Fatalf("expected ErrBundleReleased after release, got %v", err)
		}
	}
}

func TestByteShorthandDtype(t *testing.T) {
	testlog.Start(t)
	data, err := decodeParts(t, bridgetest.Reply(
		bridgetest.ArrayPair(t, "A", "mask", "u8", []int{4}, []byte{1, 2, 3, 4}),
		bridgetest.ArrayPair(t, "A", "wide", "<u8", []int{1}, []byte{1, 0, 0, 0, 0, 0, 0, 0}),
	))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	mask, err := Array[uint8](data["A"], "mask")
	if err != nil || len(mask) != 4 || mask[3] != 4 {
		t.Fatalf("expected 4 uint8 values, got %v err=%v", mask, err)
	}
	wide, err := Array[uint64](data["A"], "wide")
	if err != nil || len(wide) != 1 || wide[0] != 1 {
		t.Fatalf("expected one uint64 value, got %v err=%v", wide, err)
	}
}

func TestSummaryAndDump(t *testing.T) {
	testlog.Start(t)
	parts := scenarioA(t)
	data, err := decodeParts(t, parts)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := Summary(data)
	for _, want := range []string{
		"source: A",
		"path, container, container shape, type",
		"x, , [], uint64",
		"img, array, [2, 2], float32",
		"timestamp.tid, , [], uint64",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}

	dump := Dump(frame.FromParts(parts))
	if strings.Count(dump, "new message") != 4 {
		t.Fatalf("expected 4 message separators:\n%s", dump)
	}
	if !strings.Contains(dump, "(array payload, 16 bytes)") || !strings.Contains(dump, `source: "A"`) {
		t.Fatalf("unexpected dump:\n%s", dump)
	}
}

func TestClientAgainstBridgeServer(t *testing.T) {
	testlog.Start(t)
	srv := bridgetest.NewServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, srv.Endpoint)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if c.ID() == "" {
		t.Fatalf("expected generated client id")
	}

	data, ok, err := c.RequestNext(ctx, 20*time.Millisecond)
	if err != nil || ok || data != nil {
		t.Fatalf("expected timeout, got data=%v ok=%v err=%v", data, ok, err)
	}

	srv.Enqueue(scenarioA(t))
	data, ok, err = c.RequestNext(ctx, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected data, ok=%v err=%v", ok, err)
	}
	if x, err := Field[int64](data["A"], "x"); err != nil || x != 1 {
		t.Fatalf("unexpected x=%d err=%v", x, err)
	}

	srv.Enqueue(scenarioA(t)[:3])
	if _, _, err := c.RequestNext(ctx, 5*time.Second); !errors.Is(err, protocol.ErrOddFrameCount) {
		t.Fatalf("expected ErrOddFrameCount, got %v", err)
	}
	if got := len(srv.Requests()); got != 2 {
		t.Fatalf("expected the timed-out request to be reused, got %d requests", got)
	}
}
