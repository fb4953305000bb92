package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/kbclient/internal/bridge"
	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/observability"
	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/danmuck/kbclient/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Source yields decoded trains. *bridge.Client implements it.
type Source interface {
	RequestNext(ctx context.Context, timeout time.Duration) (bridge.Data, bool, error)
	Endpoint() string
}

// Config controls the producer loop.
type Config struct {
	Timeout       time.Duration
	QueueCapacity int
	StatsInterval int
}

func DefaultConfig() Config {
	return Config{
		Timeout:       100 * time.Millisecond,
		QueueCapacity: 5,
		StatsInterval: 20,
	}
}

// Broker requests trains in a loop, extracts the selected items and hands
// each train to the consumer through a bounded queue.
type Broker struct {
	src    Source
	cfg    Config
	queue  *Queue[*Train]
	logger zerolog.Logger

	mu         sync.Mutex
	selections map[string]Selection
	onSources  func([]string)

	stats counters
}

func NewBroker(src Source, cfg Config) *Broker {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	b := &Broker{
		src:        src,
		cfg:        cfg,
		queue:      NewQueue[*Train](cfg.QueueCapacity),
		logger:     logging.Component("pipeline"),
		selections: make(map[string]Selection),
	}
	b.stats.w.interval = cfg.StatsInterval
	b.stats.s.QueueCapacity = cfg.QueueCapacity
	return b
}

// Queue is the consumer side of the broker.
func (b *Broker) Queue() *Queue[*Train] { return b.queue }

// Select adds sel to the extracted set. Safe to call while Run is active.
func (b *Broker) Select(sel Selection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selections[sel.Key()] = sel
	b.logger.Debug().Str("category", sel.Category).Str("source", sel.Source).Str("property", sel.Property).Msg("pipeline selection added")
}

func (b *Broker) Deselect(sel Selection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.selections, sel.Key())
}

// Selections returns the current selections ordered by key.
func (b *Broker) Selections() []Selection {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.selections))
	for k := range b.selections {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Selection, len(keys))
	for i, k := range keys {
		out[i] = b.selections[k]
	}
	return out
}

// OnSources registers fn to be called with the sorted source list whenever
// it differs from the previous train's.
func (b *Broker) OnSources(fn func([]string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSources = fn
}

func (b *Broker) Stats() Stats {
	s := b.stats.snapshot()
	s.QueueDepth = b.queue.Len()
	return s
}

// Run is the producer loop. It returns nil when ctx is cancelled and closes
// the queue on exit. Protocol errors and timeouts never stop the loop.
func (b *Broker) Run(ctx context.Context) error {
	defer b.queue.Close()
	endpoint := b.src.Endpoint()
	b.logger.Info().Str("endpoint", endpoint).Dur("timeout", b.cfg.Timeout).Int("queue_capacity", b.cfg.QueueCapacity).Msg("pipeline broker started")

	for {
		if ctx.Err() != nil {
			b.logger.Info().Msg("pipeline broker stopped")
			return nil
		}
		start := time.Now()
		data, ok, err := b.src.RequestNext(ctx, b.cfg.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, session.ErrSessionClosed) {
				return err
			}
			b.countError(endpoint, err)
			continue
		}
		if !ok {
			b.bump(func(s *Stats) { s.Timeouts++ })
			observability.RecordTimeout(endpoint)
			continue
		}

		elapsed := time.Since(start)
		train := b.buildTrain(data, start, elapsed)
		b.record(endpoint, train)

		if err := b.queue.Push(ctx, train); err != nil {
			train.Release()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		observability.SetQueueDepth(b.queue.Len())
	}
}

func (b *Broker) countError(endpoint string, err error) {
	if errors.Is(err, protocol.ErrProtocol) {
		b.bump(func(s *Stats) { s.ProtocolErrors++ })
		observability.RecordBridgeError(endpoint, "protocol")
		b.logger.Warn().Err(err).Msg("pipeline reply rejected")
		return
	}
	b.bump(func(s *Stats) { s.TransportErrors++ })
	observability.RecordBridgeError(endpoint, "transport")
	b.logger.Warn().Err(err).Msg("pipeline transport failure")
}

func (b *Broker) bump(fn func(*Stats)) {
	b.stats.mu.Lock()
	fn(&b.stats.s)
	b.stats.mu.Unlock()
}

func (b *Broker) record(endpoint string, t *Train) {
	bytes := t.Data.BytesReceived()
	observability.RecordTrain(endpoint, bytes, t.Acquisition)

	sources := t.Data.Sources()
	b.stats.mu.Lock()
	b.stats.s.Trains++
	b.stats.s.BytesReceived += uint64(bytes)
	if t.HasID {
		b.stats.s.LastTrainID = t.ID
	}
	changed := !slices.Equal(sources, b.stats.s.Sources)
	if changed {
		b.stats.s.Sources = sources
	}
	avg, report := b.stats.w.add(t.Acquisition)
	b.stats.mu.Unlock()

	if report {
		b.logger.Info().
			Float64("avg_ms", float64(avg.Microseconds())/1000).
			Int("trains", b.cfg.StatsInterval).
			Msg("pipeline average data acquisition time")
	}
	if changed {
		b.mu.Lock()
		fn := b.onSources
		b.mu.Unlock()
		if fn != nil {
			fn(append([]string(nil), sources...))
		}
	}
}

func (b *Broker) buildTrain(data bridge.Data, start time.Time, elapsed time.Duration) *Train {
	t := &Train{Data: data, ReceivedAt: start.Add(elapsed), Acquisition: elapsed}
	t.ID, t.HasID = data.TrainID()
	for _, sel := range b.Selections() {
		if item, ok := extract(data, sel); ok {
			t.Items = append(t.Items, item)
		}
	}
	return t
}

// extract collects the bundles sel refers to. An item with no module present
// is dropped.
func extract(data bridge.Data, sel Selection) (Item, bool) {
	item := Item{Category: sel.Category, Source: sel.Source, Property: sel.Property}
	sources := sel.modules
	if len(sources) == 0 {
		sources = []string{sel.Source}
	}
	item.Modules = make([]*ModuleData, len(sources))
	for i, src := range sources {
		bundle, ok := data[src]
		if !ok {
			continue
		}
		item.Modules[i] = &ModuleData{Source: src, Bundle: bundle}
		if tid, ok := bundle.TrainID(); ok {
			item.TrainID = tid
		}
	}
	if item.Present() == 0 {
		return Item{}, false
	}
	return item, true
}

// Consume pops trains until ctx is done or the broker stops, calling fn for
// each and releasing the train afterwards.
func Consume(ctx context.Context, q *Queue[*Train], fn func(*Train) error) error {
	for {
		t, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		observability.SetQueueDepth(q.Len())
		err = fn(t)
		t.Release()
		if err != nil {
			return err
		}
	}
}
