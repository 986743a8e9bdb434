// Package telemetry fans accepted zone edges and diagnostic events out to
// persistence and monitoring sinks without slowing the device goroutines.
//
// Producers (device read goroutines and the diagnostic dispatcher) call
// ObserveEdge and ObserveDiagnostic, which only enqueue. A dedicated goroutine
// started with Run drains the queue and calls each sink in turn. A failing
// sink is logged and skipped; it never raises a diagnostic, so a broken sink
// cannot feed back into the events it is recording.
package telemetry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/consumer"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/eventqueue"
)

// Defaults.
const (
	DefaultSinkTimeout   = 5 * time.Second
	DefaultStatsInterval = 30 * time.Second
	DefaultPruneInterval = time.Hour
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives edges and diagnostics on the pipeline goroutine.
type Sink interface {
	Name() string
	WriteEdge(ctx context.Context, e device.Edge) error
	WriteDiagnostic(ctx context.Context, ev diagnostic.Event) error
}

// StatsSink is implemented by sinks that also record consumer loop counters.
type StatsSink interface {
	WriteLoopStats(ctx context.Context, s consumer.Stats) error
}

// Pruner is implemented by sinks that keep history and can drop records
// older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config holds pipeline settings.
type Config struct {
	// SinkTimeout bounds each sink call. Default: DefaultSinkTimeout.
	SinkTimeout time.Duration

	// LoopStats, when set, is sampled every StatsInterval and passed to every
	// StatsSink.
	LoopStats     func() consumer.Stats
	StatsInterval time.Duration

	// Retention, when positive, makes Run prune every Pruner sink of records
	// older than Retention, once at start and then every PruneInterval.
	// Default PruneInterval: DefaultPruneInterval.
	Retention     time.Duration
	PruneInterval time.Duration
}

// Stats holds pipeline counters.
type Stats struct {
	Edges       uint64 `json:"edges"`
	Diagnostics uint64 `json:"diagnostics"`
	SinkErrors  uint64 `json:"sink_errors"`
	Pruned      uint64 `json:"pruned"`
	Pending     int    `json:"pending"`
}

// Pipeline is a single-consumer fan-out to a fixed set of sinks.
//
// Thread Safety:
//   - ObserveEdge and ObserveDiagnostic are safe from any goroutine and never block.
//   - Sinks are only called from the Run goroutine.
type Pipeline struct {
	cfg   Config
	sinks []Sink
	queue *eventqueue.Queue
	wake  chan struct{}

	logger   Logger
	loggerMu sync.RWMutex

	edges       atomic.Uint64
	diagnostics atomic.Uint64
	sinkErrors  atomic.Uint64
	pruned      atomic.Uint64
}

// New creates a pipeline over sinks. Nil sinks are skipped.
func New(cfg Config, sinks ...Sink) *Pipeline {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}

	p := &Pipeline{
		cfg:    cfg,
		queue:  eventqueue.New(),
		wake:   make(chan struct{}, 1),
		logger: noopLogger{},
	}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p
}

// SetLogger sets the logger used to report sink failures.
func (p *Pipeline) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	p.loggerMu.Lock()
	p.logger = l
	p.loggerMu.Unlock()
}

func (p *Pipeline) log() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Sinks returns the names of the configured sinks.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	return names
}

// ObserveEdge queues e for every sink. It matches the signature of
// device.Orchestrator.SetEdgeObserver.
func (p *Pipeline) ObserveEdge(e device.Edge) {
	p.edges.Add(1)
	p.queue.Enqueue(func() {
		p.each(func(ctx context.Context, s Sink) error { return s.WriteEdge(ctx, e) })
	})
	p.signal()
}

// ObserveDiagnostic queues ev for every sink. It matches the signature of
// diagnostic.Dispatcher.SetObserver.
func (p *Pipeline) ObserveDiagnostic(ev diagnostic.Event) {
	p.diagnostics.Add(1)
	p.queue.Enqueue(func() {
		p.each(func(ctx context.Context, s Sink) error { return s.WriteDiagnostic(ctx, ev) })
	})
	p.signal()
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is cancelled, then delivers whatever
// is still queued and returns.
func (p *Pipeline) Run(ctx context.Context) error {
	var statsC <-chan time.Time
	if p.cfg.LoopStats != nil {
		ticker := time.NewTicker(p.cfg.StatsInterval)
		defer ticker.Stop()
		statsC = ticker.C
	}
	var pruneC <-chan time.Time
	if p.cfg.Retention > 0 {
		p.prune()
		ticker := time.NewTicker(p.cfg.PruneInterval)
		defer ticker.Stop()
		pruneC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case <-p.wake:
			p.flush()
		case <-statsC:
			p.writeStats()
		case <-pruneC:
			p.prune()
		}
	}
}

// Flush delivers everything queued so far on the calling goroutine. It must
// not be called concurrently with Run.
func (p *Pipeline) Flush() {
	p.flush()
}

func (p *Pipeline) flush() {
	for {
		batch := p.queue.Drain()
		if len(batch) == 0 {
			return
		}
		for i, a := range batch {
			batch[i] = nil
			p.run(a)
		}
	}
}

func (p *Pipeline) run(a eventqueue.Action) {
	defer func() {
		if r := recover(); r != nil {
			p.sinkErrors.Add(1)
			p.log().Error("telemetry sink panic",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	a()
}

func (p *Pipeline) each(call func(ctx context.Context, s Sink) error) {
	for _, s := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SinkTimeout)
		err := call(ctx, s)
		cancel()
		if err != nil {
			p.sinkErrors.Add(1)
			p.log().Warn("telemetry sink failed", "sink", s.Name(), "error", err)
		}
	}
}

func (p *Pipeline) writeStats() {
	stats := p.cfg.LoopStats()
	p.run(func() {
		for _, s := range p.sinks {
			ss, ok := s.(StatsSink)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SinkTimeout)
			err := ss.WriteLoopStats(ctx, stats)
			cancel()
			if err != nil {
				p.sinkErrors.Add(1)
				p.log().Warn("telemetry stats write failed", "sink", s.Name(), "error", err)
			}
		}
	})
}

// prune drops history older than the retention window from every Pruner.
func (p *Pipeline) prune() {
	before := time.Now().Add(-p.cfg.Retention)
	p.run(func() {
		for _, s := range p.sinks {
			pr, ok := s.(Pruner)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SinkTimeout)
			n, err := pr.Prune(ctx, before)
			cancel()
			if err != nil {
				p.sinkErrors.Add(1)
				p.log().Warn("telemetry prune failed", "sink", s.Name(), "error", err)
				continue
			}
			p.pruned.Add(uint64(n)) // #nosec G115 -- row counts are never negative
			if n > 0 {
				p.log().Debug("telemetry history pruned", "sink", s.Name(), "rows", n, "before", before)
			}
		}
	})
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Edges:       p.edges.Load(),
		Diagnostics: p.diagnostics.Load(),
		SinkErrors:  p.sinkErrors.Load(),
		Pruned:      p.pruned.Load(),
		Pending:     p.queue.Len(),
	}
}
