// Package consumer drives the single goroutine that owns externally visible
// state (indicator handles, the log surface).
//
// Each Tick drains the event queue once and runs every action synchronously,
// in enqueue order, before returning. Actions are expected to be short state
// mutations; a panicking action is recovered and logged so that one bad
// action cannot take the rest of the batch with it.
//
// Other goroutines that need to read consumer-owned state use Query, which
// enqueues the read and waits for the consumer to run it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/eventqueue"
)

// DefaultInterval is the tick interval used when Run is given none.
const DefaultInterval = 16 * time.Millisecond

var (
	// ErrTickInProgress is returned when Tick is re-entered.
	ErrTickInProgress = errors.New("consumer: tick already in progress")

	// ErrStopped is returned by Query once Run has exited.
	ErrStopped = errors.New("consumer: loop stopped")
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds loop counters.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Actions uint64 `json:"actions"`
	Panics  uint64 `json:"panics"`
	Pending int    `json:"pending"`
}

// Loop applies queued actions on one owning goroutine.
//
// Thread Safety:
//   - Tick must be called from one goroutine at a time; overlapping calls
//     fail with ErrTickInProgress.
//   - Query and Stats are safe from any goroutine except the consumer's own.
type Loop struct {
	queue  *eventqueue.Queue
	logger Logger

	ticking atomic.Bool

	stopped  chan struct{}
	stopOnce sync.Once

	ticks   atomic.Uint64
	actions atomic.Uint64
	panics  atomic.Uint64
}

// New creates a loop over q.
func New(q *eventqueue.Queue) *Loop {
	return &Loop{
		queue:   q,
		logger:  noopLogger{},
		stopped: make(chan struct{}),
	}
}

// SetLogger sets the logger used to report action panics.
func (l *Loop) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

// Queue returns the queue the loop drains.
func (l *Loop) Queue() *eventqueue.Queue {
	return l.queue
}

// Tick drains the queue once and runs every action in order. Actions
// enqueued while the batch runs are left for the next Tick. It returns the
// number of actions executed.
func (l *Loop) Tick() (int, error) {
	if !l.ticking.CompareAndSwap(false, true) {
		return 0, ErrTickInProgress
	}
	defer l.ticking.Store(false)

	batch := l.queue.Drain()
	for i, a := range batch {
		batch[i] = nil
		l.run(a)
	}

	l.ticks.Add(1)
	l.actions.Add(uint64(len(batch)))
	return len(batch), nil
}

func (l *Loop) run(a eventqueue.Action) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("queued action panic",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	a()
}

// Run ticks every interval until ctx is cancelled, then performs one final
// drain so that effects queued before shutdown are applied.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	defer l.stopOnce.Do(func() { close(l.stopped) })

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("consumer loop started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			n, err := l.Tick()
			if err != nil {
				return err
			}
			l.logger.Info("consumer loop stopped", "final_actions", n)
			return nil
		case <-ticker.C:
			if _, err := l.Tick(); err != nil {
				return err
			}
		}
	}
}

// Query runs fn on the consumer goroutine and waits for it to finish. If ctx
// ends first Query returns its error, and fn may still run on a later tick.
// Query must not be called from inside an action.
func (l *Loop) Query(ctx context.Context, fn func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}

	done := make(chan struct{})
	l.queue.Enqueue(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer query: %w", ctx.Err())
	case <-l.stopped:
		// The final drain may have run it.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:   l.ticks.Load(),
		Actions: l.actions.Load(),
		Panics:  l.panics.Load(),
		Pending: l.queue.Len(),
	}
}
