package diagnostic

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
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

// Stats holds dispatcher counters.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Panics     uint64 `json:"panics"`
}

// Dispatcher routes events to the handler subscribed for their kind.
//
// Thread Safety:
//   - Subscribe and Dispatch are safe for concurrent use.
//   - Handlers run on the goroutine that calls Dispatch.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler

	// observer sees every event, matched or not, before the handler runs.
	observer func(Event)

	logger Logger

	dispatched atomic.Uint64
	dropped    atomic.Uint64
	panics     atomic.Uint64
}

// NewDispatcher creates a dispatcher with an empty routing table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Kind]Handler),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used to report handler panics.
func (d *Dispatcher) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
}

// SetObserver installs a function called with every dispatched event,
// including unmatched ones. It must not block.
func (d *Dispatcher) SetObserver(fn func(Event)) {
	d.mu.Lock()
	d.observer = fn
	d.mu.Unlock()
}

// Subscribe replaces the routing table. The map is copied; nil handlers and
// unknown kinds are ignored.
func (d *Dispatcher) Subscribe(table map[Kind]Handler) {
	next := make(map[Kind]Handler, len(table))
	for k, h := range table {
		if h == nil || !k.Valid() {
			continue
		}
		next[k] = h
	}

	d.mu.Lock()
	d.handlers = next
	d.mu.Unlock()
}

// Subscribed returns the kinds that currently have a handler.
func (d *Dispatcher) Subscribed() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Kind, 0, len(d.handlers))
	for _, k := range allKinds {
		if _, ok := d.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Dispatch invokes the handler for ev.Kind. It returns false when no handler
// is subscribed, in which case the event is dropped. A panicking handler is
// recovered and logged; Dispatch still returns true.
func (d *Dispatcher) Dispatch(ev Event) bool {
	d.mu.RLock()
	h, ok := d.handlers[ev.Kind]
	observer := d.observer
	logger := d.logger
	d.mu.RUnlock()

	if observer != nil {
		observer(ev)
	}

	if !ok {
		d.dropped.Add(1)
		return false
	}

	d.dispatched.Add(1)
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.panics.Add(1)
				logger.Error("diagnostic handler panic",
					"kind", string(ev.Kind),
					"device_class", ev.DeviceClass,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		h(ev.Kind, ev.DeviceClass, ev.Message)
	}()
	return true
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Panics:     d.panics.Load(),
	}
}
