package device

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

type readResult struct {
	reading Reading
	err     error
}

// mockWorker yields whatever the test pushes until closed.
type mockWorker struct {
	readings chan readResult
	closed   chan struct{}
	once     sync.Once
	closes   atomic.Int32

	mu   sync.Mutex
	leds map[int]Color
}

func newMockWorker() *mockWorker {
	return &mockWorker{
		readings: make(chan readResult, 64),
		closed:   make(chan struct{}),
		leds:     make(map[int]Color),
	}
}

func (w *mockWorker) Read(ctx context.Context) (Reading, error) {
	select {
	case r := <-w.readings:
		return r.reading, r.err
	case <-w.closed:
		return Reading{}, ErrWorkerClosed
	}
}

func (w *mockWorker) Close() error {
	w.closes.Add(1)
	w.once.Do(func() { close(w.closed) })
	return nil
}

func (w *mockWorker) SetLED(_ context.Context, index int, c Color) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leds[index] = c
	return nil
}

func (w *mockWorker) edge(id zone.ID, s zone.InputState) {
	w.readings <- readResult{reading: Reading{Zone: id, State: s}}
}

func (w *mockWorker) fault(err error) {
	w.readings <- readResult{err: err}
}

// readOnlyWorker hides the LED capability of a mockWorker.
type readOnlyWorker struct {
	w *mockWorker
}

func (r readOnlyWorker) Read(ctx context.Context) (Reading, error) { return r.w.Read(ctx) }
func (r readOnlyWorker) Close() error                              { return r.w.Close() }

// mockDriver hands out a fresh worker per Open unless openErr is set.
type mockDriver struct {
	name     string
	class    Class
	defaults Properties
	openErr  error
	readOnly bool

	mu      sync.Mutex
	workers []*mockWorker
	props   []Properties
}

func (d *mockDriver) Name() string                  { return d.name }
func (d *mockDriver) Class() Class                  { return d.class }
func (d *mockDriver) DefaultProperties() Properties { return d.defaults.Clone() }

func (d *mockDriver) Open(_ context.Context, props Properties) (Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props = append(d.props, props)
	if d.openErr != nil {
		return nil, d.openErr
	}
	w := newMockWorker()
	d.workers = append(d.workers, w)
	if d.readOnly {
		return readOnlyWorker{w: w}, nil
	}
	return w, nil
}

func (d *mockDriver) worker(t *testing.T) *mockWorker {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.workers) == 0 {
		t.Fatal("driver was never opened")
	}
	return d.workers[len(d.workers)-1]
}

// zoneSet registers namespaces by pointer.
type zoneSet map[*zone.Namespace]bool

func (z zoneSet) Registered(ns *zone.Namespace) bool { return z[ns] }

// diagRecorder collects every routed diagnostic.
type diagRecorder struct {
	mu     sync.Mutex
	events []diagnostic.Event
}

func (r *diagRecorder) handlers() map[diagnostic.Kind]diagnostic.Handler {
	table := make(map[diagnostic.Kind]diagnostic.Handler)
	for _, k := range diagnostic.AllKinds() {
		table[k] = func(kind diagnostic.Kind, class, msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, diagnostic.Event{Kind: kind, DeviceClass: class, Message: msg})
		}
	}
	return table
}

func (r *diagRecorder) kinds() []diagnostic.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]diagnostic.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *diagRecorder) count(k diagnostic.Kind) int {
	n := 0
	for _, got := range r.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

func (r *diagRecorder) last() diagnostic.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return diagnostic.Event{}
	}
	return r.events[len(r.events)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fullSubs subscribes every zone of ns to fn.
func fullSubs(ns *zone.Namespace, fn Callback) Subscriptions {
	subs := make(Subscriptions, ns.Len())
	for _, id := range ns.Zones() {
		subs[id] = fn
	}
	return subs
}
