package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/eventqueue"
)

type mockLogger struct {
	mu     sync.Mutex
	errors int
}

func (m *mockLogger) Debug(string, ...any) {}
func (m *mockLogger) Info(string, ...any)  {}
func (m *mockLogger) Warn(string, ...any)  {}
func (m *mockLogger) Error(string, ...any) {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func TestTick_RunsBatchInOrder(t *testing.T) {
	q := eventqueue.New()
	l := New(q)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() { got = append(got, i) })
	}

	n, err := l.Tick()
	if err != nil || n != 5 {
		t.Fatalf("Tick() = %d, %v", n, err)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d", i, v)
		}
	}
	if s := l.Stats(); s.Ticks != 1 || s.Actions != 5 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestTick_PanicIsolated(t *testing.T) {
	q := eventqueue.New()
	l := New(q)
	log := &mockLogger{}
	l.SetLogger(log)

	ran := false
	q.Enqueue(func() { panic("indicator gone") })
	q.Enqueue(func() { ran = true })

	if _, err := l.Tick(); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("action after panic did not run")
	}
	if l.Stats().Panics != 1 || log.errors != 1 {
		t.Errorf("panics=%d logged=%d", l.Stats().Panics, log.errors)
	}
}

func TestTick_Reentrant(t *testing.T) {
	q := eventqueue.New()
	l := New(q)

	var inner error
	q.Enqueue(func() { _, inner = l.Tick() })
	if _, err := l.Tick(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, ErrTickInProgress) {
		t.Errorf("nested Tick() error = %v, want ErrTickInProgress", inner)
	}
}

func TestRun_FinalDrain(t *testing.T) {
	q := eventqueue.New()
	l := New(q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applied := false
	q.Enqueue(func() { applied = true })

	// A cancelled context still gets the final drain.
	if err := l.Run(ctx, time.Hour); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !applied {
		t.Error("final drain did not run queued action")
	}
	if err := l.Query(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Query() after Run() error = %v, want ErrStopped", err)
	}
}

func TestQuery_RunsOnConsumer(t *testing.T) {
	q := eventqueue.New()
	l := New(q)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- l.Run(ctx, time.Millisecond) }()

	state := 0
	q.Enqueue(func() { state = 42 })

	var read int
	qctx, qcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer qcancel()
	if err := l.Query(qctx, func() { read = state }); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if read != 42 {
		t.Errorf("read = %d, want 42", read)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestQuery_ContextTimeout(t *testing.T) {
	l := New(eventqueue.New())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Query(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Query() error = %v, want DeadlineExceeded", err)
	}
}
