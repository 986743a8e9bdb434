package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/consumer"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iobridge/internal/journal"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

type mockSink struct {
	name string
	err  error
	boom bool

	mu     sync.Mutex
	events []string
	stats  []consumer.Stats
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) WriteEdge(_ context.Context, e device.Edge) error {
	if m.boom {
		panic("sink exploded")
	}
	m.mu.Lock()
	m.events = append(m.events, "edge:"+e.Zone.Name+":"+e.State.String())
	m.mu.Unlock()
	return m.err
}

func (m *mockSink) WriteDiagnostic(_ context.Context, ev diagnostic.Event) error {
	m.mu.Lock()
	m.events = append(m.events, "diag:"+string(ev.Kind))
	m.mu.Unlock()
	return m.err
}

func (m *mockSink) WriteLoopStats(_ context.Context, s consumer.Stats) error {
	m.mu.Lock()
	m.stats = append(m.stats, s)
	m.mu.Unlock()
	return nil
}

func (m *mockSink) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *mockSink) statCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stats)
}

type mockLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *mockLogger) Debug(string, ...any) {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func edge(name string, s zone.InputState) device.Edge {
	return device.Edge{
		SessionID: "s-1",
		Device:    "ring",
		Class:     device.ButtonRing,
		Zone:      zone.ButtonRing.ID(name),
		State:     s,
		Timestamp: at,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPipeline_FanOutInOrder(t *testing.T) {
	a := &mockSink{name: "a"}
	b := &mockSink{name: "b"}
	p := New(Config{}, a, nil, b)

	if got := p.Sinks(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Sinks() = %v", got)
	}

	p.ObserveEdge(edge("BA1", zone.On))
	p.ObserveDiagnostic(diagnostic.Event{Kind: diagnostic.Attach, DeviceClass: "button_ring"})
	p.ObserveEdge(edge("BA1", zone.Off))

	if st := p.Stats(); st.Pending != 3 {
		t.Errorf("Pending before flush = %d", st.Pending)
	}
	p.Flush()

	want := []string{"edge:BA1:on", "diag:Attach", "edge:BA1:off"}
	for _, s := range []*mockSink{a, b} {
		got := s.seen()
		if len(got) != len(want) {
			t.Fatalf("sink %s saw %v", s.name, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sink %s event %d = %q, want %q", s.name, i, got[i], want[i])
			}
		}
	}

	st := p.Stats()
	if st.Edges != 2 || st.Diagnostics != 1 || st.Pending != 0 || st.SinkErrors != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPipeline_FailingSinkDoesNotStopOthers(t *testing.T) {
	bad := &mockSink{name: "bad", err: errors.New("disk full")}
	good := &mockSink{name: "good"}
	logger := &mockLogger{}
	p := New(Config{}, bad, good)
	p.SetLogger(logger)

	p.ObserveEdge(edge("BA2", zone.On))
	p.Flush()

	if len(good.seen()) != 1 {
		t.Errorf("good sink saw %v", good.seen())
	}
	if p.Stats().SinkErrors != 1 {
		t.Errorf("SinkErrors = %d", p.Stats().SinkErrors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v", logger.warns)
	}
}

func TestPipeline_PanickingSinkIsRecovered(t *testing.T) {
	logger := &mockLogger{}
	p := New(Config{}, &mockSink{name: "boom", boom: true})
	p.SetLogger(logger)

	p.ObserveEdge(edge("BA3", zone.On))
	p.ObserveDiagnostic(diagnostic.Event{Kind: diagnostic.Debug})
	p.Flush()

	if p.Stats().SinkErrors != 1 {
		t.Errorf("SinkErrors = %d", p.Stats().SinkErrors)
	}
	if len(logger.errs) != 1 {
		t.Errorf("errors logged = %v", logger.errs)
	}
}

func TestPipeline_RunDeliversAndDrainsOnCancel(t *testing.T) {
	sink := &mockSink{name: "s"}
	p := New(Config{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.ObserveEdge(edge("Select", zone.On))
	waitFor(t, func() bool { return len(sink.seen()) == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	p.ObserveEdge(edge("Select", zone.Off))
	p.Flush()
	if got := sink.seen(); len(got) != 2 {
		t.Errorf("sink saw %v", got)
	}
}

func TestPipeline_LoopStats(t *testing.T) {
	sink := &mockSink{name: "stats"}
	plain := &plainSink{}
	p := New(Config{
		LoopStats:     func() consumer.Stats { return consumer.Stats{Ticks: 7} },
		StatsInterval: 5 * time.Millisecond,
	}, plain, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	waitFor(t, func() bool { return sink.statCount() >= 2 })
}

func TestPipeline_PrunesJournal(t *testing.T) {
	repo := &mockRepo{}
	p := New(Config{
		Retention:     24 * time.Hour,
		PruneInterval: 5 * time.Millisecond,
	}, plainSink{}, NewJournalSink(repo))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go func() { _ = p.Run(ctx) }()

	waitFor(t, func() bool { return len(repo.pruneCalls()) >= 2 })
	cutoff := repo.pruneCalls()[0]
	if cutoff.After(start.Add(-24*time.Hour).Add(time.Second)) || cutoff.Before(start.Add(-24*time.Hour).Add(-time.Second)) {
		t.Errorf("first cutoff = %v, want about 24h before %v", cutoff, start)
	}
	waitFor(t, func() bool { return p.Stats().Pruned >= 6 })
}

func TestPipeline_PruneFailureCounted(t *testing.T) {
	repo := &mockRepo{pruneErr: errors.New("disk full")}
	logger := &mockLogger{}
	p := New(Config{Retention: time.Hour, PruneInterval: time.Hour}, NewJournalSink(repo))
	p.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return len(repo.pruneCalls()) == 1 })
	cancel()
	<-done

	if st := p.Stats(); st.SinkErrors != 1 || st.Pruned != 0 {
		t.Errorf("stats = %+v, want 1 sink error and nothing pruned", st)
	}
}

func TestPipeline_NoRetentionKeepsHistory(t *testing.T) {
	repo := &mockRepo{}
	p := New(Config{PruneInterval: time.Millisecond}, NewJournalSink(repo))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	if n := len(repo.pruneCalls()); n != 0 {
		t.Errorf("Prune called %d times with retention off", n)
	}
}

// plainSink does not implement StatsSink.
type plainSink struct{}

func (plainSink) Name() string                                            { return "plain" }
func (plainSink) WriteEdge(context.Context, device.Edge) error            { return nil }
func (plainSink) WriteDiagnostic(context.Context, diagnostic.Event) error { return nil }

type mockRepo struct {
	journal.Repository
	diags []*journal.Diagnostic
	edges []*journal.Edge

	mu       sync.Mutex
	cutoffs  []time.Time
	pruneErr error
}

func (m *mockRepo) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, before)
	if m.pruneErr != nil {
		return 0, m.pruneErr
	}
	return 3, nil
}

func (m *mockRepo) pruneCalls() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.cutoffs...)
}

func (m *mockRepo) RecordDiagnostic(_ context.Context, d *journal.Diagnostic) error {
	m.diags = append(m.diags, d)
	return nil
}

func (m *mockRepo) RecordEdge(_ context.Context, e *journal.Edge) error {
	m.edges = append(m.edges, e)
	return nil
}

func TestJournalSink(t *testing.T) {
	repo := &mockRepo{}
	s := NewJournalSink(repo)

	if err := s.WriteEdge(context.Background(), edge("BA4", zone.On)); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteDiagnostic(context.Background(), diagnostic.Event{
		Kind: diagnostic.ConnectionError, DeviceClass: "touch_panel", Message: "COM3 busy", Timestamp: at,
	}); err != nil {
		t.Fatal(err)
	}

	e := repo.edges[0]
	if e.Zone != "BA4" || e.State != "on" || e.DeviceClass != "button_ring" || e.SessionID != "s-1" || !e.At.Equal(at) {
		t.Errorf("edge = %+v", e)
	}
	d := repo.diags[0]
	if d.Kind != "ConnectionError" || d.DeviceClass != "touch_panel" || d.Message != "COM3 busy" {
		t.Errorf("diagnostic = %+v", d)
	}
}

type published struct {
	topic    string
	v        any
	retained bool
}

type mockPublisher struct {
	msgs []published
	err  error
}

func (m *mockPublisher) PublishJSON(topic string, v any, retained bool) error {
	m.msgs = append(m.msgs, published{topic, v, retained})
	return m.err
}

func TestMQTTSink(t *testing.T) {
	tests := []struct {
		name         string
		write        func(s *MQTTSink) error
		wantTopic    string
		wantRetained bool
	}{
		{
			name:         "edge is retained zone state",
			write:        func(s *MQTTSink) error { return s.WriteEdge(context.Background(), edge("BA5", zone.Off)) },
			wantTopic:    "iobridge/state/button_ring/BA5",
			wantRetained: true,
		},
		{
			name: "diagnostic by class",
			write: func(s *MQTTSink) error {
				return s.WriteDiagnostic(context.Background(), diagnostic.Event{Kind: diagnostic.Detach, DeviceClass: "touch_panel"})
			},
			wantTopic: "iobridge/diagnostic/touch_panel",
		},
		{
			name: "diagnostic without class",
			write: func(s *MQTTSink) error {
				return s.WriteDiagnostic(context.Background(), diagnostic.Event{Kind: diagnostic.Debug})
			},
			wantTopic: "iobridge/diagnostic/system",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			if err := tt.write(NewMQTTSink(pub)); err != nil {
				t.Fatal(err)
			}
			if len(pub.msgs) != 1 {
				t.Fatalf("published %d messages", len(pub.msgs))
			}
			m := pub.msgs[0]
			if m.topic != tt.wantTopic || m.retained != tt.wantRetained {
				t.Errorf("published to %s retained=%v", m.topic, m.retained)
			}
		})
	}
}

func TestMQTTSink_EdgePayload(t *testing.T) {
	pub := &mockPublisher{}
	if err := NewMQTTSink(pub).WriteEdge(context.Background(), edge("BA6", zone.On)); err != nil {
		t.Fatal(err)
	}
	msg, ok := pub.msgs[0].v.(ZoneStateMessage)
	if !ok {
		t.Fatalf("payload type %T", pub.msgs[0].v)
	}
	if msg.State != "on" || msg.Zone != "BA6" || msg.Device != "ring" {
		t.Errorf("payload = %+v", msg)
	}
}

func TestMQTTSink_PublishErrorPropagates(t *testing.T) {
	pub := &mockPublisher{err: errors.New("not connected")}
	if err := NewMQTTSink(pub).WriteEdge(context.Background(), edge("BA7", zone.On)); err == nil {
		t.Error("WriteEdge() error = nil")
	}
}

type mockInflux struct {
	edges []string
	diags []string
	stats []uint64
}

func (m *mockInflux) WriteZoneEdge(device, class, zone string, on bool, _ time.Time) {
	state := "off"
	if on {
		state = "on"
	}
	m.edges = append(m.edges, device+"/"+class+"/"+zone+"/"+state)
}

func (m *mockInflux) WriteDiagnostic(class, kind, _ string, _ time.Time) {
	m.diags = append(m.diags, class+"/"+kind)
}

func (m *mockInflux) WriteLoopStats(s influxdb.LoopSample, _ time.Time) {
	m.stats = append(m.stats, s.Ticks)
}

func TestInfluxSink(t *testing.T) {
	w := &mockInflux{}
	s := NewInfluxSink(w)
	ctx := context.Background()

	_ = s.WriteEdge(ctx, edge("BA8", zone.On))
	_ = s.WriteDiagnostic(ctx, diagnostic.Event{Kind: diagnostic.Attach, DeviceClass: "button_ring"})
	_ = s.WriteLoopStats(ctx, consumer.Stats{Ticks: 42})

	if len(w.edges) != 1 || w.edges[0] != "ring/button_ring/BA8/on" {
		t.Errorf("edges = %v", w.edges)
	}
	if len(w.diags) != 1 || w.diags[0] != "button_ring/Attach" {
		t.Errorf("diagnostics = %v", w.diags)
	}
	if len(w.stats) != 1 || w.stats[0] != 42 {
		t.Errorf("stats = %v", w.stats)
	}
}

type mockBroadcaster struct {
	channels []string
	payloads []any
}

func (m *mockBroadcaster) Broadcast(channel string, payload any) {
	m.channels = append(m.channels, channel)
	m.payloads = append(m.payloads, payload)
}

func TestBroadcastSink(t *testing.T) {
	b := &mockBroadcaster{}
	s := NewBroadcastSink(b)
	ctx := context.Background()

	_ = s.WriteEdge(ctx, edge("InsertCoin", zone.On))
	_ = s.WriteDiagnostic(ctx, diagnostic.Event{
		Kind: diagnostic.Debug, DeviceClass: "button_ring", Message: " hi ", Timestamp: at.Add(5 * time.Millisecond),
	})

	if len(b.channels) != 2 || b.channels[0] != ChannelZoneEdge || b.channels[1] != ChannelDiagnostic {
		t.Fatalf("channels = %v", b.channels)
	}
	diag, ok := b.payloads[1].(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", b.payloads[1])
	}
	want := "12:00:00:005 - eventType: Debug type: button_ring message: hi"
	if diag["text"] != want {
		t.Errorf("text = %q, want %q", diag["text"], want)
	}
}
