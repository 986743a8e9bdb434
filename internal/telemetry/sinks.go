package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/consumer"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/journal"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// WebSocket channels used by BroadcastSink.
const (
	ChannelZoneEdge   = "zone.edge"
	ChannelDiagnostic = "diagnostic"
)

// JournalSink records edges and diagnostics in the SQLite journal.
type JournalSink struct {
	repo journal.Repository
}

// NewJournalSink creates a sink writing to repo.
func NewJournalSink(repo journal.Repository) *JournalSink {
	return &JournalSink{repo: repo}
}

// Name implements Sink.
func (s *JournalSink) Name() string { return "journal" }

// WriteEdge implements Sink.
func (s *JournalSink) WriteEdge(ctx context.Context, e device.Edge) error {
	return s.repo.RecordEdge(ctx, &journal.Edge{
		SessionID:   e.SessionID,
		Device:      e.Device,
		DeviceClass: string(e.Class),
		Zone:        e.Zone.Name,
		State:       e.State.String(),
		At:          e.Timestamp,
	})
}

// WriteDiagnostic implements Sink.
func (s *JournalSink) WriteDiagnostic(ctx context.Context, ev diagnostic.Event) error {
	return s.repo.RecordDiagnostic(ctx, &journal.Diagnostic{
		Kind:        string(ev.Kind),
		DeviceClass: ev.DeviceClass,
		Message:     ev.Message,
		RaisedAt:    ev.Timestamp,
	})
}

// Prune implements Pruner.
func (s *JournalSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.Prune(ctx, before)
}

// InfluxWriter is the subset of *influxdb.Client used by InfluxSink. Writes
// are batched and asynchronous, so they report no error.
type InfluxWriter interface {
	WriteZoneEdge(device, class, zone string, on bool, at time.Time)
	WriteDiagnostic(class, kind, message string, at time.Time)
	WriteLoopStats(s influxdb.LoopSample, at time.Time)
}

// InfluxSink records edges, diagnostics and loop counters as time series.
type InfluxSink struct {
	w InfluxWriter
}

// NewInfluxSink creates a sink writing to w.
func NewInfluxSink(w InfluxWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// WriteEdge implements Sink.
func (s *InfluxSink) WriteEdge(_ context.Context, e device.Edge) error {
	s.w.WriteZoneEdge(e.Device, string(e.Class), e.Zone.Name, e.State == zone.On, e.Timestamp)
	return nil
}

// WriteDiagnostic implements Sink.
func (s *InfluxSink) WriteDiagnostic(_ context.Context, ev diagnostic.Event) error {
	s.w.WriteDiagnostic(ev.DeviceClass, string(ev.Kind), ev.Message, ev.Timestamp)
	return nil
}

// WriteLoopStats implements StatsSink.
func (s *InfluxSink) WriteLoopStats(_ context.Context, st consumer.Stats) error {
	s.w.WriteLoopStats(influxdb.LoopSample{
		Ticks:   st.Ticks,
		Actions: st.Actions,
		Panics:  st.Panics,
		Pending: st.Pending,
	}, time.Now())
	return nil
}

// Publisher is the subset of *mqtt.Client used by MQTTSink.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// ZoneStateMessage is the retained payload mirrored to
// iobridge/state/{class}/{zone}.
type ZoneStateMessage struct {
	Device    string    `json:"device"`
	SessionID string    `json:"session_id"`
	Zone      string    `json:"zone"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// DiagnosticMessage is the payload published to iobridge/diagnostic/{class}.
type DiagnosticMessage struct {
	Kind        diagnostic.Kind `json:"kind"`
	DeviceClass string          `json:"device_class"`
	Message     string          `json:"message"`
	Text        string          `json:"text"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MQTTSink mirrors zone states and diagnostics onto the broker so other
// systems can follow the bridge without polling the API.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// WriteEdge implements Sink. Zone states are retained.
func (s *MQTTSink) WriteEdge(_ context.Context, e device.Edge) error {
	return s.pub.PublishJSON(s.topics.ZoneState(string(e.Class), e.Zone.Name), ZoneStateMessage{
		Device:    e.Device,
		SessionID: e.SessionID,
		Zone:      e.Zone.Name,
		State:     e.State.String(),
		Timestamp: e.Timestamp.UTC(),
	}, true)
}

// WriteDiagnostic implements Sink.
func (s *MQTTSink) WriteDiagnostic(_ context.Context, ev diagnostic.Event) error {
	class := ev.DeviceClass
	if class == "" {
		class = "system"
	}
	return s.pub.PublishJSON(s.topics.Diagnostic(class), DiagnosticMessage{
		Kind:        ev.Kind,
		DeviceClass: ev.DeviceClass,
		Message:     ev.Message,
		Text:        ev.Text(),
		Timestamp:   ev.Timestamp.UTC(),
	}, false)
}

// Broadcaster is the subset of the WebSocket hub used by BroadcastSink.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// BroadcastSink pushes edges and diagnostics to WebSocket subscribers.
type BroadcastSink struct {
	b Broadcaster
}

// NewBroadcastSink creates a sink broadcasting through b.
func NewBroadcastSink(b Broadcaster) *BroadcastSink {
	return &BroadcastSink{b: b}
}

// Name implements Sink.
func (s *BroadcastSink) Name() string { return "websocket" }

// WriteEdge implements Sink.
func (s *BroadcastSink) WriteEdge(_ context.Context, e device.Edge) error {
	s.b.Broadcast(ChannelZoneEdge, e)
	return nil
}

// WriteDiagnostic implements Sink.
func (s *BroadcastSink) WriteDiagnostic(_ context.Context, ev diagnostic.Event) error {
	s.b.Broadcast(ChannelDiagnostic, map[string]any{
		"kind":         ev.Kind,
		"device_class": ev.DeviceClass,
		"message":      ev.Message,
		"text":         diagnostic.FormatTimestamp(ev.Timestamp) + " - " + ev.Text(),
		"timestamp":    ev.Timestamp,
	})
	return nil
}
