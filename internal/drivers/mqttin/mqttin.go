// Package mqttin drives devices that publish their inputs to the MQTT broker.
//
// A device named "ring-1" publishes one message per zone level:
//
//	iobridge/input/ring-1/BA3      payload "on", "off", "1", "0"
//	                               or JSON {"state":"on"}
//	iobridge/input/ring-1/$debug   payload is a debug line
//	iobridge/input/ring-1/$error   payload describes a device-side fault
//
// Malformed topics or payloads become recoverable read faults. Broker
// connection loss is not fatal: the MQTT client reconnects and restores the
// subscription, so the session stays Connected.
package mqttin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// PropTopic overrides the subscription topic. Its last level must be a
// single-level wildcard or a zone name.
const PropTopic = "Topic"

// PropQoS selects the subscription QoS (0, 1 or 2).
const PropQoS = "QoS"

// bufferSize bounds messages waiting for Read.
const bufferSize = 256

// Subscriber is the part of the MQTT client the driver needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Driver opens MQTT subscriptions for one configured device.
type Driver struct {
	name  string
	class device.Class
	sub   Subscriber
}

var _ device.Driver = (*Driver)(nil)

// New creates a driver for a device publishing under iobridge/input/<name>/.
func New(name string, class device.Class, sub Subscriber) *Driver {
	return &Driver{name: name, class: class, sub: sub}
}

// Name implements device.Driver.
func (d *Driver) Name() string { return d.name }

// Class implements device.Driver.
func (d *Driver) Class() device.Class { return d.class }

// DefaultProperties implements device.Driver.
func (d *Driver) DefaultProperties() device.Properties {
	return device.Properties{
		device.PropDebounceTimeMs: "0",
		PropTopic:                 mqtt.Topics{}.DeviceInputs(d.name),
		PropQoS:                   "1",
	}
}

// Open implements device.Driver.
func (d *Driver) Open(_ context.Context, props device.Properties) (device.Worker, error) {
	topic := props.String(PropTopic, mqtt.Topics{}.DeviceInputs(d.name))
	if topic == "" || strings.Contains(topic, "#") {
		return nil, fmt.Errorf("%w: %s %q", device.ErrInvalidProperty, PropTopic, topic)
	}
	qos, err := props.Int(PropQoS, 1)
	if err != nil {
		return nil, err
	}
	if qos > 2 {
		return nil, fmt.Errorf("%w: %s must be 0, 1 or 2", device.ErrInvalidProperty, PropQoS)
	}

	w := &Worker{
		class:    d.class,
		sub:      d.sub,
		topic:    topic,
		messages: make(chan message, bufferSize),
		closed:   make(chan struct{}),
	}
	if err := d.sub.Subscribe(topic, byte(qos), w.handle); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return w, nil
}

type message struct {
	topic   string
	payload []byte
}

// Worker is an open subscription.
//
// Thread Safety:
//   - Read must be called from one goroutine.
//   - Close is safe to call concurrently with Read.
type Worker struct {
	class device.Class
	sub   Subscriber
	topic string

	messages chan message

	mu      sync.Mutex
	dropped int

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ device.Worker = (*Worker)(nil)

// handle runs on the MQTT client's goroutines. It never blocks: when
// Read falls behind, messages are counted and dropped.
func (w *Worker) handle(topic string, payload []byte) error {
	msg := message{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case <-w.closed:
		return nil
	case w.messages <- msg:
		return nil
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		return fmt.Errorf("mqttin: input buffer full, dropped message on %s", topic)
	}
}

func (w *Worker) takeDropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.dropped
	w.dropped = 0
	return n
}

// Read implements device.Worker.
func (w *Worker) Read(ctx context.Context) (device.Reading, error) {
	if n := w.takeDropped(); n > 0 {
		return device.Reading{}, w.malformed(fmt.Errorf("input buffer overflow, %d messages dropped", n))
	}
	select {
	case msg := <-w.messages:
		return w.parse(msg)
	case <-w.closed:
		return device.Reading{}, device.ErrWorkerClosed
	case <-ctx.Done():
		return device.Reading{}, ctx.Err()
	}
}

func (w *Worker) malformed(err error) error {
	return &device.ReadError{Kind: w.class.ReadErrorKind(), Err: err}
}

type statePayload struct {
	State string `json:"state"`
}

func (w *Worker) parse(msg message) (device.Reading, error) {
	level := msg.topic[strings.LastIndexByte(msg.topic, '/')+1:]
	text := strings.TrimSpace(string(msg.payload))

	switch level {
	case "$debug":
		return device.Reading{Notice: &device.Notice{Kind: diagnostic.Debug, Message: text}}, nil
	case "$error":
		return device.Reading{}, w.malformed(errors.New(text))
	}

	ns := w.class.Namespace()
	if ns == nil {
		return device.Reading{}, w.malformed(fmt.Errorf("class %s has no input zones (topic %s)", w.class, msg.topic))
	}
	id, err := ns.Parse(level)
	if err != nil {
		return device.Reading{}, w.malformed(fmt.Errorf("topic %s: %w", msg.topic, err))
	}

	if strings.HasPrefix(text, "{") {
		var p statePayload
		if err := json.Unmarshal(msg.payload, &p); err != nil {
			return device.Reading{}, w.malformed(fmt.Errorf("topic %s: decode payload: %w", msg.topic, err))
		}
		text = p.State
	}
	state, err := zone.ParseInputState(text)
	if err != nil {
		return device.Reading{}, w.malformed(fmt.Errorf("topic %s: %w", msg.topic, err))
	}
	return device.Reading{Zone: id, State: state}, nil
}

// Close implements device.Worker. It unsubscribes and unblocks Read.
// A disconnected broker is not an error: the subscription is already gone.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		if err := w.sub.Unsubscribe(w.topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			w.closeErr = fmt.Errorf("unsubscribe %s: %w", w.topic, err)
		}
	})
	return w.closeErr
}
