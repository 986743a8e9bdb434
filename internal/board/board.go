// Package board is the host side of the bridge: it owns one indicator per
// input zone and the diagnostic log, and wires them to the device
// orchestrator.
//
// Device goroutines never touch indicators or the log directly. Every zone
// callback and diagnostic handler built here only enqueues an action; the
// consumer loop applies it. Reads from other goroutines go through
// consumer.Loop.Query.
//
// Typical wiring:
//
//	b, _ := board.New(board.Config{Scene: scene, Queue: q, Log: log})
//	orch := device.NewOrchestrator(device.Config{Zones: b.Zones()})
//	b.Attach(orch, devices)
//	b.Connect(ctx)
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/eventqueue"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
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

// Orchestrator is the subset of *device.Orchestrator the board drives.
type Orchestrator interface {
	Register(d device.Driver) error
	Connect(ctx context.Context, deviceName string, props device.Properties, subs device.Subscriptions) error
	Destroy()
	SubscribeToEvents(handlers map[diagnostic.Kind]diagnostic.Handler)
	DeviceProperties(class device.Class) (device.Properties, error)
}

// Device is a driver plus the properties the board connects it with.
type Device struct {
	Driver     device.Driver
	Properties device.Properties
}

// Config holds board dependencies.
type Config struct {
	// Scene is the indicator layout. Default: DefaultScene().
	Scene *Scene

	// Queue carries actions to the consumer goroutine. Required.
	Queue *eventqueue.Queue

	// Log receives diagnostic lines. Required.
	Log *diagnostic.Log

	// Clock stamps indicator changes. Default: time.Now.
	Clock func() time.Time
}

// Board holds the indicators, the zone registry that maps zones to them, and
// the devices to connect.
type Board struct {
	queue *eventqueue.Queue
	log   *diagnostic.Log
	zones *zone.Registry[*Indicator]

	// indicators in layout order: touch first, then button.
	indicators []*Indicator

	mu      sync.Mutex
	orch    Orchestrator
	devices []Device

	logger Logger
}

// New builds the indicators of the scene and registers both input
// namespaces. Every zone must have exactly one indicator.
func New(cfg Config) (*Board, error) {
	if cfg.Queue == nil {
		return nil, errors.New("board: queue is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("board: log is required")
	}
	if cfg.Scene == nil {
		cfg.Scene = DefaultScene()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	b := &Board{
		queue:  cfg.Queue,
		log:    cfg.Log,
		zones:  zone.NewRegistry[*Indicator](),
		logger: noopLogger{},
	}

	groups := []struct {
		ns    *zone.Namespace
		specs []IndicatorSpec
	}{
		{zone.TouchPanel, cfg.Scene.Touch},
		{zone.ButtonRing, cfg.Scene.Button},
	}
	for _, g := range groups {
		inds := make([]*Indicator, 0, len(g.specs))
		for _, spec := range g.specs {
			inds = append(inds, newIndicator(g.ns.Name(), spec, cfg.Clock))
		}
		byName, err := zone.IndexByName(inds, (*Indicator).Zone)
		if err != nil {
			return nil, fmt.Errorf("indexing %s indicators: %w", g.ns.Name(), err)
		}
		if err := b.zones.Register(g.ns, byName); err != nil {
			return nil, fmt.Errorf("registering %s zones: %w", g.ns.Name(), err)
		}
		for _, id := range g.ns.Zones() {
			b.indicators = append(b.indicators, byName[id.Name])
		}
	}
	return b, nil
}

// SetLogger sets the logger for connection and diagnostic messages.
func (b *Board) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
}

func (b *Board) getLogger() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

// Zones returns the registry to hand to device.Config.Zones.
func (b *Board) Zones() *zone.Registry[*Indicator] {
	return b.zones
}

// Subscriptions builds a callback for every zone of class that enqueues
// indicator.SetActive(state == On). Classes without zones get nil.
func (b *Board) Subscriptions(class device.Class) (device.Subscriptions, error) {
	ns := class.Namespace()
	if ns == nil {
		return nil, nil
	}
	subs := make(device.Subscriptions, ns.Len())
	for _, id := range ns.Zones() {
		ind, err := b.zones.Lookup(id)
		if err != nil {
			return nil, err
		}
		subs[id] = func(_ zone.ID, state zone.InputState) {
			b.queue.Enqueue(func() {
				ind.SetActive(state == zone.On)
			})
		}
	}
	return subs, nil
}

// EventHandlers returns a handler for every diagnostic kind. Each logs the
// formatted text and enqueues an append to the diagnostic log.
func (b *Board) EventHandlers() map[diagnostic.Kind]diagnostic.Handler {
	handle := func(kind diagnostic.Kind, deviceClass, message string) {
		b.getLogger().Info("device event", "text", diagnostic.Format(kind, deviceClass, message))
		b.queue.Enqueue(func() {
			b.log.Append(kind, deviceClass, message)
		})
	}

	handlers := make(map[diagnostic.Kind]diagnostic.Handler)
	for _, k := range diagnostic.AllKinds() {
		handlers[k] = handle
	}
	return handlers
}

// Attach registers devices with o. A device whose registration fails is
// skipped and reported in the joined error; the rest stay attached.
func (b *Board) Attach(o Orchestrator, devices []Device) error {
	var errs []error
	attached := make([]Device, 0, len(devices))
	for _, d := range devices {
		if err := o.Register(d.Driver); err != nil {
			errs = append(errs, fmt.Errorf("registering %s: %w", d.Driver.Name(), err))
			continue
		}
		attached = append(attached, d)
	}

	b.mu.Lock()
	b.orch = o
	b.devices = attached
	b.mu.Unlock()
	return errors.Join(errs...)
}

// ConnectError reports one device Connect could not connect.
type ConnectError struct {
	Device string
	Class  device.Class
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting %s: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Rejected returns the per-device failures carried by an error from Connect,
// in device order.
func Rejected(err error) []*ConnectError {
	if err == nil {
		return nil
	}
	var out []*ConnectError
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		var ce *ConnectError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	return out
}

// Connect tears down every session, installs the diagnostic handlers and
// connects each attached device in order. A device that fails validation is
// reported and skipped; the batch continues with the next class.
func (b *Board) Connect(ctx context.Context) error {
	b.mu.Lock()
	o := b.orch
	devices := append([]Device(nil), b.devices...)
	b.mu.Unlock()

	if o == nil {
		return errors.New("board: no orchestrator attached")
	}
	logger := b.getLogger()

	o.Destroy()
	o.SubscribeToEvents(b.EventHandlers())

	var errs []error
	for _, d := range devices {
		name, class := d.Driver.Name(), d.Driver.Class()

		subs, err := b.Subscriptions(class)
		if err == nil {
			err = o.Connect(ctx, name, d.Properties, subs)
		}
		if err != nil {
			err = &ConnectError{Device: name, Class: class, Err: err}
			errs = append(errs, err)
			logger.Warn("device connect rejected", "device", name, "class", string(class), "error", err)

			line := err.Error()
			b.queue.Enqueue(func() { b.log.AppendText(line) })
			continue
		}

		if props, err := o.DeviceProperties(class); err == nil {
			logger.Debug("device properties", "device", name, "properties", props)
		}
	}
	return errors.Join(errs...)
}

// Indicators returns a copy of every indicator in layout order. It must run
// on the consumer goroutine.
func (b *Board) Indicators() []IndicatorState {
	out := make([]IndicatorState, len(b.indicators))
	for i, ind := range b.indicators {
		out[i] = ind.state()
	}
	return out
}

// Log returns the diagnostic log. Its methods must run on the consumer
// goroutine.
func (b *Board) Log() *diagnostic.Log {
	return b.log
}
