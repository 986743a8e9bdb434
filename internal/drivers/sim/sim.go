// Package sim provides an in-process simulated device.
//
// A Driver opens Workers whose readings are injected by the caller with
// Press, Release, Notify and Fault. It is used by tests, by the demo
// configuration and by hosts that want to script input without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// ErrNotOpen is returned when input is injected with no open worker.
var ErrNotOpen = errors.New("sim: device not open")

// PropFailOpen makes Open fail with the property's value as the message.
const PropFailOpen = "FailOpen"

const bufferSize = 256

type result struct {
	reading device.Reading
	err     error
}

// Driver simulates one device of a class.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Driver struct {
	name  string
	class device.Class

	mu     sync.Mutex
	worker *Worker
	opens  int
}

// New creates a simulated device.
func New(name string, class device.Class) *Driver {
	return &Driver{name: name, class: class}
}

// Name implements device.Driver.
func (d *Driver) Name() string { return d.name }

// Class implements device.Driver.
func (d *Driver) Class() device.Class { return d.class }

// DefaultProperties implements device.Driver.
func (d *Driver) DefaultProperties() device.Properties {
	props := device.Properties{device.PropDebounceTimeMs: "0"}
	if d.class == device.LEDDevice {
		props[device.PropLEDCount] = "16"
	}
	return props
}

// Open implements device.Driver.
func (d *Driver) Open(_ context.Context, props device.Properties) (device.Worker, error) {
	if msg := props.String(PropFailOpen, ""); msg != "" {
		return nil, errors.New(msg)
	}
	leds, err := props.Int(device.PropLEDCount, 0)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		ns:      d.class.Namespace(),
		results: make(chan result, bufferSize),
		closed:  make(chan struct{}),
		leds:    make([]device.Color, leds),
	}

	d.mu.Lock()
	d.worker = w
	d.opens++
	d.mu.Unlock()
	return w, nil
}

// Opens returns how many times Open succeeded.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Worker returns the most recently opened worker, or nil.
func (d *Driver) Worker() *Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.worker
}

func (d *Driver) current() (*Worker, error) {
	w := d.Worker()
	if w == nil || w.isClosed() {
		return nil, ErrNotOpen
	}
	return w, nil
}

// Press reports zone name going On.
func (d *Driver) Press(name string) error {
	return d.Set(name, zone.On)
}

// Release reports zone name going Off.
func (d *Driver) Release(name string) error {
	return d.Set(name, zone.Off)
}

// Set reports a zone level. Names outside the class namespace are still
// delivered, so the orchestrator's unknown-zone handling can be exercised.
func (d *Driver) Set(name string, s zone.InputState) error {
	w, err := d.current()
	if err != nil {
		return err
	}
	id := zone.ID{Name: name}
	if w.ns != nil {
		id = w.ns.ID(name)
	}
	return w.push(result{reading: device.Reading{Zone: id, State: s}})
}

// Notify reports a device notice such as a debug line.
func (d *Driver) Notify(kind diagnostic.Kind, message string) error {
	w, err := d.current()
	if err != nil {
		return err
	}
	return w.push(result{reading: device.Reading{Notice: &device.Notice{Kind: kind, Message: message}}})
}

// Fault reports a read fault. A fatal fault ends the session.
func (d *Driver) Fault(message string, fatal bool) error {
	w, err := d.current()
	if err != nil {
		return err
	}
	if fatal {
		return w.push(result{err: fmt.Errorf("sim: %s", message)})
	}
	return w.push(result{err: &device.ReadError{
		Kind: d.class.ReadErrorKind(),
		Err:  errors.New(message),
	}})
}

// Worker is an open simulated connection.
type Worker struct {
	ns      *zone.Namespace
	results chan result

	closeOnce sync.Once
	closed    chan struct{}

	mu   sync.Mutex
	leds []device.Color
}

var (
	_ device.Worker    = (*Worker)(nil)
	_ device.LEDWriter = (*Worker)(nil)
)

func (w *Worker) push(r result) error {
	select {
	case <-w.closed:
		return ErrNotOpen
	case w.results <- r:
		return nil
	}
}

func (w *Worker) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

// Read implements device.Worker.
func (w *Worker) Read(ctx context.Context) (device.Reading, error) {
	select {
	case r := <-w.results:
		return r.reading, r.err
	case <-w.closed:
		return device.Reading{}, device.ErrWorkerClosed
	case <-ctx.Done():
		return device.Reading{}, ctx.Err()
	}
}

// Close implements device.Worker.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

// SetLED implements device.LEDWriter.
func (w *Worker) SetLED(_ context.Context, index int, c device.Color) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.leds) {
		return fmt.Errorf("%w: %d not in [0,%d)", device.ErrLEDIndex, index, len(w.leds))
	}
	w.leds[index] = c
	return nil
}

// LEDs returns a copy of the LED colors.
func (w *Worker) LEDs() []device.Color {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]device.Color, len(w.leds))
	copy(out, w.leds)
	return out
}
