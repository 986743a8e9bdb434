package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

func read(t *testing.T, w device.Worker) (device.Reading, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return w.Read(ctx)
}

func TestDriver_InjectAndRead(t *testing.T) {
	d := New("ring", device.ButtonRing)
	if err := d.Press("BA3"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Press() before Open error = %v, want ErrNotOpen", err)
	}

	w, err := d.Open(context.Background(), d.DefaultProperties())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	if err := d.Press("BA3"); err != nil {
		t.Fatal(err)
	}
	r, err := read(t, w)
	if err != nil {
		t.Fatal(err)
	}
	if r.Zone != zone.ButtonRing.ID("BA3") || r.State != zone.On {
		t.Errorf("Read() = %+v", r)
	}

	if err := d.Notify(diagnostic.Debug, "hello"); err != nil {
		t.Fatal(err)
	}
	r, _ = read(t, w)
	if r.Notice == nil || r.Notice.Message != "hello" {
		t.Errorf("Read() notice = %+v", r.Notice)
	}

	if err := d.Fault("garbled", false); err != nil {
		t.Fatal(err)
	}
	_, err = read(t, w)
	var rerr *device.ReadError
	if !errors.As(err, &rerr) || rerr.Fatal || rerr.Kind != diagnostic.SerialDeviceReadError {
		t.Errorf("Read() error = %v", err)
	}
}

func TestWorker_CloseUnblocksRead(t *testing.T) {
	d := New("panel", device.TouchPanel)
	w, err := d.Open(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := w.Read(context.Background())
		errc <- err
	}()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, device.ErrWorkerClosed) {
			t.Errorf("Read() error = %v, want ErrWorkerClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not unblock Read()")
	}
	if err := d.Release("A1"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Release() after Close error = %v", err)
	}
}

func TestDriver_OpenFailures(t *testing.T) {
	d := New("panel", device.TouchPanel)
	if _, err := d.Open(context.Background(), device.Properties{PropFailOpen: "COM3 busy"}); err == nil || err.Error() != "COM3 busy" {
		t.Errorf("Open() error = %v", err)
	}
	if _, err := d.Open(context.Background(), device.Properties{device.PropLEDCount: "x"}); !errors.Is(err, device.ErrInvalidProperty) {
		t.Errorf("Open() error = %v, want ErrInvalidProperty", err)
	}
	if d.Opens() != 0 {
		t.Errorf("Opens() = %d", d.Opens())
	}
}

func TestWorker_SetLED(t *testing.T) {
	d := New("strip", device.LEDDevice)
	w, err := d.Open(context.Background(), d.DefaultProperties())
	if err != nil {
		t.Fatal(err)
	}
	led := w.(*Worker)
	blue := device.Color{B: 0xff}

	if err := led.SetLED(context.Background(), 15, blue); err != nil {
		t.Fatalf("SetLED() error = %v", err)
	}
	if led.LEDs()[15] != blue {
		t.Error("LED 15 not set")
	}
	if err := led.SetLED(context.Background(), 16, blue); !errors.Is(err, device.ErrLEDIndex) {
		t.Errorf("SetLED(16) error = %v, want ErrLEDIndex", err)
	}
}
