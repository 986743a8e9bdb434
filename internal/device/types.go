package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// Class identifies a kind of device. At most one session per class is live.
type Class string

// Supported device classes.
const (
	TouchPanel Class = "touch_panel"
	ButtonRing Class = "button_ring"
	LEDDevice  Class = "led_device"
)

// Classes returns every supported class.
func Classes() []Class {
	return []Class{TouchPanel, ButtonRing, LEDDevice}
}

// ParseClass resolves a class name.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Classes(), c) {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidClass, s)
}

// Namespace returns the zone namespace read by the class, or nil for output
// only classes.
func (c Class) Namespace() *zone.Namespace {
	switch c {
	case TouchPanel:
		return zone.TouchPanel
	case ButtonRing:
		return zone.ButtonRing
	default:
		return nil
	}
}

// ReadErrorKind returns the diagnostic kind used for malformed reads of the
// class.
func (c Class) ReadErrorKind() diagnostic.Kind {
	if c == TouchPanel {
		return diagnostic.TouchPanelDeviceReadError
	}
	return diagnostic.SerialDeviceReadError
}

// State is the connection state of one device class.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
	ConnectionError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionError:
		return "connection_error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Well-known property keys.
const (
	PropComPort        = "ComPort"
	PropAddress        = "Address"
	PropDebounceTimeMs = "DebounceTimeMs"
	PropPollingRateMs  = "PollingRateMs"
	PropLEDCount       = "LedCount"
)

// Properties are string-valued device settings.
type Properties map[string]string

// Clone returns a copy of p.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	maps.Copy(out, p)
	return out
}

// Merge returns a new map holding p overlaid with over.
func (p Properties) Merge(over Properties) Properties {
	out := p.Clone()
	maps.Copy(out, over)
	return out
}

// String returns the value for key, or def when unset or blank.
func (p Properties) String(key, def string) string {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def
	}
	return v
}

// Int parses a non-negative integer property. Unset or blank returns def.
func (p Properties) Int(key string, def int) (int, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q must be a non-negative integer", ErrInvalidProperty, key, v)
	}
	return n, nil
}

// Millis parses a millisecond property into a duration.
func (p Properties) Millis(key string, def time.Duration) (time.Duration, error) {
	n, err := p.Int(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Callback receives an accepted edge on the class's read goroutine, or on a
// settle timer for a held transition. It must only enqueue work.
type Callback func(id zone.ID, state zone.InputState)

// Subscriptions maps every zone of a class namespace to its callback.
type Subscriptions map[zone.ID]Callback

// Notice is a lifecycle message reported by a worker, such as a firmware
// debug line.
type Notice struct {
	Kind    diagnostic.Kind
	Message string
}

// Reading is one item yielded by a worker: either an edge or a notice.
type Reading struct {
	Zone   zone.ID
	State  zone.InputState
	Notice *Notice
}

// Driver opens workers for one configured device.
type Driver interface {
	// Name is the device name used by Connect.
	Name() string

	// Class is the device class the driver serves.
	Class() Class

	// DefaultProperties returns the properties used when the caller sets none.
	DefaultProperties() Properties

	// Open validates props and starts talking to the device. Property
	// failures wrap ErrInvalidProperty.
	Open(ctx context.Context, props Properties) (Worker, error)
}

// Worker is a live connection to a device.
//
// Read blocks until the next reading or fault. A *ReadError with Fatal false
// is recoverable; any other error ends the session. Close must unblock a
// pending Read and be safe to call more than once.
type Worker interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// Edge is an accepted zone transition, as observed by taps.
type Edge struct {
	SessionID string          `json:"session_id"`
	Device    string          `json:"device"`
	Class     Class           `json:"class"`
	Zone      zone.ID         `json:"zone"`
	State     zone.InputState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}
