package diagnostic

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a diagnostic event.
type Kind string

// Diagnostic kinds. The string values are part of the external contract.
const (
	Attach                     Kind = "Attach"
	Detach                     Kind = "Detach"
	ConnectionError            Kind = "ConnectionError"
	Debug                      Kind = "Debug"
	SerialDeviceReadError      Kind = "SerialDeviceReadError"
	InvalidDevicePropertyError Kind = "InvalidDevicePropertyError"
	TouchPanelDeviceReadError  Kind = "TouchPanelDeviceReadError"
)

var allKinds = []Kind{
	Attach,
	Detach,
	ConnectionError,
	Debug,
	SerialDeviceReadError,
	InvalidDevicePropertyError,
	TouchPanelDeviceReadError,
}

// AllKinds returns every diagnostic kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsError reports whether k describes a fault rather than a lifecycle step.
func (k Kind) IsError() bool {
	switch k {
	case ConnectionError, SerialDeviceReadError, InvalidDevicePropertyError, TouchPanelDeviceReadError:
		return true
	default:
		return false
	}
}

// ParseKind resolves a kind by its exact name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Event is one immutable diagnostic notification.
type Event struct {
	Kind        Kind      `json:"kind"`
	DeviceClass string    `json:"device_class"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Text returns the event rendered by Format.
func (e Event) Text() string {
	return Format(e.Kind, e.DeviceClass, e.Message)
}

// Handler receives a routed diagnostic. It runs on the goroutine that raised
// the event and must only enqueue work.
type Handler func(kind Kind, deviceClass, message string)

// Format renders a diagnostic as
// "eventType: <kind> type: <class> message: <message>", with surrounding
// whitespace trimmed from the message.
func Format(kind Kind, deviceClass, message string) string {
	return fmt.Sprintf("eventType: %s type: %s message: %s", kind, deviceClass, strings.TrimSpace(message))
}

// FormatTimestamp renders t as HH:MM:SS:mmm.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s:%03d", t.Format("15:04:05"), t.Nanosecond()/int(time.Millisecond))
}
