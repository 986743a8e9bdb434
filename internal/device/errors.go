package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrAlreadyConnected) {
//	    // call Reset first
//	}
var (
	// ErrUnknownDevice is returned when Connect names a device no driver is
	// registered for.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrDuplicateDevice is returned when two drivers share a device name.
	ErrDuplicateDevice = errors.New("device: duplicate device name")

	// ErrAlreadyConnected is returned when a session for the class exists.
	ErrAlreadyConnected = errors.New("device: class already has a session")

	// ErrZonesNotRegistered is returned when the zone namespace of the class
	// has not been registered.
	ErrZonesNotRegistered = errors.New("device: zones not registered")

	// ErrIncompleteSubscription is matched by every *IncompleteSubscriptionError.
	ErrIncompleteSubscription = errors.New("device: incomplete subscription")

	// ErrInvalidProperty is wrapped by drivers when a device property fails
	// validation.
	ErrInvalidProperty = errors.New("device: invalid property")

	// ErrInvalidClass is returned when a class name is not recognised.
	ErrInvalidClass = errors.New("device: invalid class")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("device: not connected")

	// ErrNotSupported is returned when a worker lacks a requested capability.
	ErrNotSupported = errors.New("device: operation not supported")

	// ErrInvalidColor is returned when an LED color cannot be parsed.
	ErrInvalidColor = errors.New("device: invalid color")

	// ErrLEDIndex is returned when an LED index is out of range.
	ErrLEDIndex = errors.New("device: LED index out of range")

	// ErrWorkerClosed is returned by workers whose Read is called after Close.
	ErrWorkerClosed = errors.New("device: worker closed")
)

// IncompleteSubscriptionError lists the zones of a class namespace that have
// no callback in a Connect call.
type IncompleteSubscriptionError struct {
	Class   Class
	Missing []zone.ID
}

func (e *IncompleteSubscriptionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		names[i] = id.Name
	}
	return fmt.Sprintf("device: incomplete subscription for %s: missing %s", e.Class, strings.Join(names, ", "))
}

// Is matches ErrIncompleteSubscription.
func (e *IncompleteSubscriptionError) Is(target error) bool {
	return target == ErrIncompleteSubscription
}

// ReadError is a fault reported by a worker's Read.
//
// Non-fatal errors are raised as a diagnostic of Kind and the read loop
// continues. Fatal errors end the session with ConnectionError.
type ReadError struct {
	Kind  diagnostic.Kind
	Err   error
	Fatal bool
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return "device: read error"
	}
	return e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
