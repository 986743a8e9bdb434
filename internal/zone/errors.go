package zone

import (
	"errors"
	"fmt"
)

// Domain errors for the zone package.
var (
	// ErrMissingMapping is matched by every *MissingMappingError.
	ErrMissingMapping = errors.New("zone: missing mapping")

	// ErrUnknownZone is matched by every *UnknownZoneError.
	ErrUnknownZone = errors.New("zone: unknown zone")

	// ErrDuplicateHandle is returned when two handles share a zone name.
	ErrDuplicateHandle = errors.New("zone: duplicate handle name")

	// ErrInvalidState is returned when an input state string cannot be parsed.
	ErrInvalidState = errors.New("zone: invalid input state")
)

// MissingMappingError reports the first zone of a namespace without a handle.
type MissingMappingError struct {
	Zone ID
}

func (e *MissingMappingError) Error() string {
	return fmt.Sprintf("zone: missing mapping for %s", e.Zone)
}

// Is matches ErrMissingMapping.
func (e *MissingMappingError) Is(target error) bool {
	return target == ErrMissingMapping
}

// UnknownZoneError reports a lookup of a zone that is not registered or does
// not exist in its namespace.
type UnknownZoneError struct {
	Zone ID
}

func (e *UnknownZoneError) Error() string {
	return fmt.Sprintf("zone: unknown zone %s", e.Zone)
}

// Is matches ErrUnknownZone.
func (e *UnknownZoneError) Is(target error) bool {
	return target == ErrUnknownZone
}
