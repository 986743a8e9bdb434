package diagnostic

import "errors"

// Domain errors for the diagnostic package.
var (
	// ErrUnknownKind is returned when a kind name is not one of the seven kinds.
	ErrUnknownKind = errors.New("diagnostic: unknown kind")
)
