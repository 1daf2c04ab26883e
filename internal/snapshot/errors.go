package snapshot

import "errors"

var (
	// ErrNotFound is returned when no snapshot exists for an instrument.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrInvalidRecord is returned when a record lacks its identity fields.
	ErrInvalidRecord = errors.New("snapshot: invalid record")
)
