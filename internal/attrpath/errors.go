package attrpath

import "errors"

var (
	// ErrLookup is returned when a field or key along a path does not exist.
	ErrLookup = errors.New("attrpath: not found")

	// ErrTypeMismatch is returned when a path needs to index into a value
	// that is not a container.
	ErrTypeMismatch = errors.New("attrpath: not a container")

	// ErrInvalidPath is returned for empty paths or paths that do not start
	// with a Field segment.
	ErrInvalidPath = errors.New("attrpath: invalid path")

	// ErrReadOnly is returned by objects that refuse to set or delete a field.
	ErrReadOnly = errors.New("attrpath: field is read-only")
)
