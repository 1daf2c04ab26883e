package instrument

import (
	"errors"

	"github.com/nerrad567/gray-logic-instruments/internal/attrpath"
	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
)

var (
	// ErrDuplicateName is returned when a parameter or function name is
	// already taken in its namespace.
	ErrDuplicateName = errors.New("instrument: duplicate name")

	// ErrNotFound is returned when no parameter or function has the
	// requested name.
	ErrNotFound = errors.New("instrument: no such parameter or function")

	// ErrClosed is returned for operations on a closed instrument.
	ErrClosed = errors.New("instrument: closed")

	// ErrUnknownKind is returned when building an instrument whose kind was
	// never registered.
	ErrUnknownKind = errors.New("instrument: unknown kind")

	// ErrNotGettable is returned by parameters without a get command.
	ErrNotGettable = errors.New("instrument: parameter is not gettable")

	// ErrNotSettable is returned by parameters without a set command.
	ErrNotSettable = errors.New("instrument: parameter is not settable")

	// ErrArgCount is returned when a function is called with the wrong
	// number of arguments.
	ErrArgCount = errors.New("instrument: wrong number of arguments")

	// ErrBadArgument is returned when a command carries arguments of the
	// wrong shape.
	ErrBadArgument = errors.New("instrument: bad command argument")
)

func init() {
	for kind, sentinel := range map[string]error{
		"duplicate_name": ErrDuplicateName,
		"not_found":      ErrNotFound,
		"closed":         ErrClosed,
		"unknown_kind":   ErrUnknownKind,
		"not_gettable":   ErrNotGettable,
		"not_settable":   ErrNotSettable,
		"arg_count":      ErrArgCount,
		"bad_argument":   ErrBadArgument,
		"lookup":         attrpath.ErrLookup,
		"type_mismatch":  attrpath.ErrTypeMismatch,
		"invalid_path":   attrpath.ErrInvalidPath,
		"read_only":      attrpath.ErrReadOnly,
		"unimplemented":  bridge.ErrUnimplemented,
	} {
		dispatch.RegisterErrorKind(kind, sentinel)
	}
}
