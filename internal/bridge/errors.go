package bridge

import "errors"

// ErrUnimplemented is returned by both forms of an action whose four slots
// were all empty at resolution time.
var ErrUnimplemented = errors.New("bridge: action not implemented")
