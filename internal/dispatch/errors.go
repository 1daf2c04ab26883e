package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrConnectionUnavailable is returned when the delegate cannot be reached
	// or has stopped.
	ErrConnectionUnavailable = errors.New("dispatch: delegate connection unavailable")

	// ErrDelegateFailure marks an error raised while the delegate executed a
	// command. Use errors.Is with the original sentinel to inspect the cause.
	ErrDelegateFailure = errors.New("dispatch: delegate failure")

	// ErrPostsLost is reported once for Posts that were queued to a delegate
	// that stopped before executing them.
	ErrPostsLost = errors.New("dispatch: posted commands lost")

	// ErrUnknownTarget is returned when a command addresses an instrument
	// that is not attached to the delegate.
	ErrUnknownTarget = errors.New("dispatch: instrument not attached to delegate")

	// ErrPanic marks a command whose executor panicked.
	ErrPanic = errors.New("dispatch: command panicked")
)

// KindGeneric is the kind of errors that match no registered sentinel.
const KindGeneric = "error"

type errorKind struct {
	kind     string
	sentinel error
}

var (
	kindsMu sync.RWMutex
	kinds   []errorKind
)

func init() {
	RegisterErrorKind("connection_unavailable", ErrConnectionUnavailable)
	RegisterErrorKind("posts_lost", ErrPostsLost)
	RegisterErrorKind("unknown_target", ErrUnknownTarget)
	RegisterErrorKind("panic", ErrPanic)
}

// RegisterErrorKind names a sentinel so that errors matching it keep their
// identity when they cross a delegate boundary. Registering the same kind
// again replaces its sentinel.
func RegisterErrorKind(kind string, sentinel error) {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	for i := range kinds {
		if kinds[i].kind == kind {
			kinds[i].sentinel = sentinel
			return
		}
	}
	kinds = append(kinds, errorKind{kind: kind, sentinel: sentinel})
}

// ErrorKind returns the registered kind err matches, or KindGeneric.
func ErrorKind(err error) string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindGeneric
}

func sentinelFor(kind string) error {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	for _, k := range kinds {
		if k.kind == kind {
			return k.sentinel
		}
	}
	return nil
}

// DelegateError is an error raised by a command executing on a delegate.
// It matches ErrDelegateFailure and the original error (or, after crossing
// a process boundary, the sentinel registered for Kind).
type DelegateError struct {
	Delegate   string
	Instrument string
	Op         Op
	Kind       string
	Message    string

	// Deferred is true when the error belongs to an earlier Post and is being
	// reported on a later request.
	Deferred bool

	cause error
}

// NewDelegateError wraps err raised while executing cmd on delegate.
func NewDelegateError(delegate string, cmd Command, err error) *DelegateError {
	return &DelegateError{
		Delegate:   delegate,
		Instrument: cmd.Instrument,
		Op:         cmd.Op,
		Kind:       ErrorKind(err),
		Message:    err.Error(),
		cause:      err,
	}
}

// RestoreDelegateError rebuilds a DelegateError received from another
// process. The cause matches the sentinel registered for kind.
func RestoreDelegateError(delegate, instrument string, op Op, kind, message string, deferred bool) *DelegateError {
	return &DelegateError{
		Delegate:   delegate,
		Instrument: instrument,
		Op:         op,
		Kind:       kind,
		Message:    message,
		Deferred:   deferred,
		cause:      &remoteCause{sentinel: sentinelFor(kind), message: message},
	}
}

func (e *DelegateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "delegate %q: instrument %q: %s", e.Delegate, e.Instrument, e.Op)
	if e.Deferred {
		b.WriteString(" (earlier post)")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap exposes ErrDelegateFailure and the original cause.
func (e *DelegateError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrDelegateFailure}
	}
	return []error{ErrDelegateFailure, e.cause}
}

// asDeferred returns a copy of e marked as belonging to an earlier Post.
func (e *DelegateError) asDeferred() *DelegateError {
	c := *e
	c.Deferred = true
	return &c
}

type remoteCause struct {
	sentinel error
	message  string
}

func (c *remoteCause) Error() string { return c.message }
func (c *remoteCause) Unwrap() error { return c.sentinel }

// LostError reports Posts that never executed.
type LostError struct {
	Delegate string
	Count    int
}

func (e *LostError) Error() string {
	return fmt.Sprintf("delegate %q: %d posted command(s) lost", e.Delegate, e.Count)
}

// Unwrap exposes ErrPostsLost.
func (e *LostError) Unwrap() error { return ErrPostsLost }
