package dispatch

import "context"

// Op names an operation carried by a Command.
type Op string

// Operations understood by instrument executors. OpAttach is handled by the
// delegate itself.
const (
	OpWrite   Op = "write"
	OpRead    Op = "read"
	OpAsk     Op = "ask"
	OpGetAttr Op = "getattr"
	OpSetAttr Op = "setattr"
	OpDelAttr Op = "delattr"
	OpConnect Op = "connect"
	OpClose   Op = "close"
	OpAttach  Op = "attach"
)

// Mode says whether the submitter waits for the outcome.
type Mode uint8

const (
	ModeCall Mode = iota + 1
	ModePost
)

func (m Mode) String() string {
	switch m {
	case ModeCall:
		return "call"
	case ModePost:
		return "post"
	default:
		return "unknown"
	}
}

// Command is one hardware action or attribute operation addressed to an
// instrument.
type Command struct {
	// Target is the uuid of the instrument the command is for.
	Target string
	// Instrument is the instrument name, used in errors and logs.
	Instrument string
	Op         Op
	Args       []any
}

// Executor runs commands against the live copy of an instrument.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) (any, error) {
	return f(ctx, cmd)
}

// Dispatcher routes commands either to the caller's goroutine or to a
// delegate.
type Dispatcher interface {
	// Call executes cmd and waits for its outcome.
	Call(ctx context.Context, cmd Command) (any, error)
	// Post submits cmd without waiting for it to execute.
	Post(ctx context.Context, cmd Command) error
	// Close releases the dispatcher. It does not close any connection.
	Close() error
}

// Descriptor identifies an instrument to a delegate when it attaches.
type Descriptor struct {
	UUID     string         `cbor:"uuid"`
	Name     string         `cbor:"name"`
	Kind     string         `cbor:"kind"`
	Metadata map[string]any `cbor:"metadata,omitempty"`
}

// Target is an instrument attaching to a delegate.
type Target interface {
	Executor
	Descriptor() Descriptor
}

// Connector attaches targets to named delegates.
type Connector interface {
	// Connect attaches target to the delegate called name, creating it if
	// needed. extras is only kept when this call creates the delegate. The
	// returned map is the delegate's extras, shared by every attacher.
	Connect(ctx context.Context, name string, target Target, extras map[string]any) (Dispatcher, map[string]any, error)
}

// Resident is implemented by connectors whose delegates run in this
// process and hold their targets for as long as they are attached.
type Resident interface {
	Resident(name string) bool
}

// IsResident reports whether c keeps targets attached through name in
// this process.
func IsResident(c Connector, name string) bool {
	r, ok := c.(Resident)
	return ok && r.Resident(name)
}

// Request is a command in flight to a delegate.
type Request struct {
	ID      uint64
	Mode    Mode
	Command Command
}

// Response is the delegate's answer to a Request.
type Response struct {
	ID     uint64
	Mode   Mode
	Result any
	Err    *DelegateError
	// Lost is set when the delegate stopped before executing the request.
	Lost bool
}

// AttachCommand builds the request a remote client sends to attach an
// instrument to a delegate running in another process.
func AttachCommand(desc Descriptor, extras map[string]any) Command {
	return Command{
		Target:     desc.UUID,
		Instrument: desc.Name,
		Op:         OpAttach,
		Args:       []any{desc, extras},
	}
}

// AttachArgs unpacks a command built by AttachCommand.
func AttachArgs(cmd Command) (Descriptor, map[string]any, bool) {
	if cmd.Op != OpAttach || len(cmd.Args) != 2 {
		return Descriptor{}, nil, false
	}
	desc, ok := cmd.Args[0].(Descriptor)
	if !ok {
		return Descriptor{}, nil, false
	}
	extras, _ := cmd.Args[1].(map[string]any)
	return desc, extras, true
}
