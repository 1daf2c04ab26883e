package instrument

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-instruments/internal/attrpath"
	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/metadata"
	"github.com/nerrad567/gray-logic-instruments/internal/registry"
)

// closeTimeout bounds the delegate round trip made by Close.
const closeTimeout = 5 * time.Second

// Logger defines the logging interface used by instruments.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives every value read through a standard parameter.
type Recorder interface {
	RecordReading(ctx context.Context, instrument, parameter string, value any)
}

var (
	defaultConnectorMu sync.RWMutex
	defaultConnector   dispatch.Connector = dispatch.NewHub()
)

// SetDefaultConnector replaces the connector used when Options.Connector is
// nil.
func SetDefaultConnector(c dispatch.Connector) {
	defaultConnectorMu.Lock()
	defer defaultConnectorMu.Unlock()
	defaultConnector = c
}

// DefaultConnector returns the connector used when Options.Connector is nil.
func DefaultConnector() dispatch.Connector {
	defaultConnectorMu.RLock()
	defer defaultConnectorMu.RUnlock()
	return defaultConnector
}

// Options configures a new Instrument.
type Options struct {
	// Name identifies the instrument. Any value is accepted and formatted
	// with fmt.Sprint.
	Name any

	// Driver implements the hardware actions and hooks. Its dynamic type is
	// the instrument's kind. A nil driver makes a bare Instrument.
	Driver any

	// Fallback supplies actions the driver implements in neither form.
	Fallback any

	// Server names the delegate that executes commands. Empty runs them in
	// the caller.
	Server string

	// Extras is handed to the delegate when this instrument creates it.
	Extras map[string]any

	// Metadata is loaded into the instrument's metadata.
	Metadata map[string]any

	// Connector attaches to delegates. Nil uses DefaultConnector.
	Connector dispatch.Connector

	Logger   Logger
	Recorder Recorder

	// id and deferConnect are set when building the executing copy of an
	// instrument created in another process.
	id           string
	deferConnect bool
}

// Instrument is a named hardware-control object.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Instrument struct {
	metadata.Base

	id       string
	name     string
	kind     reflect.Type
	server   string
	driver   any
	logger   Logger
	recorder Recorder

	write bridge.Action[string, none]
	read  bridge.Action[none, string]
	ask   bridge.Action[string, string]

	mu         sync.RWMutex
	parameters map[string]Parameter
	functions  map[string]Function
	attrs      attrpath.Fields
	extras     map[string]any
	disp       dispatch.Dispatcher

	live   *liveState
	closed atomic.Bool
}

// liveState is what an instrument's cleanup needs. It must never refer back
// to the instrument.
type liveState struct {
	mu     sync.Mutex
	conn   io.Closer
	handle registry.Handle
	remote dispatch.Dispatcher
	target dispatch.Command
}

func (s *liveState) setConn(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
}

func (s *liveState) hasConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *liveState) closeConn() error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

func finalize(s *liveState) {
	s.closeConn() //nolint:errcheck // nobody is left to report to
	instances.Drop(s.handle)

	s.mu.Lock()
	remote := s.remote
	s.remote = nil
	s.mu.Unlock()

	if remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		remote.Post(ctx, s.target) //nolint:errcheck // best effort
		remote.Close()             //nolint:errcheck // best effort
	}
}

// New constructs an instrument, registers it under its driver's kind and
// attaches it to its delegate, or runs its connect hook in place when no
// server is named.
func New(ctx context.Context, opts Options) (*Instrument, error) {
	i := &Instrument{
		name:     fmt.Sprint(opts.Name),
		server:   opts.Server,
		driver:   opts.Driver,
		kind:     kindOf(opts.Driver),
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if i.logger == nil {
		i.logger = noopLogger{}
	}

	if setup, ok := opts.Driver.(Initializer); ok {
		if err := setup.Setup(i); err != nil {
			return nil, fmt.Errorf("instrument %q: setup: %w", i.name, err)
		}
	}
	i.ensureMaps()

	i.id = opts.id
	if i.id == "" {
		i.id = uuid.NewString()
	}

	i.write = bridge.Resolve(i.name, "write", writeSlots(opts.Driver, opts.Fallback))
	i.read = bridge.Resolve(i.name, "read", readSlots(opts.Driver, opts.Fallback))
	i.ask = bridge.Resolve(i.name, "ask", askSlots(opts.Driver, opts.Fallback))

	if len(opts.Metadata) > 0 {
		i.LoadMetadata(opts.Metadata)
	}

	i.live = &liveState{
		target: dispatch.Command{Target: i.id, Instrument: i.name, Op: dispatch.OpClose},
	}
	i.live.handle = instances.Register(i.kind, i)
	runtime.AddCleanup(i, finalize, i.live)

	if i.server == "" {
		i.mu.Lock()
		i.extras = opts.Extras
		if i.extras == nil {
			i.extras = make(map[string]any)
		}
		i.disp = dispatch.NewLocal(i)
		i.mu.Unlock()

		if !opts.deferConnect {
			if err := i.runOnConnect(ctx); err != nil {
				i.Close() //nolint:errcheck // reporting the connect failure
				return nil, err
			}
		}
		i.logger.Debug("instrument created", "instrument", i.name, "kind", i.Kind(), "uuid", i.id)
		return i, nil
	}

	connector := opts.Connector
	if connector == nil {
		connector = DefaultConnector()
	}
	disp, extras, err := connector.Connect(ctx, i.server, i, opts.Extras)
	if err != nil {
		i.Close() //nolint:errcheck // reporting the connect failure
		return nil, fmt.Errorf("instrument %q: connect to delegate %q: %w", i.name, i.server, err)
	}

	i.mu.Lock()
	i.disp = disp
	i.extras = extras
	i.mu.Unlock()

	if !dispatch.IsResident(connector, i.server) {
		i.live.mu.Lock()
		i.live.remote = disp
		i.live.mu.Unlock()
	}

	i.logger.Debug("instrument created",
		"instrument", i.name,
		"kind", i.Kind(),
		"uuid", i.id,
		"server", i.server,
	)
	return i, nil
}

// ensureMaps creates the namespaces without clobbering existing entries.
func (i *Instrument) ensureMaps() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.parameters == nil {
		i.parameters = make(map[string]Parameter)
	}
	if i.functions == nil {
		i.functions = make(map[string]Function)
	}
	if i.attrs == nil {
		i.attrs = make(attrpath.Fields)
	}
}

// UUID returns the identifier assigned at construction.
func (i *Instrument) UUID() string { return i.id }

// Name returns the instrument name.
func (i *Instrument) Name() string { return i.name }

// Server returns the delegate name, or "" for a local instrument.
func (i *Instrument) Server() string { return i.server }

// Driver returns the driver the instrument was built with.
func (i *Instrument) Driver() any { return i.driver }

// Kind returns the name of the instrument's kind.
func (i *Instrument) Kind() string { return KindName(i.kind) }

// Extras returns the extras shared with every instrument on the same
// delegate.
func (i *Instrument) Extras() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.extras
}

// Closed reports whether Close has been called.
func (i *Instrument) Closed() bool { return i.closed.Load() }

// SetConnection hands the instrument the hardware connection it owns. It is
// closed by Close, by a close command on the delegate, or when the
// instrument is collected. Call it from a ConnectHook.
func (i *Instrument) SetConnection(c io.Closer) {
	i.live.setConn(c)
}

// Connected reports whether this copy holds a hardware connection.
func (i *Instrument) Connected() bool { return i.live.hasConn() }

// Descriptor identifies the instrument to a delegate.
func (i *Instrument) Descriptor() dispatch.Descriptor {
	return dispatch.Descriptor{
		UUID:     i.id,
		Name:     i.name,
		Kind:     i.Kind(),
		Metadata: i.Metadata(),
	}
}

func (i *Instrument) runOnConnect(ctx context.Context) error {
	hook, ok := i.driver.(ConnectHook)
	if !ok {
		return nil
	}
	if err := hook.OnConnect(ctx, i); err != nil {
		return fmt.Errorf("instrument %q: on connect: %w", i.name, err)
	}
	return nil
}

// Close releases the connection and detaches local state. It is safe to
// call more than once.
func (i *Instrument) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return i.CloseContext(ctx)
}

// CloseContext is Close with a caller-supplied context. Code running on the
// instrument's delegate must use it with the context it was given.
func (i *Instrument) CloseContext(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	i.mu.RLock()
	d := i.disp
	i.mu.RUnlock()

	if _, local := d.(*dispatch.Local); d != nil && !local {
		if _, err := d.Call(ctx, i.command(dispatch.OpClose)); err != nil && !errors.Is(err, dispatch.ErrConnectionUnavailable) {
			errs = append(errs, err)
		}
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := i.live.closeConn(); err != nil {
		errs = append(errs, fmt.Errorf("instrument %q: close connection: %w", i.name, err))
	}

	i.live.mu.Lock()
	i.live.remote = nil
	i.live.mu.Unlock()
	instances.Drop(i.live.handle)

	i.mu.Lock()
	i.parameters = make(map[string]Parameter)
	i.functions = make(map[string]Function)
	i.attrs = make(attrpath.Fields)
	i.mu.Unlock()

	i.logger.Debug("instrument closed", "instrument", i.name, "uuid", i.id)
	return errors.Join(errs...)
}

func (i *Instrument) command(op dispatch.Op, args ...any) dispatch.Command {
	return dispatch.Command{Target: i.id, Instrument: i.name, Op: op, Args: args}
}

// dispatcher returns the dispatcher, or nil while a delegate is still
// running this instrument's connect hook.
func (i *Instrument) dispatcher() dispatch.Dispatcher {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.disp
}

func (i *Instrument) call(ctx context.Context, cmd dispatch.Command) (any, error) {
	if i.closed.Load() {
		return nil, fmt.Errorf("%w: %q", ErrClosed, i.name)
	}
	d := i.dispatcher()
	if d == nil {
		return i.Execute(ctx, cmd)
	}
	return d.Call(ctx, cmd)
}

func (i *Instrument) post(ctx context.Context, cmd dispatch.Command) error {
	if i.closed.Load() {
		return fmt.Errorf("%w: %q", ErrClosed, i.name)
	}
	d := i.dispatcher()
	if d == nil {
		_, err := i.Execute(ctx, cmd)
		return err
	}
	return d.Post(ctx, cmd)
}
