package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Builder creates the live copy of an instrument attaching from another
// process. extras is the delegate's shared extras map.
type Builder func(ctx context.Context, desc Descriptor, extras map[string]any) (Executor, error)

type delegateState uint8

const (
	stateIdle delegateState = iota
	stateRunning
	stateStopping
	stateStopped
)

type envelope struct {
	req   Request
	reply func(Response)
}

// DelegateStats is a point-in-time view of a delegate.
type DelegateStats struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Targets   int    `json:"targets"`
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
}

// Delegate is a single worker that owns a hardware connection and executes
// requests from every attached instrument in arrival order.
//
// Thread Safety:
//   - Submit, Attach, Detach and Stats may be called from any goroutine.
//   - Commands execute one at a time on the delegate's own goroutine.
type Delegate struct {
	name   string
	logger Logger

	mu       sync.Mutex
	cond     *sync.Cond
	state    delegateState
	extras   map[string]any
	targets  map[string]Executor
	queue    []envelope
	builder  Builder
	watchers map[int]func(error)
	watchSeq int
	downErr  error

	processed atomic.Uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDelegate creates a delegate called name holding extras. A nil extras
// map is replaced by an empty one so that attachers can share it.
func NewDelegate(name string, extras map[string]any) *Delegate {
	if extras == nil {
		extras = make(map[string]any)
	}
	d := &Delegate{
		name:     name,
		logger:   noopLogger{},
		extras:   extras,
		targets:  make(map[string]Executor),
		watchers: make(map[int]func(error)),
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SetLogger sets the logger for the delegate.
func (d *Delegate) SetLogger(logger Logger) {
	d.logger = logger
}

// SetBuilder installs the function used to build instruments attaching
// through OpAttach.
func (d *Delegate) SetBuilder(b Builder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builder = b
}

// Name returns the delegate name.
func (d *Delegate) Name() string { return d.name }

// Extras returns the delegate's extras map. Every caller gets the same map.
func (d *Delegate) Extras() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extras
}

// Start launches the worker goroutine. Commands run under a context derived
// from ctx.
func (d *Delegate) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateIdle {
		return fmt.Errorf("dispatch: delegate %q already started", d.name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.state = stateRunning
	go d.loop(runCtx)

	d.logger.Info("delegate started", "delegate", d.name)
	return nil
}

// Alive reports whether the delegate accepts new requests.
func (d *Delegate) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateRunning
}

// Done is closed once the worker goroutine has exited.
func (d *Delegate) Done() <-chan struct{} { return d.done }

// Attach makes exec reachable under uuid.
func (d *Delegate) Attach(uuid string, exec Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets[uuid] = exec
}

// Detach removes uuid.
func (d *Delegate) Detach(uuid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.targets, uuid)
}

// Submit enqueues req. reply is invoked from the worker goroutine once the
// request has executed, or with Lost set if the delegate stops first.
func (d *Delegate) Submit(req Request, reply func(Response)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return fmt.Errorf("%w: delegate %q is not running", ErrConnectionUnavailable, d.name)
	}
	d.queue = append(d.queue, envelope{req: req, reply: reply})
	d.cond.Signal()
	return nil
}

// Watch registers fn to be called once when the delegate goes down. If it is
// already down fn is called immediately. The returned function unregisters.
func (d *Delegate) Watch(fn func(error)) func() {
	d.mu.Lock()
	if d.state == stateStopped {
		err := d.downErr
		d.mu.Unlock()
		fn(err)
		return func() {}
	}
	d.watchSeq++
	id := d.watchSeq
	d.watchers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
	}
}

// Stop refuses new requests, lets the queue drain, and waits for the worker
// to exit. If ctx expires first the delegate is killed.
func (d *Delegate) Stop(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case stateIdle:
		d.state = stateStopped
		d.downErr = ErrConnectionUnavailable
		d.mu.Unlock()
		close(d.done)
		return nil
	case stateRunning:
		d.state = stateStopping
		d.cond.Broadcast()
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.Kill(ctx.Err())
		return fmt.Errorf("dispatch: stopping delegate %q: %w", d.name, ctx.Err())
	}
}

// Kill stops the delegate immediately. Queued requests are answered as
// lost and watchers are told the delegate is down with cause.
func (d *Delegate) Kill(cause error) {
	d.mu.Lock()
	if d.state == stateStopped {
		d.mu.Unlock()
		return
	}
	if d.state == stateIdle {
		close(d.done)
	}
	queued := d.queue
	d.queue = nil
	d.state = stateStopped
	d.cond.Broadcast()
	d.mu.Unlock()

	for _, env := range queued {
		env.reply(Response{ID: env.req.ID, Mode: env.req.Mode, Lost: true})
	}
	if len(queued) > 0 {
		d.logger.Warn("delegate killed with queued requests", "delegate", d.name, "lost", len(queued))
	}
	d.down(cause)

	// Interrupt the running command last so clients count it as lost.
	if d.cancel != nil {
		d.cancel()
	}
}

// Stats returns a snapshot of the delegate's state.
func (d *Delegate) Stats() DelegateStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DelegateStats{
		Name:      d.name,
		Running:   d.state == stateRunning,
		Targets:   len(d.targets),
		Queued:    len(d.queue),
		Processed: d.processed.Load(),
	}
}

func (d *Delegate) down(cause error) {
	if cause == nil {
		cause = ErrConnectionUnavailable
	}
	d.mu.Lock()
	d.downErr = cause
	watchers := d.watchers
	d.watchers = make(map[int]func(error))
	d.mu.Unlock()

	for _, fn := range watchers {
		fn(cause)
	}
	d.logger.Info("delegate stopped", "delegate", d.name, "cause", cause)
}

func (d *Delegate) loop(ctx context.Context) {
	defer close(d.done)

	for {
		env, ok := d.next()
		if !ok {
			break
		}
		env.reply(d.handle(ctx, env.req))
	}

	d.mu.Lock()
	graceful := d.state == stateStopping
	if graceful {
		d.state = stateStopped
	}
	d.mu.Unlock()

	if graceful {
		d.cancel()
		d.down(ErrConnectionUnavailable)
	}
}

func (d *Delegate) next() (envelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.queue) == 0 {
		if d.state != stateRunning {
			return envelope{}, false
		}
		d.cond.Wait()
	}
	if d.state == stateStopped {
		return envelope{}, false
	}
	env := d.queue[0]
	d.queue[0] = envelope{}
	d.queue = d.queue[1:]
	return env, true
}

// handle executes one request. A failed Post's error goes back in its own
// response; the posting client reports it on its next request.
func (d *Delegate) handle(ctx context.Context, req Request) Response {
	defer d.processed.Add(1)

	resp := Response{ID: req.ID, Mode: req.Mode}
	result, err := d.execute(withDelegate(ctx, d), req.Command)
	if err != nil {
		resp.Err = NewDelegateError(d.name, req.Command, err)
		if req.Mode == ModePost {
			d.logger.Warn("posted command failed",
				"delegate", d.name,
				"instrument", req.Command.Instrument,
				"op", string(req.Command.Op),
				"error", err,
			)
		}
		return resp
	}
	if req.Mode == ModeCall {
		resp.Result = result
	}
	return resp
}

// execute runs cmd against its target, converting panics into errors.
func (d *Delegate) execute(ctx context.Context, cmd Command) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked",
				"delegate", d.name,
				"instrument", cmd.Instrument,
				"op", string(cmd.Op),
				"panic", r,
			)
			result, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if cmd.Op == OpAttach {
		return d.attach(ctx, cmd)
	}

	d.mu.Lock()
	exec := d.targets[cmd.Target]
	d.mu.Unlock()
	if exec == nil {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownTarget, cmd.Instrument, cmd.Target)
	}

	result, err = exec.Execute(ctx, cmd)
	if err == nil && cmd.Op == OpClose {
		d.Detach(cmd.Target)
	}
	return result, err
}

// inline runs cmd on the caller's goroutine, which must already be this
// delegate's worker.
func (d *Delegate) inline(ctx context.Context, cmd Command) (any, error) {
	return d.execute(ctx, cmd)
}

func (d *Delegate) attach(ctx context.Context, cmd Command) (any, error) {
	desc, extras, ok := AttachArgs(cmd)
	if !ok {
		return nil, errors.New("dispatch: malformed attach request")
	}

	d.mu.Lock()
	build := d.builder
	if len(d.extras) == 0 && len(extras) > 0 && len(d.targets) == 0 {
		d.extras = extras
	}
	shared := d.extras
	d.mu.Unlock()

	if build == nil {
		return nil, fmt.Errorf("dispatch: delegate %q cannot build instrument %q", d.name, desc.Name)
	}
	exec, err := build(ctx, desc, shared)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build %s %q: %w", desc.Kind, desc.Name, err)
	}
	d.Attach(desc.UUID, exec)

	d.logger.Info("instrument attached",
		"delegate", d.name,
		"instrument", desc.Name,
		"kind", desc.Kind,
		"uuid", desc.UUID,
	)
	return shared, nil
}
