package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives what a Link hears back from its delegate.
type Handler interface {
	HandleResponse(resp Response)
	// HandleDown is called when the delegate stops or becomes unreachable.
	HandleDown(cause error)
}

// Link carries requests to one delegate.
type Link interface {
	Send(ctx context.Context, req Request) error
	Close() error
}

// Dialer opens a Link that reports back to h.
type Dialer func(h Handler) (Link, error)

// Remote forwards commands to a named delegate over a Link.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Commands submitted from one
//     goroutine reach the delegate in submission order.
type Remote struct {
	name    string
	link    Link
	timeout time.Duration
	logger  Logger

	nextID atomic.Uint64

	mu     sync.Mutex
	calls  map[uint64]chan Response
	posts  map[uint64]struct{}
	failed []error
	lost   int
	down   error
	closed bool
}

// NewRemote dials a link to the delegate called name.
func NewRemote(name string, dial Dialer) (*Remote, error) {
	r := &Remote{
		name:   name,
		logger: noopLogger{},
		calls:  make(map[uint64]chan Response),
		posts:  make(map[uint64]struct{}),
	}
	link, err := dial(r)
	if err != nil {
		return nil, fmt.Errorf("%w: delegate %q: %w", ErrConnectionUnavailable, name, err)
	}
	r.link = link
	return r, nil
}

// SetLogger sets the logger for the client.
func (r *Remote) SetLogger(logger Logger) {
	r.logger = logger
}

// SetTimeout bounds how long Call waits for a response. Zero waits for the
// caller's context only.
func (r *Remote) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Delegate returns the name of the delegate this client talks to.
func (r *Remote) Delegate() string { return r.name }

// Call submits cmd and waits for the delegate to execute it. Failures of
// earlier Posts not yet reported are returned here, joined with cmd's own
// error if any, and cmd's result is discarded. Because the delegate answers
// in order, every Post submitted before the Call has settled by then.
func (r *Remote) Call(ctx context.Context, cmd Command) (any, error) {
	if d := Current(ctx); d != nil && d.name == r.name {
		return d.inline(ctx, cmd)
	}
	if err := r.check(); err != nil {
		return nil, err
	}

	id := r.nextID.Add(1)
	ch := make(chan Response, 1)

	r.mu.Lock()
	r.calls[id] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.calls, id)
		r.mu.Unlock()
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.link.Send(ctx, Request{ID: id, Mode: ModeCall, Command: cmd}); err != nil {
		return nil, r.unavailable(err)
	}

	select {
	case resp := <-ch:
		return r.outcome(resp, r.takeFailed())
	case <-ctx.Done():
		return nil, fmt.Errorf("dispatch: %s on %q via delegate %q: %w", cmd.Op, cmd.Instrument, r.name, ctx.Err())
	}
}

// Post submits cmd and returns once the link has accepted it. cmd's own
// outcome is not awaited: if it fails, the failure is returned by the next
// Post or Call on this client. A Post returns submission failures and any
// earlier Post failures that arrived since the last request.
func (r *Remote) Post(ctx context.Context, cmd Command) error {
	if d := Current(ctx); d != nil && d.name == r.name {
		_, err := d.inline(ctx, cmd)
		return err
	}
	if err := r.check(); err != nil {
		return err
	}

	id := r.nextID.Add(1)

	r.mu.Lock()
	r.posts[id] = struct{}{}
	r.mu.Unlock()

	if err := r.link.Send(ctx, Request{ID: id, Mode: ModePost, Command: cmd}); err != nil {
		r.mu.Lock()
		delete(r.posts, id)
		r.mu.Unlock()
		return errors.Join(append(r.takeFailed(), r.unavailable(err))...)
	}
	return errors.Join(r.takeFailed()...)
}

// Outstanding returns the number of Posts sent but not yet acknowledged.
func (r *Remote) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts)
}

// Close closes the link. Later submissions fail with
// ErrConnectionUnavailable.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return r.link.Close()
}

// HandleResponse routes a response to its waiting Call or settles a Post,
// holding a failed Post's error for the next request.
func (r *Remote) HandleResponse(resp Response) {
	r.mu.Lock()
	if resp.Mode == ModePost {
		if _, ok := r.posts[resp.ID]; ok {
			delete(r.posts, resp.ID)
			switch {
			case resp.Lost:
				r.lost++
			case resp.Err != nil:
				r.failed = append(r.failed, resp.Err.asDeferred())
			}
		}
		r.mu.Unlock()
		return
	}
	ch := r.calls[resp.ID]
	r.mu.Unlock()

	if ch == nil {
		r.logger.Debug("response for abandoned call", "delegate", r.name, "id", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// HandleDown marks the delegate unreachable. Waiting Calls fail and every
// unacknowledged Post is counted as lost.
func (r *Remote) HandleDown(cause error) {
	if cause == nil {
		cause = ErrConnectionUnavailable
	}

	r.mu.Lock()
	if r.down == nil {
		r.down = cause
	}
	r.lost += len(r.posts)
	clear(r.posts)
	waiting := make(map[uint64]chan Response, len(r.calls))
	for id, ch := range r.calls {
		waiting[id] = ch
	}
	r.mu.Unlock()

	for id, ch := range waiting {
		select {
		case ch <- Response{ID: id, Mode: ModeCall, Lost: true}:
		default:
		}
	}
	r.logger.Warn("delegate unavailable", "delegate", r.name, "cause", cause)
}

// check reports a dead or closed delegate and, once, any lost Posts. When
// it refuses the request, Post failures still held are reported with it.
func (r *Remote) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	switch {
	case r.closed:
		errs = append(errs, fmt.Errorf("%w: delegate %q: client closed", ErrConnectionUnavailable, r.name))
	case r.down != nil:
		errs = append(errs, r.downError())
	}
	if r.lost > 0 {
		errs = append(errs, &LostError{Delegate: r.name, Count: r.lost})
		r.lost = 0
	}
	if len(errs) == 0 {
		return nil
	}
	errs = append(r.failed, errs...)
	r.failed = nil
	return errors.Join(errs...)
}

// takeFailed returns and forgets the Post failures not yet reported.
func (r *Remote) takeFailed() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	failed := r.failed
	r.failed = nil
	return failed
}

func (r *Remote) downError() error {
	if errors.Is(r.down, ErrConnectionUnavailable) {
		return fmt.Errorf("delegate %q: %w", r.name, r.down)
	}
	return fmt.Errorf("%w: delegate %q: %w", ErrConnectionUnavailable, r.name, r.down)
}

func (r *Remote) unavailable(err error) error {
	if errors.Is(err, ErrConnectionUnavailable) {
		return err
	}
	return fmt.Errorf("%w: delegate %q: %w", ErrConnectionUnavailable, r.name, err)
}

func (r *Remote) outcome(resp Response, failed []error) (any, error) {
	errs := failed
	switch {
	case resp.Lost:
		r.mu.Lock()
		errs = append(errs, r.downErrorOrDefault())
		r.mu.Unlock()
	case resp.Err != nil:
		errs = append(errs, resp.Err)
	}
	switch len(errs) {
	case 0:
		return resp.Result, nil
	case 1:
		return nil, errs[0]
	default:
		return nil, errors.Join(errs...)
	}
}

func (r *Remote) downErrorOrDefault() error {
	if r.down != nil {
		return r.downError()
	}
	return fmt.Errorf("%w: delegate %q stopped before answering", ErrConnectionUnavailable, r.name)
}
