package mqttlink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
)

// WorkerStarter makes sure the worker process serving a delegate is
// running.
type WorkerStarter interface {
	EnsureWorker(ctx context.Context, name string) error
}

// WorkerStatus describes what the hub knows about a worker.
type WorkerStatus struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
	Links  int    `json:"links"`
}

// Connector attaches instruments to delegates running in worker
// processes.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Connector struct {
	broker        Broker
	logger        Logger
	starter       WorkerStarter
	callTimeout   time.Duration
	attachTimeout time.Duration

	seq atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Connector.
type Option func(*Connector)

// WithStarter starts workers on demand before attaching.
func WithStarter(s WorkerStarter) Option {
	return func(c *Connector) { c.starter = s }
}

// WithCallTimeout bounds every Call made through the returned clients.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Connector) { c.callTimeout = d }
}

// WithAttachTimeout bounds how long Connect waits for a worker to come
// online.
func WithAttachTimeout(d time.Duration) Option {
	return func(c *Connector) { c.attachTimeout = d }
}

// WithLogger sets the logger used by the connector and its clients.
func WithLogger(l Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// NewConnector creates a connector using b.
func NewConnector(b Broker, opts ...Option) *Connector {
	c := &Connector{
		broker:        b,
		logger:        noopLogger{},
		attachTimeout: 15 * time.Second,
		sessions:      make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect attaches target to the worker serving name. The worker keeps
// extras only if no instrument has attached to it yet; the returned map is
// the worker's extras. Once attached, the target's connect hook runs on the
// worker.
func (c *Connector) Connect(ctx context.Context, name string, target dispatch.Target, extras map[string]any) (dispatch.Dispatcher, map[string]any, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, errors.New("mqttlink: delegate name is required")
	}

	sess, err := c.session(name)
	if err != nil {
		return nil, nil, err
	}

	if c.starter != nil {
		if err := c.starter.EnsureWorker(ctx, name); err != nil {
			return nil, nil, fmt.Errorf("%w: delegate %q: starting worker: %w", dispatch.ErrConnectionUnavailable, name, err)
		}
	}

	waitCtx := ctx
	if c.attachTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.attachTimeout)
		defer cancel()
	}
	if err := sess.awaitOnline(waitCtx); err != nil {
		return nil, nil, err
	}

	replyTo := fmt.Sprintf("%s-%d", c.broker.ClientID(), c.seq.Add(1))
	r, err := dispatch.NewRemote(name, sess.dialer(replyTo))
	if err != nil {
		return nil, nil, err
	}
	r.SetLogger(c.logger)
	r.SetTimeout(c.callTimeout)

	desc := target.Descriptor()
	res, err := r.Call(ctx, dispatch.AttachCommand(desc, extras))
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	shared, _ := res.(map[string]any)
	if shared == nil {
		shared = map[string]any{}
	}

	connect := dispatch.Command{Target: desc.UUID, Instrument: desc.Name, Op: dispatch.OpConnect}
	if _, err := r.Call(ctx, connect); err != nil {
		r.Close()
		return nil, nil, err
	}

	c.logger.Info("instrument attached to worker",
		"delegate", name,
		"instrument", desc.Name,
		"kind", desc.Kind,
		"uuid", desc.UUID,
	)
	return r, shared, nil
}

// HandleDisconnect fails every client when the broker connection drops.
// Install it with the MQTT client's SetOnDisconnect.
func (c *Connector) HandleDisconnect(err error) {
	cause := fmt.Errorf("%w: broker connection lost: %w", dispatch.ErrConnectionUnavailable, err)
	for _, s := range c.snapshotSessions() {
		s.markDown(cause)
	}
}

// Workers returns what the connector knows about each worker, ordered by
// name.
func (c *Connector) Workers() []WorkerStatus {
	sessions := c.snapshotSessions()
	out := make([]WorkerStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, WorkerStatus{Name: s.name, Online: s.isOnline(), Links: s.linkCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Connector) snapshotSessions() []*session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Connector) session(name string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[name]; ok {
		return s, nil
	}
	s := newSession(name, c.broker, c.logger)
	if err := s.watch(); err != nil {
		return nil, err
	}
	c.sessions[name] = s
	return s, nil
}
