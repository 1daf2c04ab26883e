package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Hub creates and tracks delegates running in this process.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	delegates map[string]*Delegate
	logger    Logger
	timeout   time.Duration
	base      context.Context
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		delegates: make(map[string]*Delegate),
		logger:    noopLogger{},
		base:      context.Background(),
	}
}

// SetLogger sets the logger used by the hub and the delegates it creates.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// SetCallTimeout bounds every Call made through clients the hub hands out.
func (h *Hub) SetCallTimeout(d time.Duration) {
	h.timeout = d
}

// Connect attaches target to the delegate called name. The delegate is
// created, with extras, on first use; later callers get the existing
// delegate's extras map and their own extras are ignored. A delegate that
// has stopped is replaced by a fresh one. Once attached, the target's
// OpConnect runs on the delegate.
func (h *Hub) Connect(ctx context.Context, name string, target Target, extras map[string]any) (Dispatcher, map[string]any, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, errors.New("dispatch: delegate name is required")
	}

	d, err := h.ensure(name, extras)
	if err != nil {
		return nil, nil, err
	}
	desc := target.Descriptor()
	d.Attach(desc.UUID, target)

	r, err := NewRemote(name, Pipe(d))
	if err != nil {
		d.Detach(desc.UUID)
		return nil, nil, err
	}
	r.SetLogger(h.logger)
	r.SetTimeout(h.timeout)

	connect := Command{Target: desc.UUID, Instrument: desc.Name, Op: OpConnect}
	if _, err := r.Call(ctx, connect); err != nil {
		r.Close()
		d.Detach(desc.UUID)
		return nil, nil, err
	}

	h.logger.Debug("instrument attached", "delegate", name, "instrument", desc.Name, "uuid", desc.UUID)
	return r, d.Extras(), nil
}

func (h *Hub) ensure(name string, extras map[string]any) (*Delegate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d, ok := h.delegates[name]; ok && d.Alive() {
		return d, nil
	}

	d := NewDelegate(name, extras)
	d.SetLogger(h.logger)
	if err := d.Start(h.base); err != nil {
		return nil, err
	}
	h.delegates[name] = d
	return d, nil
}

// Resident reports true: every hub delegate runs in this process.
func (h *Hub) Resident(string) bool { return true }

// Delegate returns the delegate called name.
func (h *Hub) Delegate(name string) (*Delegate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.delegates[name]
	return d, ok
}

// Stats returns the state of every delegate, ordered by name.
func (h *Hub) Stats() []DelegateStats {
	h.mu.Lock()
	all := make([]*Delegate, 0, len(h.delegates))
	for _, d := range h.delegates {
		all = append(all, d)
	}
	h.mu.Unlock()

	stats := make([]DelegateStats, 0, len(all))
	for _, d := range all {
		stats = append(stats, d.Stats())
	}
	slices.SortFunc(stats, func(a, b DelegateStats) int { return strings.Compare(a.Name, b.Name) })
	return stats
}

// Shutdown stops every delegate, letting queued requests finish.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	all := make([]*Delegate, 0, len(h.delegates))
	for _, d := range h.delegates {
		all = append(all, d)
	}
	clear(h.delegates)
	h.mu.Unlock()

	var errs []error
	for _, d := range all {
		if err := d.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("dispatch: hub shutdown: %w", errors.Join(errs...))
	}
	return nil
}
