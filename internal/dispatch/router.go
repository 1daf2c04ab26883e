package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Router picks a Connector per delegate name.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	fallback Connector
	routes   map[string]Connector
}

// NewRouter creates a router sending unrouted names to fallback. A nil
// fallback refuses them.
func NewRouter(fallback Connector) *Router {
	return &Router{fallback: fallback, routes: make(map[string]Connector)}
}

// Route sends delegate name to c.
func (r *Router) Route(name string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[name] = c
}

// Connect attaches target using the connector routed for name.
func (r *Router) Connect(ctx context.Context, name string, target Target, extras map[string]any) (Dispatcher, map[string]any, error) {
	r.mu.RLock()
	c, ok := r.routes[name]
	if !ok {
		c = r.fallback
	}
	r.mu.RUnlock()

	if c == nil {
		return nil, nil, fmt.Errorf("%w: no route to delegate %q", ErrConnectionUnavailable, name)
	}
	return c.Connect(ctx, name, target, extras)
}

// Resident reports whether the connector routed for name is resident.
func (r *Router) Resident(name string) bool {
	r.mu.RLock()
	c, ok := r.routes[name]
	if !ok {
		c = r.fallback
	}
	r.mu.RUnlock()
	return c != nil && IsResident(c, name)
}
