// Package registry tracks live objects per exact kind without keeping them
// alive.
//
// Each kind (a reflect.Type, normally the concrete driver type an instrument
// was built with) owns its own ordered table of weak slots. Tables are keyed
// by the exact type, so a type embedding another starts with an empty table
// and never sees the embedded type's entries. A Handle names a
// slot by index and generation; dropping a handle bumps the generation so
// stale handles can never resolve again.
//
// Read contract: Live skips slots whose referent has been collected or
// dropped, but never compacts the table. Stale entries are filtered on read,
// not removed when their owner dies.
package registry

import (
	"reflect"
	"slices"
	"strings"
	"sync"
	"weak"
)

// Handle identifies one registered object.
type Handle struct {
	Kind  reflect.Type
	Index int
	Gen   uint32
}

type slot[T any] struct {
	ref  weak.Pointer[T]
	gen  uint32
	live bool
}

type table[T any] struct {
	slots []slot[T]
}

// Registry holds one table per kind.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry[T any] struct {
	mu     sync.Mutex
	tables map[reflect.Type]*table[T]
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{tables: make(map[reflect.Type]*table[T])}
}

// Register appends v to the table of kind and returns its handle.
func (r *Registry[T]) Register(kind reflect.Type, v *T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tables[kind]
	if t == nil {
		t = &table[T]{}
		r.tables[kind] = t
	}

	t.slots = append(t.slots, slot[T]{ref: weak.Make(v), gen: 1, live: true})
	return Handle{Kind: kind, Index: len(t.slots) - 1, Gen: 1}
}

// Drop invalidates h. Dropping an unknown or already dropped handle is a no-op.
func (r *Registry[T]) Drop(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slot(h)
	if s == nil {
		return
	}
	s.live = false
	s.ref = weak.Pointer[T]{}
	s.gen++
}

// Resolve returns the object behind h if it is still registered and alive.
func (r *Registry[T]) Resolve(h Handle) (*T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slot(h)
	if s == nil || !s.live {
		return nil, false
	}
	v := s.ref.Value()
	return v, v != nil
}

// Live returns the objects registered under exactly kind that are still
// alive, in registration order. Kinds never registered return nil.
func (r *Registry[T]) Live(kind reflect.Type) []*T {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tables[kind]
	if t == nil {
		return nil
	}

	var out []*T
	for i := range t.slots {
		if !t.slots[i].live {
			continue
		}
		if v := t.slots[i].ref.Value(); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// All returns the live objects of every kind. Order is by kind name, then
// registration order.
func (r *Registry[T]) All() []*T {
	r.mu.Lock()
	kinds := make([]reflect.Type, 0, len(r.tables))
	for k := range r.tables {
		kinds = append(kinds, k)
	}
	r.mu.Unlock()

	slices.SortFunc(kinds, func(a, b reflect.Type) int { return strings.Compare(a.String(), b.String()) })

	var out []*T
	for _, k := range kinds {
		out = append(out, r.Live(k)...)
	}
	return out
}

// Len returns the number of slots in the table of kind, stale ones included.
func (r *Registry[T]) Len(kind reflect.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t := r.tables[kind]; t != nil {
		return len(t.slots)
	}
	return 0
}

// slot returns the slot h points at when the generation still matches.
// Callers must hold r.mu.
func (r *Registry[T]) slot(h Handle) *slot[T] {
	t := r.tables[h.Kind]
	if t == nil || h.Index < 0 || h.Index >= len(t.slots) {
		return nil
	}
	s := &t.slots[h.Index]
	if s.gen != h.Gen {
		return nil
	}
	return s
}
