// Package metadata holds free-form descriptive data attached to an object
// and folds it into the object's snapshot.
package metadata

import (
	"context"
	"maps"
	"sync"
)

// SnapshotBaser produces the part of a snapshot that describes an object's
// own state.
type SnapshotBaser interface {
	SnapshotBase(ctx context.Context, update bool) (map[string]any, error)
}

// Base stores metadata. The zero value is ready to use.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Base struct {
	mu   sync.RWMutex
	data map[string]any
}

// LoadMetadata merges m into the stored metadata. Nested maps are merged
// key by key; any other value replaces what was there.
func (b *Base) LoadMetadata(m map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		b.data = make(map[string]any, len(m))
	}
	Merge(b.data, m)
}

// Metadata returns a deep copy of the stored metadata.
func (b *Base) Metadata() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return clone(b.data)
}

// DeleteMetadata removes key.
func (b *Base) DeleteMetadata(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// Snapshot returns src's base snapshot, adding a "metadata" key when any
// metadata is stored.
func (b *Base) Snapshot(ctx context.Context, src SnapshotBaser, update bool) (map[string]any, error) {
	snap := map[string]any{}
	if src != nil {
		base, err := src.SnapshotBase(ctx, update)
		if err != nil {
			return nil, err
		}
		maps.Copy(snap, base)
	}
	if md := b.Metadata(); len(md) > 0 {
		snap["metadata"] = md
	}
	return snap, nil
}

// Merge copies src into dst recursively. Where both hold a map under the
// same key the maps are merged; otherwise src wins.
func Merge(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if existing, ok := dst[k].(map[string]any); ok {
			Merge(existing, sub)
			continue
		}
		dst[k] = clone(sub)
	}
}

func clone(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = clone(sub)
			continue
		}
		out[k] = v
	}
	return out
}
