package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-instruments/internal/attrpath"
)

// SnapshotBase describes every parameter and function. With update, each
// gettable parameter is read before it is described. Parameter state kept
// under ParamStateAttr seeds the matching entry.
func (i *Instrument) SnapshotBase(ctx context.Context, update bool) (map[string]any, error) {
	if update {
		for _, name := range i.Parameters() {
			p, err := i.Parameter(name)
			if err != nil {
				continue
			}
			if _, err := p.Get(ctx); err != nil {
				if errors.Is(err, ErrNotGettable) {
					continue
				}
				return nil, fmt.Errorf("instrument %q: snapshot %s: %w", i.name, name, err)
			}
		}
	}

	raw, err := i.GetAttrOr(ctx, attrpath.Name(ParamStateAttr), nil)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: snapshot: %w", i.name, err)
	}
	states, _ := raw.(map[string]any)

	i.mu.RLock()
	params := make(map[string]any, len(i.parameters))
	for name, p := range i.parameters {
		params[name] = p.Snapshot(states[name])
	}
	funcs := make(map[string]any, len(i.functions))
	for name, f := range i.functions {
		funcs[name] = f.Snapshot()
	}
	i.mu.RUnlock()

	return map[string]any{
		"name":       i.name,
		"kind":       i.Kind(),
		"uuid":       i.id,
		"parameters": params,
		"functions":  funcs,
	}, nil
}

// Snapshot is SnapshotBase plus the instrument's metadata.
func (i *Instrument) Snapshot(ctx context.Context, update bool) (map[string]any, error) {
	return i.Base.Snapshot(ctx, i, update)
}
