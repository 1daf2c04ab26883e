package instrument

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-instruments/internal/attrpath"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
)

// ParamStateAttr is the attribute under which a driver may keep
// per-parameter state. Snapshots seed each parameter from its entry.
const ParamStateAttr = "param_state"

// GetAttr reads the attribute at p from the executing copy.
func (i *Instrument) GetAttr(ctx context.Context, p attrpath.Path) (any, error) {
	return i.call(ctx, i.command(dispatch.OpGetAttr, p.Strings()))
}

// GetAttrOr reads the attribute at p, returning def when a field or key on
// the way is missing. A non-container mid-path is still an error.
func (i *Instrument) GetAttrOr(ctx context.Context, p attrpath.Path, def any) (any, error) {
	return i.call(ctx, i.command(dispatch.OpGetAttr, p.Strings(), def))
}

// SetAttr posts an assignment of value at p, creating missing containers.
func (i *Instrument) SetAttr(ctx context.Context, p attrpath.Path, value any) error {
	return i.post(ctx, i.command(dispatch.OpSetAttr, p.Strings(), value))
}

// DelAttr posts the removal of the attribute at p. With prune, containers
// left empty are removed too.
func (i *Instrument) DelAttr(ctx context.Context, p attrpath.Path, prune bool) error {
	return i.post(ctx, i.command(dispatch.OpDelAttr, p.Strings(), prune))
}

// SetParamState posts state for parameter under ParamStateAttr.
func (i *Instrument) SetParamState(ctx context.Context, parameter string, state map[string]any) error {
	return i.SetAttr(ctx, attrpath.Nested(ParamStateAttr, parameter), state)
}

func (i *Instrument) getAttr(p attrpath.Path, def []any) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var (
		v   any
		err error
	)
	if len(def) > 0 {
		v, err = attrpath.GetOr(attrObject{i}, p, def[0])
	} else {
		v, err = attrpath.Get(attrObject{i}, p)
	}
	if err != nil {
		return nil, fmt.Errorf("instrument %q: getattr %s: %w", i.name, p, err)
	}
	// Containers stay owned by the instrument.
	return attrpath.Clone(v), nil
}

func (i *Instrument) setAttr(p attrpath.Path, value any) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := attrpath.Set(attrObject{i}, p, attrpath.Clone(value)); err != nil {
		return fmt.Errorf("instrument %q: setattr %s: %w", i.name, p, err)
	}
	return nil
}

func (i *Instrument) delAttr(p attrpath.Path, prune bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := attrpath.Delete(attrObject{i}, p, prune); err != nil {
		return fmt.Errorf("instrument %q: delattr %s: %w", i.name, p, err)
	}
	return nil
}

// Attrs returns the names of the attributes set on this copy.
func (i *Instrument) Attrs() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.attrs.Names()
}

// attrObject exposes an instrument's attributes to the path protocol. The
// identity fields are readable and cannot be replaced. Callers hold i.mu.
type attrObject struct{ i *Instrument }

func (o attrObject) builtin(name string) (any, bool) {
	switch name {
	case "name":
		return o.i.name, true
	case "uuid":
		return o.i.id, true
	case "server":
		return o.i.server, true
	case "kind":
		return KindName(o.i.kind), true
	}
	return nil, false
}

func (o attrObject) Field(name string) (any, bool) {
	if v, ok := o.builtin(name); ok {
		return v, true
	}
	return o.i.attrs.Field(name)
}

func (o attrObject) SetField(name string, value any) error {
	if _, ok := o.builtin(name); ok {
		return fmt.Errorf("%w: %s", attrpath.ErrReadOnly, name)
	}
	return o.i.attrs.SetField(name, value)
}

func (o attrObject) DeleteField(name string) error {
	if _, ok := o.builtin(name); ok {
		return fmt.Errorf("%w: %s", attrpath.ErrReadOnly, name)
	}
	return o.i.attrs.DeleteField(name)
}
