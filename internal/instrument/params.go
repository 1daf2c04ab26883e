package instrument

import (
	"context"
	"fmt"
	"slices"

	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
)

// Member is a parameter or a function.
type Member interface {
	Name() string
}

// Parameter is a gettable and/or settable state variable of an instrument.
type Parameter interface {
	Member
	Get(ctx context.Context) (any, error)
	GetAsync(ctx context.Context) *bridge.Task[any]
	Set(ctx context.Context, value any) error
	SetAsync(ctx context.Context, value any) *bridge.Task[struct{}]
	// Snapshot describes the parameter. state, when non-nil, is the entry
	// for this parameter under ParamStateAttr.
	Snapshot(state any) map[string]any
}

// Function is an action of an instrument that spans parameters, such as
// reset or trigger.
type Function interface {
	Member
	Call(ctx context.Context, args ...any) (any, error)
	CallAsync(ctx context.Context, args ...any) *bridge.Task[any]
	Snapshot() map[string]any
}

// ParameterFactory builds a parameter bound to inst. It runs with the
// instrument's namespaces locked and must not add members itself.
type ParameterFactory func(name string, inst *Instrument) (Parameter, error)

// AddParameter binds a new parameter called name. A nil factory builds a
// StandardParameter with no commands. The namespace is left unchanged when
// name is taken.
func (i *Instrument) AddParameter(name string, factory ParameterFactory) (Parameter, error) {
	if factory == nil {
		factory = Standard(ParamConfig{})
	}
	i.ensureMaps()

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.parameters[name]; exists {
		return nil, fmt.Errorf("%w: instrument %q already has parameter %q", ErrDuplicateName, i.name, name)
	}
	p, err := factory(name, i)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: parameter %q: %w", i.name, name, err)
	}
	i.parameters[name] = p
	return p, nil
}

// AddFunction binds a new function called name. The namespace is left
// unchanged when name is taken.
func (i *Instrument) AddFunction(name string, cfg FunctionConfig) (Function, error) {
	i.ensureMaps()

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.functions[name]; exists {
		return nil, fmt.Errorf("%w: instrument %q already has function %q", ErrDuplicateName, i.name, name)
	}
	f := newStandardFunction(name, i, cfg)
	i.functions[name] = f
	return f, nil
}

// Parameter returns the parameter called name.
func (i *Instrument) Parameter(name string) (Parameter, error) {
	i.mu.RLock()
	p, ok := i.parameters[name]
	i.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: instrument %q has no parameter %q", ErrNotFound, i.name, name)
	}
	return p, nil
}

// Function returns the function called name.
func (i *Instrument) Function(name string) (Function, error) {
	i.mu.RLock()
	f, ok := i.functions[name]
	i.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: instrument %q has no function %q", ErrNotFound, i.name, name)
	}
	return f, nil
}

// Lookup returns the parameter called name, or failing that the function.
func (i *Instrument) Lookup(name string) (Member, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if p, ok := i.parameters[name]; ok {
		return p, nil
	}
	if f, ok := i.functions[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: instrument %q has no parameter or function %q", ErrNotFound, i.name, name)
}

// Parameters returns the parameter names in sorted order.
func (i *Instrument) Parameters() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return sortedKeys(i.parameters)
}

// Functions returns the function names in sorted order.
func (i *Instrument) Functions() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return sortedKeys(i.functions)
}

// Get reads parameter name.
func (i *Instrument) Get(ctx context.Context, name string) (any, error) {
	p, err := i.Parameter(name)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx)
}

// GetAsync is the suspendable form of Get.
func (i *Instrument) GetAsync(ctx context.Context, name string) *bridge.Task[any] {
	p, err := i.Parameter(name)
	if err != nil {
		return bridge.Resolved[any](nil, err)
	}
	return p.GetAsync(ctx)
}

// Set writes value to parameter name.
func (i *Instrument) Set(ctx context.Context, name string, value any) error {
	p, err := i.Parameter(name)
	if err != nil {
		return err
	}
	return p.Set(ctx, value)
}

// SetAsync is the suspendable form of Set.
func (i *Instrument) SetAsync(ctx context.Context, name string, value any) *bridge.Task[struct{}] {
	p, err := i.Parameter(name)
	if err != nil {
		return bridge.Resolved(none{}, err)
	}
	return p.SetAsync(ctx, value)
}

// Call invokes function name with args.
func (i *Instrument) Call(ctx context.Context, name string, args ...any) (any, error) {
	f, err := i.Function(name)
	if err != nil {
		return nil, err
	}
	return f.Call(ctx, args...)
}

// CallAsync is the suspendable form of Call.
func (i *Instrument) CallAsync(ctx context.Context, name string, args ...any) *bridge.Task[any] {
	f, err := i.Function(name)
	if err != nil {
		return bridge.Resolved[any](nil, err)
	}
	return f.CallAsync(ctx, args...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
