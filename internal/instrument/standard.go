package instrument

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
)

// Parser converts a raw instrument response into a value.
type Parser func(raw string) (any, error)

// ParseFloat parses a numeric response such as "+1.234E-03".
func ParseFloat(raw string) (any, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// ParseInt parses an integer response.
func ParseInt(raw string) (any, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

// ParseString trims surrounding whitespace.
func ParseString(raw string) (any, error) {
	return strings.TrimSpace(raw), nil
}

// ParamConfig describes a StandardParameter.
type ParamConfig struct {
	// GetCmd is asked to read the value. Empty makes the parameter
	// write-only.
	GetCmd string
	// SetCmd is a fmt template taking the value, written to set it. Empty
	// makes the parameter read-only.
	SetCmd string
	// Parse converts the GetCmd response. Defaults to ParseString.
	Parse Parser

	Label string
	Units string
}

// StandardParameter reads and writes a value with command strings through
// its instrument's Ask and Write.
type StandardParameter struct {
	name string
	inst *Instrument
	cfg  ParamConfig

	mu     sync.RWMutex
	value  any
	stamp  time.Time
	hasVal bool
}

// Standard returns a factory for StandardParameters built from cfg.
func Standard(cfg ParamConfig) ParameterFactory {
	return func(name string, inst *Instrument) (Parameter, error) {
		if cfg.Parse == nil {
			cfg.Parse = ParseString
		}
		return &StandardParameter{name: name, inst: inst, cfg: cfg}, nil
	}
}

// Name returns the parameter name.
func (p *StandardParameter) Name() string { return p.name }

// Get asks the instrument for the value and records it.
func (p *StandardParameter) Get(ctx context.Context) (any, error) {
	if p.cfg.GetCmd == "" {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotGettable, p.inst.name, p.name)
	}
	raw, err := p.inst.Ask(ctx, p.cfg.GetCmd)
	if err != nil {
		return nil, err
	}
	v, err := p.cfg.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: parameter %q: parse %q: %w", p.inst.name, p.name, raw, err)
	}
	p.remember(v)

	if p.inst.recorder != nil {
		p.inst.recorder.RecordReading(ctx, p.inst.name, p.name, v)
	}
	return v, nil
}

// GetAsync is the suspendable form of Get.
func (p *StandardParameter) GetAsync(ctx context.Context) *bridge.Task[any] {
	return bridge.Suspend(func(ctx context.Context, _ none) (any, error) {
		return p.Get(ctx)
	})(ctx, none{})
}

// Set writes value with SetCmd.
func (p *StandardParameter) Set(ctx context.Context, value any) error {
	if p.cfg.SetCmd == "" {
		return fmt.Errorf("%w: %s.%s", ErrNotSettable, p.inst.name, p.name)
	}
	if err := p.inst.Write(ctx, fmt.Sprintf(p.cfg.SetCmd, value)); err != nil {
		return err
	}
	p.remember(value)
	return nil
}

// SetAsync is the suspendable form of Set.
func (p *StandardParameter) SetAsync(ctx context.Context, value any) *bridge.Task[struct{}] {
	return bridge.Suspend(func(ctx context.Context, v any) (none, error) {
		return none{}, p.Set(ctx, v)
	})(ctx, value)
}

func (p *StandardParameter) remember(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
	p.stamp = time.Now().UTC()
	p.hasVal = true
}

// Snapshot describes the parameter and its last known value. Entries in
// state override the locally remembered ones.
func (p *StandardParameter) Snapshot(state any) map[string]any {
	snap := map[string]any{
		"name":     p.name,
		"gettable": p.cfg.GetCmd != "",
		"settable": p.cfg.SetCmd != "",
	}
	if p.cfg.Label != "" {
		snap["label"] = p.cfg.Label
	}
	if p.cfg.Units != "" {
		snap["units"] = p.cfg.Units
	}

	p.mu.RLock()
	if p.hasVal {
		snap["value"] = p.value
		snap["ts"] = p.stamp.Format(time.RFC3339Nano)
	}
	p.mu.RUnlock()

	if m, ok := state.(map[string]any); ok {
		maps.Copy(snap, m)
	}
	return snap
}

// FunctionConfig describes a StandardFunction.
type FunctionConfig struct {
	// Cmd is a fmt template taking the call's arguments.
	Cmd string
	// Args is the number of arguments the function takes.
	Args int
	// Parse, when set, makes the function a query: Cmd is asked and the
	// response parsed. Otherwise Cmd is written.
	Parse Parser
	Doc   string
}

// StandardFunction formats a command from its arguments and sends it
// through its instrument.
type StandardFunction struct {
	name string
	inst *Instrument
	cfg  FunctionConfig
}

func newStandardFunction(name string, inst *Instrument, cfg FunctionConfig) *StandardFunction {
	return &StandardFunction{name: name, inst: inst, cfg: cfg}
}

// Name returns the function name.
func (f *StandardFunction) Name() string { return f.name }

// Call sends the command built from args.
func (f *StandardFunction) Call(ctx context.Context, args ...any) (any, error) {
	if len(args) != f.cfg.Args {
		return nil, fmt.Errorf("%w: %s.%s takes %d, got %d", ErrArgCount, f.inst.name, f.name, f.cfg.Args, len(args))
	}
	cmd := f.cfg.Cmd
	if len(args) > 0 {
		cmd = fmt.Sprintf(f.cfg.Cmd, args...)
	}

	if f.cfg.Parse == nil {
		return nil, f.inst.Write(ctx, cmd)
	}
	raw, err := f.inst.Ask(ctx, cmd)
	if err != nil {
		return nil, err
	}
	v, err := f.cfg.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: function %q: parse %q: %w", f.inst.name, f.name, raw, err)
	}
	return v, nil
}

// CallAsync is the suspendable form of Call.
func (f *StandardFunction) CallAsync(ctx context.Context, args ...any) *bridge.Task[any] {
	return bridge.Suspend(func(ctx context.Context, a []any) (any, error) {
		return f.Call(ctx, a...)
	})(ctx, args)
}

// Snapshot describes the function.
func (f *StandardFunction) Snapshot() map[string]any {
	snap := map[string]any{
		"name":     f.name,
		"call_cmd": f.cfg.Cmd,
		"args":     f.cfg.Args,
	}
	if f.cfg.Doc != "" {
		snap["doc"] = f.cfg.Doc
	}
	return snap
}
