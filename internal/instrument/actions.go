package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-instruments/internal/attrpath"
	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
)

// Write posts cmd to the hardware. On a delegate the outcome is reported by
// a later call.
func (i *Instrument) Write(ctx context.Context, cmd string) error {
	return i.post(ctx, i.command(dispatch.OpWrite, cmd))
}

// WriteAsync is the suspendable form of Write.
func (i *Instrument) WriteAsync(ctx context.Context, cmd string) *bridge.Task[struct{}] {
	return bridge.Suspend(func(ctx context.Context, cmd string) (none, error) {
		return none{}, i.Write(ctx, cmd)
	})(ctx, cmd)
}

// Read returns one pending response from the hardware.
func (i *Instrument) Read(ctx context.Context) (string, error) {
	res, err := i.call(ctx, i.command(dispatch.OpRead))
	if err != nil {
		return "", err
	}
	return resultString(res), nil
}

// ReadAsync is the suspendable form of Read.
func (i *Instrument) ReadAsync(ctx context.Context) *bridge.Task[string] {
	return bridge.Suspend(func(ctx context.Context, _ none) (string, error) {
		return i.Read(ctx)
	})(ctx, none{})
}

// Ask sends a query and returns the hardware's response.
func (i *Instrument) Ask(ctx context.Context, cmd string) (string, error) {
	res, err := i.call(ctx, i.command(dispatch.OpAsk, cmd))
	if err != nil {
		return "", err
	}
	return resultString(res), nil
}

// AskAsync is the suspendable form of Ask.
func (i *Instrument) AskAsync(ctx context.Context, cmd string) *bridge.Task[string] {
	return bridge.Suspend(i.Ask)(ctx, cmd)
}

// Implements reports whether the driver or its fallback supplies action
// ("write", "read" or "ask") in either form.
func (i *Instrument) Implements(action string) bool {
	switch action {
	case "write":
		return i.write.Implemented
	case "read":
		return i.read.Implemented
	case "ask":
		return i.ask.Implemented
	default:
		return false
	}
}

// Execute runs cmd against this copy of the instrument. Dispatchers call it
// on whichever copy holds the hardware connection.
func (i *Instrument) Execute(ctx context.Context, cmd dispatch.Command) (any, error) {
	switch cmd.Op {
	case dispatch.OpWrite:
		s, err := stringArg(cmd, 0)
		if err != nil {
			return nil, err
		}
		_, err = i.write.Sync(ctx, s)
		return nil, i.actionError("write", s, err)

	case dispatch.OpRead:
		out, err := i.read.Sync(ctx, none{})
		return out, i.actionError("read", "", err)

	case dispatch.OpAsk:
		s, err := stringArg(cmd, 0)
		if err != nil {
			return nil, err
		}
		out, err := i.ask.Sync(ctx, s)
		return out, i.actionError("ask", s, err)

	case dispatch.OpGetAttr:
		p, err := pathArg(cmd, 0)
		if err != nil {
			return nil, err
		}
		return i.getAttr(p, cmd.Args[1:])

	case dispatch.OpSetAttr:
		p, err := pathArg(cmd, 0)
		if err != nil {
			return nil, err
		}
		if len(cmd.Args) != 2 {
			return nil, fmt.Errorf("%w: setattr %s wants a value", ErrBadArgument, p)
		}
		return nil, i.setAttr(p, cmd.Args[1])

	case dispatch.OpDelAttr:
		p, err := pathArg(cmd, 0)
		if err != nil {
			return nil, err
		}
		prune := true
		if len(cmd.Args) > 1 {
			if b, ok := cmd.Args[1].(bool); ok {
				prune = b
			}
		}
		return nil, i.delAttr(p, prune)

	case dispatch.OpConnect:
		return nil, i.runOnConnect(ctx)

	case dispatch.OpClose:
		if err := i.live.closeConn(); err != nil {
			return nil, fmt.Errorf("instrument %q: close connection: %w", i.name, err)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: instrument %q cannot execute %q", ErrBadArgument, i.name, cmd.Op)
	}
}

func (i *Instrument) actionError(action, arg string, err error) error {
	if err == nil || errors.Is(err, bridge.ErrUnimplemented) {
		return err
	}
	if arg == "" {
		return fmt.Errorf("instrument %q: %s: %w", i.name, action, err)
	}
	return fmt.Errorf("instrument %q: %s %q: %w", i.name, action, arg, err)
}

func stringArg(cmd dispatch.Command, n int) (string, error) {
	if n < len(cmd.Args) {
		if s, ok := cmd.Args[n].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %q wants a string argument", ErrBadArgument, cmd.Op, cmd.Instrument)
}

// pathArg accepts a path as attrpath.Path, []string, []any of strings or a
// plain field name, so commands survive a trip through a wire codec.
func pathArg(cmd dispatch.Command, n int) (attrpath.Path, error) {
	if n >= len(cmd.Args) {
		return nil, fmt.Errorf("%w: %s on %q wants a path", ErrBadArgument, cmd.Op, cmd.Instrument)
	}

	var p attrpath.Path
	switch v := cmd.Args[n].(type) {
	case attrpath.Path:
		p = v
	case []string:
		p = attrpath.FromStrings(v)
	case string:
		p = attrpath.Name(v)
	case []any:
		parts := make([]string, len(v))
		for k, part := range v {
			s, ok := part.(string)
			if !ok {
				return nil, fmt.Errorf("%w: path element %v is not a string", ErrBadArgument, part)
			}
			parts[k] = s
		}
		p = attrpath.FromStrings(parts)
	default:
		return nil, fmt.Errorf("%w: %T is not a path", ErrBadArgument, v)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("instrument %q: %w", cmd.Instrument, err)
	}
	return p, nil
}

func resultString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
