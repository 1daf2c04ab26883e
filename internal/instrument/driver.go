package instrument

import (
	"context"

	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
)

// Writer sends a command that produces no response.
type Writer interface {
	Write(ctx context.Context, cmd string) error
}

// AsyncWriter is the suspendable form of Writer.
type AsyncWriter interface {
	WriteAsync(ctx context.Context, cmd string) *bridge.Task[struct{}]
}

// Reader reads one pending response.
type Reader interface {
	Read(ctx context.Context) (string, error)
}

// AsyncReader is the suspendable form of Reader.
type AsyncReader interface {
	ReadAsync(ctx context.Context) *bridge.Task[string]
}

// Asker sends a query and returns its response.
type Asker interface {
	Ask(ctx context.Context, cmd string) (string, error)
}

// AsyncAsker is the suspendable form of Asker.
type AsyncAsker interface {
	AskAsync(ctx context.Context, cmd string) *bridge.Task[string]
}

// Initializer declares parameters and functions on a new instrument.
type Initializer interface {
	Setup(inst *Instrument) error
}

// ConnectHook prepares the hardware connection on the executing copy.
type ConnectHook interface {
	OnConnect(ctx context.Context, inst *Instrument) error
}

type none = struct{}

func writeSlots(driver, fallback any) bridge.Slots[string, none] {
	var s bridge.Slots[string, none]
	if w, ok := driver.(Writer); ok {
		s.Sync = blockingWrite(w)
	}
	if w, ok := driver.(AsyncWriter); ok {
		s.Async = func(ctx context.Context, cmd string) *bridge.Task[none] { return w.WriteAsync(ctx, cmd) }
	}
	if w, ok := fallback.(Writer); ok {
		s.SyncAdapter = blockingWrite(w)
	}
	if w, ok := fallback.(AsyncWriter); ok {
		s.AsyncAdapter = func(ctx context.Context, cmd string) *bridge.Task[none] { return w.WriteAsync(ctx, cmd) }
	}
	return s
}

func blockingWrite(w Writer) bridge.Blocking[string, none] {
	return func(ctx context.Context, cmd string) (none, error) {
		return none{}, w.Write(ctx, cmd)
	}
}

func readSlots(driver, fallback any) bridge.Slots[none, string] {
	var s bridge.Slots[none, string]
	if r, ok := driver.(Reader); ok {
		s.Sync = func(ctx context.Context, _ none) (string, error) { return r.Read(ctx) }
	}
	if r, ok := driver.(AsyncReader); ok {
		s.Async = func(ctx context.Context, _ none) *bridge.Task[string] { return r.ReadAsync(ctx) }
	}
	if r, ok := fallback.(Reader); ok {
		s.SyncAdapter = func(ctx context.Context, _ none) (string, error) { return r.Read(ctx) }
	}
	if r, ok := fallback.(AsyncReader); ok {
		s.AsyncAdapter = func(ctx context.Context, _ none) *bridge.Task[string] { return r.ReadAsync(ctx) }
	}
	return s
}

func askSlots(driver, fallback any) bridge.Slots[string, string] {
	var s bridge.Slots[string, string]
	if a, ok := driver.(Asker); ok {
		s.Sync = a.Ask
	}
	if a, ok := driver.(AsyncAsker); ok {
		s.Async = a.AskAsync
	}
	if a, ok := fallback.(Asker); ok {
		s.SyncAdapter = a.Ask
	}
	if a, ok := fallback.(AsyncAsker); ok {
		s.AsyncAdapter = a.AskAsync
	}
	return s
}
