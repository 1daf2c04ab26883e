package bridge

import (
	"context"
	"fmt"
	"runtime"
)

// Blocking is the synchronous calling convention of an action.
type Blocking[A, R any] func(ctx context.Context, arg A) (R, error)

// Suspendable is the cooperative calling convention of an action.
type Suspendable[A, R any] func(ctx context.Context, arg A) *Task[R]

// Slots holds the four places an action can be implemented. Sync and Async
// are the driver's own forms; SyncAdapter and AsyncAdapter come from an
// intermediate layer and only count when the driver supplies neither form.
type Slots[A, R any] struct {
	Sync         Blocking[A, R]
	Async        Suspendable[A, R]
	SyncAdapter  Blocking[A, R]
	AsyncAdapter Suspendable[A, R]
}

// Empty reports whether no slot is populated.
func (s Slots[A, R]) Empty() bool {
	return s.Sync == nil && s.Async == nil && s.SyncAdapter == nil && s.AsyncAdapter == nil
}

// Action is a resolved action with both calling conventions available.
type Action[A, R any] struct {
	Name        string
	Sync        Blocking[A, R]
	Async       Suspendable[A, R]
	Implemented bool
}

// Resolve builds an Action for owner from slots, synthesising whichever form
// is missing. If every slot is empty both forms fail with ErrUnimplemented.
func Resolve[A, R any](owner, name string, slots Slots[A, R]) Action[A, R] {
	blk, sus := slots.Sync, slots.Async
	if blk == nil && sus == nil {
		blk, sus = slots.SyncAdapter, slots.AsyncAdapter
	}

	switch {
	case blk == nil && sus == nil:
		stub := Unimplemented[A, R](owner, name)
		return Action[A, R]{
			Name:  name,
			Sync:  stub,
			Async: Suspend(stub),
		}
	case blk == nil:
		blk = Block(sus)
	case sus == nil:
		sus = Suspend(blk)
	}

	return Action[A, R]{
		Name:        name,
		Sync:        blk,
		Async:       sus,
		Implemented: true,
	}
}

// Block turns a suspendable form into a blocking one by driving the task to
// completion.
func Block[A, R any](sus Suspendable[A, R]) Blocking[A, R] {
	return func(ctx context.Context, arg A) (R, error) {
		return sus(ctx, arg).Await(ctx)
	}
}

// Suspend turns a blocking form into a suspendable one. The task yields once
// before running, so callers that always await keep composing even though no
// real concurrency takes place.
func Suspend[A, R any](blk Blocking[A, R]) Suspendable[A, R] {
	return func(_ context.Context, arg A) *Task[R] {
		return NewTask(func(ctx context.Context) (R, error) {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				var zero R
				return zero, err
			}
			return blk(ctx, arg)
		})
	}
}

// Unimplemented returns a blocking form that always fails with
// ErrUnimplemented naming owner and action.
func Unimplemented[A, R any](owner, action string) Blocking[A, R] {
	return func(context.Context, A) (R, error) {
		var zero R
		return zero, fmt.Errorf("%w: instrument %q has no %s or %s_async form", ErrUnimplemented, owner, action, action)
	}
}
