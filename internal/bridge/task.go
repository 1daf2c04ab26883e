package bridge

import (
	"context"
	"sync"
)

// Task is a pending result of a suspendable action.
//
// Thread Safety:
//   - Await may be called from several goroutines; the action runs once.
type Task[R any] struct {
	once sync.Once
	run  func(ctx context.Context) (R, error)
	val  R
	err  error
}

// NewTask wraps run as a lazily started task.
func NewTask[R any](run func(ctx context.Context) (R, error)) *Task[R] {
	return &Task[R]{run: run}
}

// Resolved returns a task that has already completed with v and err.
func Resolved[R any](v R, err error) *Task[R] {
	t := &Task[R]{val: v, err: err}
	t.once.Do(func() {})
	return t
}

// Await drives the task to completion and returns its result.
// The context of the first Await is the one the action runs under.
func (t *Task[R]) Await(ctx context.Context) (R, error) {
	t.once.Do(func() {
		t.val, t.err = t.run(ctx)
		t.run = nil
	})
	return t.val, t.err
}
