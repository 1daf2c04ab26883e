package dispatch

import "context"

// Local executes commands in the caller's goroutine.
type Local struct {
	exec Executor
}

// NewLocal returns a dispatcher that runs every command on exec directly.
func NewLocal(exec Executor) *Local {
	return &Local{exec: exec}
}

// Call executes cmd and returns its outcome.
func (l *Local) Call(ctx context.Context, cmd Command) (any, error) {
	return l.exec.Execute(ctx, cmd)
}

// Post executes cmd and returns its error immediately.
func (l *Local) Post(ctx context.Context, cmd Command) error {
	_, err := l.exec.Execute(ctx, cmd)
	return err
}

// Close is a no-op.
func (l *Local) Close() error { return nil }
