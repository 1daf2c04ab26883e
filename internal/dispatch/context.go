package dispatch

import "context"

type delegateKey struct{}

func withDelegate(ctx context.Context, d *Delegate) context.Context {
	return context.WithValue(ctx, delegateKey{}, d)
}

// Current returns the delegate executing the command that ctx belongs to,
// or nil outside of a delegate.
func Current(ctx context.Context) *Delegate {
	d, _ := ctx.Value(delegateKey{}).(*Delegate)
	return d
}

// Running reports whether ctx belongs to a command executing on the
// delegate called name.
func Running(ctx context.Context, name string) bool {
	d := Current(ctx)
	return d != nil && d.name == name
}
