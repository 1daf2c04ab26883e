package dispatch

import "context"

// pipe is a Link to a delegate in the same process.
type pipe struct {
	d       *Delegate
	h       Handler
	unwatch func()
}

// Pipe returns a Dialer for a delegate running in this process.
func Pipe(d *Delegate) Dialer {
	return func(h Handler) (Link, error) {
		p := &pipe{d: d, h: h}
		p.unwatch = d.Watch(h.HandleDown)
		return p, nil
	}
}

func (p *pipe) Send(_ context.Context, req Request) error {
	return p.d.Submit(req, p.h.HandleResponse)
}

func (p *pipe) Close() error {
	p.unwatch()
	return nil
}
