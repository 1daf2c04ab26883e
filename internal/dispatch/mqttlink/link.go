package mqttlink

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch/wire"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/mqtt"
)

// session follows one worker's status topic and fans its going down out to
// every link talking to it.
type session struct {
	name   string
	broker Broker
	logger Logger

	mu     sync.Mutex
	online bool
	seen   bool
	ready  chan struct{}
	links  map[*link]struct{}
}

func newSession(name string, b Broker, logger Logger) *session {
	return &session{
		name:   name,
		broker: b,
		logger: logger,
		ready:  make(chan struct{}),
		links:  make(map[*link]struct{}),
	}
}

func (s *session) watch() error {
	topic := s.broker.Topics().DelegateStatus(s.name)
	if err := s.broker.Subscribe(topic, s.broker.QoS(), s.handleStatus); err != nil {
		return fmt.Errorf("mqttlink: subscribe %s: %w", topic, err)
	}
	return nil
}

func (s *session) handleStatus(_ string, payload []byte) error {
	st, err := mqtt.ParseStatus(payload)
	if err != nil {
		return err
	}
	if st.Online() {
		s.mu.Lock()
		if !s.online {
			s.online = true
			s.seen = true
			close(s.ready)
		}
		s.mu.Unlock()
		s.logger.Debug("delegate worker online", "delegate", s.name, "client_id", st.ClientID)
		return nil
	}

	s.markDown(fmt.Errorf("%w: delegate %q worker %s went offline (%s)",
		dispatch.ErrConnectionUnavailable, s.name, st.ClientID, st.Reason))
	return nil
}

// markDown records the worker as offline. Links are only failed once the
// worker has been seen online, so a stale retained offline status does not
// break new sessions.
func (s *session) markDown(cause error) {
	s.mu.Lock()
	wasOnline := s.online
	if s.online {
		s.online = false
		s.ready = make(chan struct{})
	}
	var links []*link
	if s.seen {
		for l := range s.links {
			links = append(links, l)
		}
		clear(s.links)
	}
	s.mu.Unlock()

	for _, l := range links {
		l.h.HandleDown(cause)
	}
	if wasOnline {
		s.logger.Warn("delegate worker down", "delegate", s.name, "cause", cause, "links", len(links))
	}
}

// awaitOnline blocks until the worker has published an online status.
func (s *session) awaitOnline(ctx context.Context) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: delegate %q worker not online: %w", dispatch.ErrConnectionUnavailable, s.name, ctx.Err())
	}
}

func (s *session) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *session) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// dialer returns a Dialer whose links receive responses on replyTo.
func (s *session) dialer(replyTo string) dispatch.Dialer {
	return func(h dispatch.Handler) (dispatch.Link, error) {
		l := &link{sess: s, h: h, replyTo: replyTo}
		topic := s.broker.Topics().DelegateResponse(s.name, replyTo)
		if err := s.broker.Subscribe(topic, s.broker.QoS(), l.handleResponse); err != nil {
			return nil, fmt.Errorf("mqttlink: subscribe %s: %w", topic, err)
		}

		s.mu.Lock()
		s.links[l] = struct{}{}
		s.mu.Unlock()
		return l, nil
	}
}

// link is the client end of one Remote.
type link struct {
	sess    *session
	h       dispatch.Handler
	replyTo string
}

func (l *link) Send(_ context.Context, req dispatch.Request) error {
	data, err := wire.EncodeRequest(req, l.replyTo)
	if err != nil {
		return err
	}
	b := l.sess.broker
	return b.Publish(b.Topics().DelegateRequest(l.sess.name), data, b.QoS(), false)
}

func (l *link) Close() error {
	l.sess.mu.Lock()
	delete(l.sess.links, l)
	l.sess.mu.Unlock()

	b := l.sess.broker
	return b.Unsubscribe(b.Topics().DelegateResponse(l.sess.name, l.replyTo))
}

func (l *link) handleResponse(_ string, payload []byte) error {
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		return err
	}
	l.h.HandleResponse(resp)
	return nil
}
