package mqttlink

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch/wire"
)

// Server exposes a local delegate to clients in other processes.
//
// Thread Safety:
//   - Start and Stop may be called from any goroutine.
//   - Requests are submitted to the delegate in the order the broker
//     delivers them.
type Server struct {
	broker   Broker
	delegate *dispatch.Delegate
	logger   Logger

	mu      sync.Mutex
	started bool
}

// NewServer creates a server for d. The broker's session should publish
// its status on the delegate's status topic.
func NewServer(b Broker, d *dispatch.Delegate) *Server {
	return &Server{broker: b, delegate: d, logger: noopLogger{}}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Start subscribes to the delegate's request topic.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("mqttlink: server for %q already started", s.delegate.Name())
	}
	topic := s.broker.Topics().DelegateRequest(s.delegate.Name())
	if err := s.broker.Subscribe(topic, s.broker.QoS(), s.handleRequest); err != nil {
		return fmt.Errorf("mqttlink: subscribe %s: %w", topic, err)
	}
	s.started = true

	s.logger.Info("delegate server listening", "delegate", s.delegate.Name(), "topic", topic)
	return nil
}

// Stop unsubscribes and stops the delegate, letting queued requests
// finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		topic := s.broker.Topics().DelegateRequest(s.delegate.Name())
		if err := s.broker.Unsubscribe(topic); err != nil {
			s.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	return s.delegate.Stop(ctx)
}

func (s *Server) handleRequest(_ string, payload []byte) error {
	req, replyTo, err := wire.DecodeRequest(payload)
	if err != nil {
		return err
	}
	if replyTo == "" {
		return fmt.Errorf("mqttlink: request %d has no reply topic", req.ID)
	}

	reply := func(resp dispatch.Response) { s.respond(replyTo, resp) }
	if err := s.delegate.Submit(req, reply); err != nil {
		reply(dispatch.Response{ID: req.ID, Mode: req.Mode, Lost: true})
		return err
	}
	return nil
}

func (s *Server) respond(replyTo string, resp dispatch.Response) {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		// The result could not be encoded; report that instead.
		s.logger.Error("encoding response failed", "delegate", s.delegate.Name(), "id", resp.ID, "error", err)
		resp.Result = nil
		resp.Err = dispatch.NewDelegateError(s.delegate.Name(), dispatch.Command{}, err)
		if data, err = wire.EncodeResponse(resp); err != nil {
			return
		}
	}

	topic := s.broker.Topics().DelegateResponse(s.delegate.Name(), replyTo)
	if err := s.broker.Publish(topic, data, s.broker.QoS(), false); err != nil {
		s.logger.Warn("publishing response failed", "delegate", s.delegate.Name(), "id", resp.ID, "error", err)
	}
}
