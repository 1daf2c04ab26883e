// Package api provides the HTTP REST API of the instrument hub.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/audit"
	"github.com/nerrad567/gray-logic-instruments/internal/auth"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch/mqttlink"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
	"github.com/nerrad567/gray-logic-instruments/internal/process"
	"github.com/nerrad567/gray-logic-instruments/internal/snapshot"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DelegateStatser reports in-process delegates. *dispatch.Hub satisfies it.
type DelegateStatser interface {
	Stats() []dispatch.DelegateStats
}

// WorkerLister reports delegates reached over MQTT. *mqttlink.Connector
// satisfies it.
type WorkerLister interface {
	Workers() []mqttlink.WorkerStatus
}

// ProcessStatser reports supervised worker processes. *process.Supervisor
// satisfies it.
type ProcessStatser interface {
	Stats() []process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Version string

	// Instruments lists the instruments the API exposes. Nil uses
	// instrument.All.
	Instruments func() []*instrument.Instrument

	// Optional views. A nil view is reported as an empty list.
	Delegates DelegateStatser
	Workers   WorkerLister
	Processes ProcessStatser

	// Snapshots enables the stored snapshot and metadata endpoints.
	Snapshots *snapshot.Service

	// Audit records state-changing requests and serves /audit.
	Audit audit.Repository

	// Auth enables bearer-token authentication. Nil leaves the API open.
	Auth *auth.Authenticator
}

// Server is the HTTP API server of the instrument hub.
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	version     string
	instruments func() []*instrument.Instrument
	delegates   DelegateStatser
	workers     WorkerLister
	processes   ProcessStatser
	snapshots   *snapshot.Service
	audit       audit.Repository
	auth        *auth.Authenticator
	started     time.Time
	server      *http.Server
	listener    net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	list := deps.Instruments
	if list == nil {
		list = instrument.All
	}
	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		version:     deps.Version,
		instruments: list,
		delegates:   deps.Delegates,
		workers:     deps.Workers,
		processes:   deps.Processes,
		snapshots:   deps.Snapshots,
		audit:       deps.Audit,
		auth:        deps.Auth,
		started:     time.Now(),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. The
// server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
