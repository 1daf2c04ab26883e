package process

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

// Supervisor runs one worker process per delegate declared with mode
// "process".
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Supervisor struct {
	base    context.Context
	logger  Logger
	workers map[string]*Manager

	mu sync.Mutex
}

// WorkerArgs returns the command line of the worker serving d. configPath
// is passed through so the worker reads the same configuration.
func WorkerArgs(d config.DelegateConfig, configPath string) []string {
	args := []string{"delegate", "--name", d.Name}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return append(args, d.Args...)
}

// WorkerConfig builds the process configuration for delegate d.
func WorkerConfig(d config.DelegateConfig, configPath string) (Config, error) {
	binary := d.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return Config{}, fmt.Errorf("locating worker binary for %q: %w", d.Name, err)
		}
		binary = self
	}

	cfg := DefaultConfig("delegate-"+d.Name, binary, WorkerArgs(d, configPath))
	cfg.RestartOnFailure = d.RestartOnFailure
	cfg.MaxRestartAttempts = d.MaxRestartAttempts
	if d.RestartDelaySeconds > 0 {
		cfg.RestartDelay = time.Duration(d.RestartDelaySeconds) * time.Second
	}
	return cfg, nil
}

// NewSupervisor creates managers for every process delegate in cfg. The
// processes run under base and are started on demand.
func NewSupervisor(base context.Context, cfg *config.Config, configPath string) (*Supervisor, error) {
	s := &Supervisor{
		base:    base,
		logger:  noopLogger{},
		workers: make(map[string]*Manager),
	}
	for _, d := range cfg.Delegates {
		if d.Mode != config.DelegateProcess {
			continue
		}
		pc, err := WorkerConfig(d, configPath)
		if err != nil {
			return nil, err
		}
		s.workers[d.Name] = NewManager(pc)
	}
	return s, nil
}

// SetLogger sets the logger for the supervisor and its managers.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	for _, m := range s.workers {
		m.SetLogger(logger)
	}
}

// Names returns the supervised delegate names in order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EnsureWorker starts the worker for name unless it is already running or
// restarting.
func (s *Supervisor) EnsureWorker(_ context.Context, name string) error {
	s.mu.Lock()
	m, ok := s.workers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("delegate %q is not a supervised worker", name)
	}

	if done := m.Done(); done != nil {
		select {
		case <-done:
		default:
			// Monitor still alive: running or waiting to restart.
			return nil
		}
	}

	s.logger.Info("launching delegate worker", "delegate", name)
	return m.Start(s.base)
}

// Stats returns the state of every worker, ordered by name.
func (s *Supervisor) Stats() []Stats {
	s.mu.Lock()
	all := make([]*Manager, 0, len(s.workers))
	for _, m := range s.workers {
		all = append(all, m)
	}
	s.mu.Unlock()

	out := make([]Stats, 0, len(all))
	for _, m := range all {
		out = append(out, m.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StopAll stops every worker.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	all := make([]*Manager, 0, len(s.workers))
	for _, m := range s.workers {
		all = append(all, m)
	}
	s.mu.Unlock()

	var firstErr error
	for _, m := range all {
		if err := m.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
