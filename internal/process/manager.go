package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ExitConfig is the exit code a worker uses to say it cannot run with its
// configuration. Such exits are not retried.
const ExitConfig = 78

// maxConsecutiveHealthFailures is how many failed checks kill the process.
const maxConsecutiveHealthFailures = 3

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format) added to
	// the parent's environment.
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// RestartOnFailure enables automatic restart when the process exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the delay before the first restart. Later restarts
	// double it up to MaxRestartDelay.
	RestartDelay time.Duration

	// MaxRestartDelay caps the restart backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its restart
	// count is reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is called periodically while the process runs. Three
	// consecutive failures kill it. Nil means running is healthy.
	HealthCheckFunc func(ctx context.Context) error

	// HealthCheckInterval is how often to run health checks.
	HealthCheckInterval time.Duration

	// OnStart is called each time the process starts.
	OnStart func()

	// OnStop is called when the process stops, with nil for a requested stop.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with restart enabled.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartDelay:     5 * time.Minute,
		StableThreshold:     2 * time.Minute,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RecoverableError is implemented by errors that know whether a restart
// can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether restarting after err makes sense. Errors
// that do not say are treated as recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// ExitError is a process exit with its code.
type ExitError struct {
	Name string
	Code int
	err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process %s exited with code %d", e.Name, e.Code)
}

func (e *ExitError) Unwrap() error { return e.err }

// IsRecoverable is false for ExitConfig.
func (e *ExitError) IsRecoverable() bool { return e.Code != ExitConfig }

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager manages the lifecycle of a subprocess.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Name returns the configured process name.
func (m *Manager) Name() string { return m.config.Name }

// Start launches the subprocess and monitors it until Stop or until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from service configuration
	// Own process group so Stop reaches the worker's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// captureOutput logs the stream line by line.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"line", sc.Text(),
		)
	}
}

// wait blocks until the process exits, ctx is done, or the health check
// fails repeatedly, in which case the process is killed.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- m.exitError(cmd.Wait()) }()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return <-exitCh

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
			if failures < maxConsecutiveHealthFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process", "name", m.config.Name, "failures", failures)
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // exit is awaited below
			}
			select {
			case exitErr := <-exitCh:
				return fmt.Errorf("killed after %d failed health checks: %w", failures, exitErr)
			case <-time.After(5 * time.Second):
				return fmt.Errorf("process did not exit after kill (health check failure)")
			}
		}
	}
}

func (m *Manager) exitError(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Name: m.config.Name, Code: ee.ExitCode(), err: err}
	}
	return err
}

// calculateBackoffDelay returns the delay before restart attempt n,
// doubling from RestartDelay up to MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return min(delay, m.config.MaxRestartDelay)
}

// monitor waits for exits and restarts the process as configured.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()
		if cmd == nil {
			return
		}

		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		ranFor := time.Since(m.startTime)
		if stopRequested || ctx.Err() != nil {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
			if ranFor >= m.config.StableThreshold {
				m.restartCount = 0
			}
		}
		m.mu.Unlock()

		if stopRequested || ctx.Err() != nil {
			m.logger.Info("process stopped", "name", m.config.Name)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err, "ran_for", ranFor)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			return
		}
		if !IsRecoverable(err) {
			m.logger.Error("process exit is not recoverable, not restarting", "name", m.config.Name, "error", err)
			return
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			return
		}

		if err := m.startProcess(ctx); err != nil {
			m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.cmd = nil
			m.mu.Unlock()
			return
		}
	}
}

// Stop sends SIGTERM to the process group and waits for it to exit,
// escalating to SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning || m.status == StatusStarting
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Done is closed when the monitor exits. It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of consecutive restarts.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the process has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time view of a managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
