package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

// workerScript writes an executable shell script standing in for an
// instrumentd worker.
func workerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing worker script: %v", err)
	}
	return path
}

// workerFor builds the manager for a process delegate running script, with
// restart delays shortened for tests.
func workerFor(t *testing.T, d config.DelegateConfig, configPath string) *Manager {
	t.Helper()
	pc, err := WorkerConfig(d, configPath)
	if err != nil {
		t.Fatalf("WorkerConfig(%q) error = %v", d.Name, err)
	}
	pc.RestartDelay = 5 * time.Millisecond
	pc.MaxRestartDelay = 20 * time.Millisecond
	pc.GracefulTimeout = 2 * time.Second
	m := NewManager(pc)
	t.Cleanup(func() { m.Stop() })
	return m
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: monitor did not exit", m.Name())
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerConfig_DefaultRestartPolicy(t *testing.T) {
	pc, err := WorkerConfig(config.DelegateConfig{Name: "gpib0", Binary: "/usr/local/bin/instrumentd"}, "")
	if err != nil {
		t.Fatalf("WorkerConfig() error = %v", err)
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"restart delay", pc.RestartDelay, 5 * time.Second},
		{"max restart delay", pc.MaxRestartDelay, 5 * time.Minute},
		{"stable threshold", pc.StableThreshold, 2 * time.Minute},
		{"graceful timeout", pc.GracefulTimeout, 10 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if pc.RestartOnFailure {
		t.Error("RestartOnFailure = true, want the delegate's setting (false)")
	}
}

func TestManager_WorkerReceivesDelegateArgs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "argv")
	script := workerScript(t, fmt.Sprintf(`echo "$@" > %q
exec sleep 60`, out))

	var stopped atomic.Bool
	m := workerFor(t, config.DelegateConfig{Name: "gpib0", Binary: script}, "/etc/instruments.yaml")
	m.config.OnStop = func(err error) { stopped.Store(err == nil) }

	if st := m.Stats(); st.Status != StatusStopped || st.PID != 0 || st.Name != "delegate-gpib0" {
		t.Fatalf("Stats() before Start = %+v", st)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded while the worker is running")
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Fatalf("after Start: running = %v pid = %d", m.IsRunning(), m.PID())
	}

	want := "delegate --name gpib0 --config /etc/instruments.yaml"
	eventually(t, "worker argv", func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == want
	})

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitDone(t, m)
	if m.Status() != StatusStopped || m.LastError() != nil {
		t.Errorf("after Stop: status = %q lastErr = %v", m.Status(), m.LastError())
	}
	if !stopped.Load() {
		t.Error("OnStop not called with a nil error after Stop")
	}
}

func TestManager_MissingWorkerBinary(t *testing.T) {
	m := workerFor(t, config.DelegateConfig{Name: "ghost", Binary: "/nonexistent/instrumentd"}, "")

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with a missing binary succeeded")
	}
	st := m.Stats()
	if st.Status != StatusFailed || st.LastError == "" {
		t.Errorf("Stats() = %+v, want failed with an error", st)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on a failed worker error = %v", err)
	}
}

func TestManager_ExitConfigNotRestarted(t *testing.T) {
	var restarts atomic.Int32
	m := workerFor(t, config.DelegateConfig{
		Name:             "misconfigured",
		Binary:           workerScript(t, fmt.Sprintf("exit %d", ExitConfig)),
		RestartOnFailure: true,
	}, "")
	m.config.OnRestart = func(int) { restarts.Add(1) }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, m)

	var exitErr *ExitError
	if !errors.As(m.LastError(), &exitErr) || exitErr.Code != ExitConfig || exitErr.Name != "delegate-misconfigured" {
		t.Fatalf("LastError() = %v, want exit code %d", m.LastError(), ExitConfig)
	}
	if n := restarts.Load(); n != 0 {
		t.Errorf("restarts = %d, want 0", n)
	}
}

func TestManager_CrashedWorkerRestarts(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "crashed")
	// Crash on the first run only.
	script := workerScript(t, fmt.Sprintf(`if [ ! -e %q ]; then touch %q; exit 3; fi
exec sleep 60`, marker, marker))

	var attempts atomic.Int32
	m := workerFor(t, config.DelegateConfig{Name: "usb1", Binary: script, RestartOnFailure: true}, "")
	m.config.OnRestart = func(n int) { attempts.Store(int32(n)) }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "restart", func() bool { return attempts.Load() == 1 && m.IsRunning() })

	var exitErr *ExitError
	if !errors.As(m.LastError(), &exitErr) || exitErr.Code != 3 {
		t.Errorf("LastError() = %v, want the crash's exit code", m.LastError())
	}
	if m.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", m.RestartCount())
	}
}

func TestManager_RestartsUntilLimit(t *testing.T) {
	m := workerFor(t, config.DelegateConfig{
		Name:               "flaky",
		Binary:             workerScript(t, "exit 1"),
		RestartOnFailure:   true,
		MaxRestartAttempts: 2,
	}, "")

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, m)

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.RestartCount() != 3 {
		t.Errorf("RestartCount() = %d, want 3 (two restarts then the refused one)", m.RestartCount())
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{Name: "w", RestartDelay: 2 * time.Second, MaxRestartDelay: 10 * time.Second})

	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 10 * time.Second,
		9: 10 * time.Second,
	} {
		if got := m.calculateBackoffDelay(attempt); got != want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"plain error", context.DeadlineExceeded, true},
		{"crash", &ExitError{Name: "w", Code: 1}, true},
		{"config exit", &ExitError{Name: "w", Code: ExitConfig}, false},
		{"wrapped config exit", fmt.Errorf("worker: %w", &ExitError{Name: "w", Code: ExitConfig}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
