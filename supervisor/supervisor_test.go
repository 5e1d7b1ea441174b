package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	msconsole "github.com/msconsole/msconsole-go"
)

// writeScript creates an executable bash script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

// stubProber returns a fixed health result after an optional delay. When
// started is set it is closed as probing begins.
type stubProber struct {
	outcome msconsole.HealthOutcome
	delay   time.Duration
	started chan struct{}

	startOnce sync.Once
}

func (p *stubProber) ProbeHealth(ctx context.Context, retries int, delay time.Duration) msconsole.HealthResult {
	if p.started != nil {
		p.startOnce.Do(func() { close(p.started) })
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	return msconsole.HealthResult{Outcome: p.outcome, Attempts: retries + 1}
}

// stateRecorder collects transitions for later assertions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_, next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, next)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  Config{Command: "echo", Args: []string{"test"}},
			wantErr: false,
		},
		{
			name:    "empty command",
			config:  Config{Command: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Error("New() returned nil supervisor")
			}
			if !tt.wantErr && s.State() != StateStopped {
				t.Errorf("initial state = %v, want stopped", s.State())
			}
		})
	}
}

func TestStartReadyViaMarker(t *testing.T) {
	script := writeScript(t, t.TempDir(), "ready.sh", `
echo "Starting server on port 8765"
sleep 30
`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"Starting server on port"},
		GraceWindow:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	start := time.Now()
	state, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if state != StateReady {
		t.Errorf("Start() state = %v, want ready", state)
	}
	// Marker must resolve readiness well before the grace window lapses
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("marker readiness took %v", elapsed)
	}

	status := s.Status()
	if status.PID <= 0 {
		t.Errorf("status PID = %d, want > 0", status.PID)
	}
	if status.Generation != 1 {
		t.Errorf("generation = %d, want 1", status.Generation)
	}
}

func TestStartDoubleStart(t *testing.T) {
	script := writeScript(t, t.TempDir(), "ready.sh", `
echo "ready now"
sleep 30
`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"ready now"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartSpawnError(t *testing.T) {
	s, err := New(Config{Command: "/nonexistent/backend/binary"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = s.Start(context.Background())
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Start() error = %v, want *SpawnError", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state after spawn failure = %v, want stopped", s.State())
	}
	// A spawn failure must not poison later starts
	if _, err := s.Start(context.Background()); errors.Is(err, ErrAlreadyRunning) {
		t.Error("supervisor still holds a process handle after spawn failure")
	}
}

func TestStartCrashDuringStartup(t *testing.T) {
	script := writeScript(t, t.TempDir(), "crash.sh", `
echo "booting"
exit 3
`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"never printed"},
		GraceWindow:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	state, err := s.Start(context.Background())
	var crashErr *CrashError
	if !errors.As(err, &crashErr) {
		t.Fatalf("Start() error = %v, want *CrashError", err)
	}
	if crashErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", crashErr.ExitCode)
	}
	if state != StateCrashed {
		t.Errorf("Start() state = %v, want crashed", state)
	}
}

func TestCrashAfterReady(t *testing.T) {
	script := writeScript(t, t.TempDir(), "crash.sh", `
echo "serving"
sleep 0.2
exit 7
`)

	rec := &stateRecorder{}
	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"serving"},
		OnState:      rec.record,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != StateCrashed {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want crashed", s.State())
		}
		time.Sleep(20 * time.Millisecond)
	}

	status := s.Status()
	if status.LastExitCode == nil || *status.LastExitCode != 7 {
		t.Errorf("last exit code = %v, want 7", status.LastExitCode)
	}
	// No automatic restart: the state must stay crashed
	time.Sleep(100 * time.Millisecond)
	if s.State() != StateCrashed {
		t.Errorf("state drifted to %v after crash, want crashed", s.State())
	}
}

func TestHealthFallbackReady(t *testing.T) {
	// No marker ever appears; readiness comes from the prober.
	script := writeScript(t, t.TempDir(), "silent.sh", `sleep 30`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"never printed"},
		GraceWindow:  100 * time.Millisecond,
		Prober:       &stubProber{outcome: msconsole.HealthOk},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	state, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if state != StateReady {
		t.Errorf("Start() state = %v, want ready via health fallback", state)
	}
	if s.Status().LastHealth != "ok" {
		t.Errorf("last health = %q, want %q", s.Status().LastHealth, "ok")
	}
}

func TestHealthFallbackDegraded(t *testing.T) {
	script := writeScript(t, t.TempDir(), "silent.sh", `sleep 30`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"never printed"},
		GraceWindow:  100 * time.Millisecond,
		Prober:       &stubProber{outcome: msconsole.HealthUnreachable},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	state, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v (unverified readiness must not be an error)", err)
	}
	if state != StateDegraded {
		t.Errorf("Start() state = %v, want degraded", state)
	}
	if s.State() != StateDegraded {
		t.Errorf("State() = %v, want degraded", s.State())
	}
}

func TestStopDuringFallbackProbeDiscardsResult(t *testing.T) {
	// Stop while the fallback probe is in flight: the probe result belongs
	// to a superseded generation and must not touch state or LastHealth.
	script := writeScript(t, t.TempDir(), "silent.sh", `
trap '' SIGTERM
while true; do sleep 0.1; done
`)

	prober := &stubProber{
		outcome: msconsole.HealthOk,
		delay:   400 * time.Millisecond,
		started: make(chan struct{}),
	}
	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"never printed"},
		GraceWindow:  50 * time.Millisecond,
		KillGrace:    time.Second,
		Prober:       prober,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	type startResult struct {
		state State
		err   error
	}
	done := make(chan startResult, 1)
	go func() {
		state, err := s.Start(context.Background())
		done <- startResult{state, err}
	}()

	select {
	case <-prober.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fallback probe never started")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Start() error after stop: %v", res.err)
		}
		if res.state != StateStopped {
			t.Errorf("Start() resolved %v after stop, want stopped", res.state)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not resolve after stop")
	}

	if s.State() != StateStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
	if got := s.Status().LastHealth; got != "" {
		t.Errorf("LastHealth = %q recorded from a superseded probe, want empty", got)
	}
	// A late Ok result must not flip the state either
	time.Sleep(500 * time.Millisecond)
	if s.State() != StateStopped {
		t.Errorf("state drifted to %v after stale probe result, want stopped", s.State())
	}
}

func TestNoProberDegraded(t *testing.T) {
	script := writeScript(t, t.TempDir(), "silent.sh", `sleep 30`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"never printed"},
		GraceWindow:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	state, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if state != StateDegraded {
		t.Errorf("Start() state = %v, want degraded without a prober", state)
	}
}

func TestStopIdempotent(t *testing.T) {
	script := writeScript(t, t.TempDir(), "ready.sh", `
echo "up"
trap 'exit 0' SIGTERM
while true; do sleep 0.1; done
`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"up"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	// State clears synchronously, before exit confirmation
	if s.State() != StateStopped {
		t.Errorf("state after Stop() = %v, want stopped", s.State())
	}
	if s.Status().PID != 0 {
		t.Errorf("PID after Stop() = %d, want 0", s.Status().PID)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error: %v, want nil", err)
	}
	// A stop-initiated exit must never surface as a crash
	time.Sleep(300 * time.Millisecond)
	if s.State() != StateStopped {
		t.Errorf("state settled at %v after Stop(), want stopped", s.State())
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	script := writeScript(t, t.TempDir(), "stubborn.sh", `
echo "up"
trap '' SIGTERM
while true; do sleep 0.1; done
`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"up"},
		KillGrace:    200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	pid := s.Status().PID

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	// The reaper must SIGKILL the SIGTERM-ignoring process
	deadline := time.Now().Add(5 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("pid %d still alive after kill grace", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks existence
	return proc.Signal(syscall.Signal(0)) == nil
}

func TestRestartWalksStates(t *testing.T) {
	script := writeScript(t, t.TempDir(), "ready.sh", `
echo "serving requests"
trap 'exit 0' SIGTERM
while true; do sleep 0.1; done
`)

	rec := &stateRecorder{}
	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"serving requests"},
		RestartDelay: 50 * time.Millisecond,
		OnState:      rec.record,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	state, err := s.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	if state != StateReady {
		t.Errorf("Restart() state = %v, want ready", state)
	}
	if gen := s.Status().Generation; gen != 2 {
		t.Errorf("generation after restart = %d, want 2", gen)
	}

	want := []State{StateStarting, StateReady, StateStopped, StateStarting, StateReady}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v (full walk %v)", i, got[i], want[i], got)
		}
	}
}

func TestRecentOutput(t *testing.T) {
	script := writeScript(t, t.TempDir(), "chatty.sh", `
echo "line one"
echo "line two" >&2
echo "backend ready"
sleep 30
`)

	s, err := New(Config{
		Command:      "bash",
		Args:         []string{script},
		ReadyMarkers: []string{"backend ready"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Both streams feed the ring; order across streams is not guaranteed
	deadline := time.Now().Add(3 * time.Second)
	for {
		lines := s.RecentOutput()
		seen := map[string]bool{}
		for _, l := range lines {
			seen[l] = true
		}
		if seen["line one"] && seen["line two"] && seen["backend ready"] {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("output ring = %v, want all three lines", lines)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestOutputRingBounded(t *testing.T) {
	r := newOutputRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.append(l)
	}

	got := r.snapshot()
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}

	r.reset()
	if len(r.snapshot()) != 0 {
		t.Error("reset did not clear the ring")
	}
}
