// Package supervisor manages the lifecycle of the local backend server
// process: spawning, readiness detection via output markers with a health
// probe fallback, graceful stop, and restart. All state is owned by one
// Supervisor instance; there are no package-level process handles.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	msconsole "github.com/msconsole/msconsole-go"
)

// State is the backend process lifecycle state.
type State int

// Lifecycle states. Degraded means the process is running but readiness
// could not be verified; callers treat it as advisory, not a failure.
const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateDegraded
	StateCrashed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateCrashed:
		return "crashed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyRunning is returned by Start while a process handle exists.
var ErrAlreadyRunning = errors.New("backend already running")

// SpawnError means the backend could not be launched at all. It is fatal to
// that Start call only; the supervisor remains usable.
type SpawnError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn backend %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying launch error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// CrashError means the process exited without an explicit Stop. The
// supervisor stays Crashed until an external Restart.
type CrashError struct {
	ExitCode int
}

// Error implements the error interface.
func (e *CrashError) Error() string {
	return fmt.Sprintf("backend exited unexpectedly with code %d", e.ExitCode)
}

// Prober runs a bounded-retry health probe. *msconsole.Client satisfies it.
type Prober interface {
	ProbeHealth(ctx context.Context, retries int, delay time.Duration) msconsole.HealthResult
}

// Config holds configuration for the supervisor.
type Config struct {
	Command string
	Args    []string
	Dir     string

	// Env is appended to the parent environment. Values are sensitive
	// (credentials) and are never logged.
	Env []string

	// Port the backend listens on, for status reporting.
	Port int

	// ReadyMarkers are substrings of process output that signal readiness.
	// The first occurrence on stdout or stderr resolves Start immediately.
	ReadyMarkers []string

	// GraceWindow is how long to wait for a marker before falling back to
	// the health prober. Defaults to 3s.
	GraceWindow time.Duration

	// HealthAttempts and HealthDelay shape the fallback probe.
	// Defaults: 5 attempts spaced 1s apart.
	HealthAttempts int
	HealthDelay    time.Duration

	// RestartDelay separates Stop from Start in Restart. Defaults to 1s.
	RestartDelay time.Duration

	// KillGrace is how long the reaper waits after SIGTERM before
	// escalating to SIGKILL. Defaults to 5s.
	KillGrace time.Duration

	// UsePTY runs the backend under a pseudo-terminal so interpreters that
	// buffer non-terminal stdout emit readiness markers promptly.
	UsePTY bool

	// Prober verifies readiness when no marker appears. Optional; without
	// one an expired grace window resolves Degraded directly.
	Prober Prober

	// OnState is invoked after every state transition. Optional.
	OnState func(old, new State)

	Logger *slog.Logger
}

// Supervisor owns the backend process handle. Only the supervisor mutates
// process state; every spawn gets a generation tag and results arriving from
// a superseded generation are discarded.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	output *outputRing

	mu         sync.RWMutex
	state      State
	proc       *process
	gen        uint64
	pid        int
	startedAt  time.Time
	lastExit   *int
	lastHealth *msconsole.HealthResult
}

// process is one spawned backend generation.
type process struct {
	cmd  *exec.Cmd
	ptmx *os.File
	gen  uint64

	scanners  *errgroup.Group
	readyOnce sync.Once
	ready     chan struct{}

	exitCode int
	exited   chan struct{}
}

func (p *process) signalReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State        State      `json:"state"`
	PID          int        `json:"pid,omitempty"`
	Port         int        `json:"port,omitempty"`
	Generation   uint64     `json:"generation"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastExitCode *int       `json:"last_exit_code,omitempty"`
	LastHealth   string     `json:"last_health,omitempty"`
}

// New creates a supervisor. The process is not started until Start.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Command == "" {
		return nil, errors.New("command cannot be empty")
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 3 * time.Second
	}
	if cfg.HealthAttempts <= 0 {
		cfg.HealthAttempts = 5
	}
	if cfg.HealthDelay <= 0 {
		cfg.HealthDelay = time.Second
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger,
		output: newOutputRing(200),
		state:  StateStopped,
	}, nil
}

// Start spawns the backend and resolves its readiness. It returns StateReady
// once a readiness marker appears or the fallback probe succeeds, and
// StateDegraded when the grace window and fallback are both exhausted
// without an error; Degraded is advisory, not a guarantee. Spawn failures
// return a *SpawnError, an exit during startup a *CrashError.
func (s *Supervisor) Start(ctx context.Context) (State, error) {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return s.State(), ErrAlreadyRunning
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	s.gen++
	proc := &process{
		cmd:    cmd,
		gen:    s.gen,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}

	s.output.reset()
	if err := s.spawn(proc); err != nil {
		s.mu.Unlock()
		return StateStopped, err
	}

	s.proc = proc
	s.pid = cmd.Process.Pid
	now := time.Now()
	s.startedAt = now
	old := s.state
	s.state = StateStarting
	s.mu.Unlock()
	s.notify(old, StateStarting)

	s.logger.Info("backend started",
		"pid", cmd.Process.Pid,
		"generation", proc.gen,
		"port", s.cfg.Port)

	go s.monitor(proc)

	return s.awaitReady(ctx, proc)
}

// spawn launches the process, wiring either a PTY or stdout/stderr pipes
// into the marker scanner. Called with s.mu held.
func (s *Supervisor) spawn(proc *process) error {
	cmd := proc.cmd

	if s.cfg.UsePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return &SpawnError{Path: s.cfg.Command, Err: err}
		}
		proc.ptmx = ptmx
		proc.scanStart(s, ptmx)
		return nil
	}

	// Run the backend in its own process group so Stop can signal the
	// whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Path: s.cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Path: s.cfg.Command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Path: s.cfg.Command, Err: err}
	}

	proc.scanStart(s, stdout, stderr)
	return nil
}

// monitor reaps the process and classifies its exit. Exits from a
// superseded generation only record the exit code; they never mutate
// current state.
func (s *Supervisor) monitor(proc *process) {
	proc.scanWait()
	err := proc.cmd.Wait()

	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	proc.exitCode = exitCode
	close(proc.exited)

	s.mu.Lock()
	code := exitCode
	s.lastExit = &code
	if s.proc != proc {
		// Stopped or superseded; the reaper owns cleanup
		s.mu.Unlock()
		s.logger.Debug("backend exited after stop", "generation", proc.gen, "exit_code", exitCode)
		return
	}
	s.proc = nil
	s.pid = 0
	old := s.state
	s.state = StateCrashed
	s.mu.Unlock()
	s.notify(old, StateCrashed)

	s.logger.Error("backend crashed", "generation", proc.gen, "exit_code", exitCode)
}

// Stop sends SIGTERM to the process group and synchronously clears state
// without waiting for exit confirmation; a reaper goroutine escalates to
// SIGKILL after the kill grace. Idempotent: stopping a stopped supervisor
// is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		return nil
	}
	// Clearing s.proc here is what classifies the coming exit as
	// stop-initiated: monitor treats any exit from a non-current handle as
	// expected.
	s.proc = nil
	s.pid = 0
	old := s.state
	s.state = StateStopped
	s.mu.Unlock()
	s.notify(old, StateStopped)

	pid := proc.cmd.Process.Pid
	s.logger.Info("stopping backend", "pid", pid, "generation", proc.gen)

	// PTY children get their controlling session's group; pipe children got
	// their own via Setpgid. Either way -pid addresses the group.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		// Fall back to the process itself (group may already be gone)
		_ = proc.cmd.Process.Signal(unix.SIGTERM)
	}
	if proc.ptmx != nil {
		_ = proc.ptmx.Close()
	}

	go s.reap(proc, pid)
	return nil
}

// reap waits for the stopped process to exit, escalating to SIGKILL when
// the grace period lapses.
func (s *Supervisor) reap(proc *process, pid int) {
	select {
	case <-proc.exited:
		return
	case <-time.After(s.cfg.KillGrace):
	}

	s.logger.Warn("backend ignored SIGTERM, killing", "pid", pid, "generation", proc.gen)
	_ = unix.Kill(-pid, unix.SIGKILL)

	select {
	case <-proc.exited:
	case <-time.After(time.Second):
		s.logger.Error("backend failed to exit after SIGKILL", "pid", pid)
	}
}

// Restart stops the backend, waits out the restart delay, and starts it
// again. Used for explicit restarts and for connection-relevant
// configuration changes; crashes never trigger it automatically.
func (s *Supervisor) Restart(ctx context.Context) (State, error) {
	if err := s.Stop(); err != nil {
		return s.State(), err
	}

	select {
	case <-ctx.Done():
		return s.State(), ctx.Err()
	case <-time.After(s.cfg.RestartDelay):
	}

	return s.Start(ctx)
}

// SetEnv replaces the environment injected into the next spawn. Running
// processes are unaffected until restarted.
func (s *Supervisor) SetEnv(env []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Env = env
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a point-in-time snapshot.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:        s.state,
		PID:          s.pid,
		Port:         s.cfg.Port,
		Generation:   s.gen,
		LastExitCode: s.lastExit,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	if s.lastHealth != nil {
		st.LastHealth = s.lastHealth.Outcome.String()
	}
	return st
}

// RecentOutput returns the retained tail of the backend's output streams.
func (s *Supervisor) RecentOutput() []string {
	return s.output.snapshot()
}

// transition moves to next if proc is still the current generation.
// Returns false when the result is stale and must be discarded.
func (s *Supervisor) transition(proc *process, next State) bool {
	s.mu.Lock()
	if s.proc != proc {
		s.mu.Unlock()
		return false
	}
	old := s.state
	s.state = next
	s.mu.Unlock()
	s.notify(old, next)
	return true
}

func (s *Supervisor) notify(old, next State) {
	if old == next {
		return
	}
	s.logger.Debug("backend state changed", "from", old.String(), "to", next.String())
	if s.cfg.OnState != nil {
		s.cfg.OnState(old, next)
	}
}
