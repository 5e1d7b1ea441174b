package supervisor

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	msconsole "github.com/msconsole/msconsole-go"
)

// scanStart launches one marker scanner per output stream. The streams are
// drained for the process lifetime so the pipes never fill.
func (p *process) scanStart(s *Supervisor, streams ...io.Reader) {
	p.scanners = &errgroup.Group{}
	for _, r := range streams {
		r := r
		p.scanners.Go(func() error {
			s.scanStream(p, r)
			return nil
		})
	}
}

// scanWait blocks until every output stream has been drained. Wait on the
// command must not run before this: closing the pipes mid-scan would race
// the readers.
func (p *process) scanWait() {
	if p.scanners != nil {
		_ = p.scanners.Wait()
	}
}

// scanStream reads one output stream line by line, retaining lines for
// diagnostics and resolving readiness on the first marker hit. A PTY read
// error at child exit just ends the scan.
func (s *Supervisor) scanStream(p *process, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		s.output.append(line)
		s.logger.Debug("backend output", "line", line)

		if matchesMarker(line, s.cfg.ReadyMarkers) {
			p.signalReady()
		}
	}
}

func matchesMarker(line string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// awaitReady resolves the outcome of one Start call: a marker hit wins
// immediately; an exit during startup is a crash; an expired grace window
// falls back to the health prober. A failed fallback is not an error, it
// resolves Degraded.
func (s *Supervisor) awaitReady(ctx context.Context, proc *process) (State, error) {
	grace := time.NewTimer(s.cfg.GraceWindow)
	defer grace.Stop()

	select {
	case <-proc.ready:
		s.logger.Info("backend ready", "generation", proc.gen, "via", "marker")
		s.transition(proc, StateReady)
		return StateReady, nil

	case <-proc.exited:
		return StateCrashed, &CrashError{ExitCode: proc.exitCode}

	case <-ctx.Done():
		return s.State(), ctx.Err()

	case <-grace.C:
	}

	if s.cfg.Prober == nil {
		s.logger.Warn("no readiness marker within grace window and no prober configured",
			"generation", proc.gen)
		s.transition(proc, StateDegraded)
		return StateDegraded, nil
	}

	s.logger.Debug("no readiness marker within grace window, probing health",
		"generation", proc.gen,
		"attempts", s.cfg.HealthAttempts)

	probeDone := make(chan msconsole.HealthResult, 1)
	go func() {
		probeDone <- s.cfg.Prober.ProbeHealth(ctx, s.cfg.HealthAttempts-1, s.cfg.HealthDelay)
	}()

	select {
	case <-proc.ready:
		s.logger.Info("backend ready", "generation", proc.gen, "via", "marker")
		s.transition(proc, StateReady)
		return StateReady, nil

	case <-proc.exited:
		return StateCrashed, &CrashError{ExitCode: proc.exitCode}

	case <-ctx.Done():
		return s.State(), ctx.Err()

	case res := <-probeDone:
		s.mu.Lock()
		stale := s.proc != proc
		if !stale {
			r := res
			s.lastHealth = &r
		}
		s.mu.Unlock()
		if stale {
			s.logger.Debug("discarding health result from superseded generation",
				"generation", proc.gen)
			return s.State(), nil
		}

		if res.Ok() {
			s.logger.Info("backend ready",
				"generation", proc.gen,
				"via", "health",
				"attempts", res.Attempts)
			s.transition(proc, StateReady)
			return StateReady, nil
		}

		// Soft failure: the process is up but unverified. Callers proceed
		// optimistically and treat this as advisory.
		s.logger.Warn("backend readiness unverified",
			"generation", proc.gen,
			"outcome", res.Outcome.String(),
			"attempts", res.Attempts)
		s.transition(proc, StateDegraded)
		return StateDegraded, nil
	}
}

// outputRing retains the last max lines of backend output.
type outputRing struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newOutputRing(max int) *outputRing {
	return &outputRing{max: max}
}

func (r *outputRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

func (r *outputRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *outputRing) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}
