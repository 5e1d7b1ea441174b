package msconsole

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HealthOutcome classifies the terminal result of a health probe.
type HealthOutcome int

// Probe outcomes, ordered from success to the specific failure reasons.
const (
	HealthOk HealthOutcome = iota
	HealthUnreachable
	HealthTimeout
	HealthBadStatus
)

// String returns the wire name of the outcome.
func (o HealthOutcome) String() string {
	switch o {
	case HealthOk:
		return "ok"
	case HealthUnreachable:
		return "unreachable"
	case HealthTimeout:
		return "timeout"
	case HealthBadStatus:
		return "bad_status"
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// HealthResult is the outcome of a bounded-retry health probe. It reflects
// the final attempt: earlier attempts' failures are consumed by retries.
type HealthResult struct {
	Outcome    HealthOutcome
	StatusCode int
	Attempts   int
	Elapsed    time.Duration

	cause error
}

// Ok reports whether the probe succeeded.
func (r HealthResult) Ok() bool {
	return r.Outcome == HealthOk
}

// Err returns nil for a successful probe and a *HealthError describing the
// terminal failure otherwise.
func (r HealthResult) Err() error {
	if r.Outcome == HealthOk {
		return nil
	}
	return &HealthError{
		Outcome:    r.Outcome,
		StatusCode: r.StatusCode,
		Attempts:   r.Attempts,
		cause:      r.cause,
	}
}

// HealthError is the error form of a failed probe.
type HealthError struct {
	Outcome    HealthOutcome
	StatusCode int
	Attempts   int

	cause error
}

// Error implements the error interface.
func (e *HealthError) Error() string {
	switch e.Outcome {
	case HealthTimeout:
		return fmt.Sprintf("health check timed out after %d attempts", e.Attempts)
	case HealthBadStatus:
		return fmt.Sprintf("health endpoint returned status %d after %d attempts", e.StatusCode, e.Attempts)
	default:
		return fmt.Sprintf("backend unreachable after %d attempts", e.Attempts)
	}
}

// Unwrap returns the underlying transport error, if any.
func (e *HealthError) Unwrap() error {
	return e.cause
}

// ProbeHealth performs a bounded-retry readiness probe against the backend's
// health endpoint. It makes retries+1 attempts, one GET each, spaced by a
// fixed delay with no backoff. A 200 succeeds immediately; every connection
// error, per-attempt timeout, or non-200 status consumes one retry. The
// result carries the final attempt's classification. Cancelling ctx ends the
// probe early with whatever the last attempt observed.
func (c *Client) ProbeHealth(ctx context.Context, retries int, delay time.Duration) HealthResult {
	if retries < 0 {
		retries = 0
	}

	start := time.Now()
	attempts := retries + 1
	var res HealthResult

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				res.Elapsed = time.Since(start)
				return res
			case <-time.After(delay):
			}
		}

		outcome, code, err := c.probeOnce(ctx)
		res.Outcome = outcome
		res.StatusCode = code
		res.cause = err
		res.Attempts = i + 1
		res.Elapsed = time.Since(start)

		if outcome == HealthOk {
			return res
		}
		c.logger.Debug("health probe attempt failed",
			"attempt", i+1,
			"attempts", attempts,
			"outcome", outcome.String(),
			"error", err)
	}

	return res
}

// probeOnce issues a single health GET with the per-attempt timeout applied.
func (c *Client) probeOnce(parent context.Context) (HealthOutcome, int, error) {
	ctx, cancel := context.WithTimeout(parent, c.probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return HealthUnreachable, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return HealthTimeout, 0, err
		}
		return HealthUnreachable, 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused between attempts
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return HealthBadStatus, resp.StatusCode, nil
	}

	return HealthOk, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
