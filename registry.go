package msconsole

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Sink receives forwarded stream events in arrival order.
type Sink func(Event)

// StreamResult is the resolution of one StreamChat call. Stream failures
// surface twice: as a forwarded ErrorEvent and as this result; callers
// should check both.
type StreamResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CancelResult reports whether Cancel found an active session to tear down.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// resultCancelled is the error string a cancelled StreamChat resolves with.
const resultCancelled = "cancelled"

// Registry tracks at most one in-flight streaming chat exchange and exposes
// cancellation. Starting a new exchange while another is in flight cancels
// the prior one first: the new message supersedes it.
type Registry struct {
	client *Client
	logger *slog.Logger

	mu     sync.Mutex
	active *streamSession
	gen    uint64
}

// streamSession is the registry's handle on one StreamChat invocation.
// Once cancelled is set no further events reach the sink, regardless of
// what the underlying transport still delivers.
type streamSession struct {
	gen    uint64
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the slog.Logger used by the registry.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a request registry backed by the given client.
func NewRegistry(client *Client, opts ...RegistryOption) *Registry {
	r := &Registry{
		client: client,
		logger: client.logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StreamChat opens a streaming chat exchange and forwards each decoded event
// to sink as it arrives. It blocks until the stream resolves. A non-2xx
// response or mid-stream transport error forwards exactly one ErrorEvent and
// resolves {Success:false}; natural end resolves {Success:true}; cancellation
// (via Cancel or ctx) suppresses all further events and resolves promptly.
func (r *Registry) StreamChat(ctx context.Context, req ChatRequest, sink Sink) StreamResult {
	sctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if prior := r.active; prior != nil {
		r.logger.Debug("cancelling superseded stream session", "generation", prior.gen)
		prior.markCancelled()
	}
	r.gen++
	sess := &streamSession{gen: r.gen, cancel: cancel}
	r.active = sess
	r.mu.Unlock()

	defer r.clear(sess)
	defer cancel()

	stream, err := r.client.OpenChatStream(sctx, req)
	if err != nil {
		if sess.isCancelled() {
			return StreamResult{Success: false, Error: resultCancelled}
		}
		msg := err.Error()
		if apiErr := IsAPIError(err); apiErr != nil {
			msg = fmt.Sprintf("backend error %d: %s", apiErr.StatusCode, apiErr.Body)
		}
		sess.deliver(sink, &ErrorEvent{Message: msg})
		return StreamResult{Success: false, Error: msg}
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			if sess.isCancelled() {
				return StreamResult{Success: false, Error: resultCancelled}
			}
			return StreamResult{Success: true}
		}
		if err != nil {
			// The teardown's own socket error is not a stream failure
			if sess.isCancelled() {
				return StreamResult{Success: false, Error: resultCancelled}
			}
			msg := fmt.Sprintf("stream error: %v", err)
			sess.deliver(sink, &ErrorEvent{Message: msg})
			return StreamResult{Success: false, Error: msg}
		}

		if !sess.deliver(sink, ev) {
			return StreamResult{Success: false, Error: resultCancelled}
		}
	}
}

// Cancel tears down the active session, if any. Cancelling an idle registry
// is a side-effect-free no-op reporting Cancelled:false.
func (r *Registry) Cancel() CancelResult {
	r.mu.Lock()
	sess := r.active
	r.active = nil
	r.mu.Unlock()

	if sess == nil {
		return CancelResult{Cancelled: false}
	}

	r.logger.Debug("cancelling stream session", "generation", sess.gen)
	sess.markCancelled()
	return CancelResult{Cancelled: true}
}

// InFlight reports whether a stream session is currently active.
func (r *Registry) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// clear removes sess from the registry unless a newer session replaced it.
func (r *Registry) clear(sess *streamSession) {
	r.mu.Lock()
	if r.active == sess {
		r.active = nil
	}
	r.mu.Unlock()
}

// markCancelled flips the cancelled flag and destroys the connection. The
// flag is flipped under the session lock, so once this returns no event
// delivery can begin.
func (s *streamSession) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

func (s *streamSession) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// deliver forwards ev to sink unless the session has been cancelled. The
// session lock is held across the sink call: a late event racing Cancel
// either completes before the flag flips or is suppressed.
func (s *streamSession) deliver(sink Sink, ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	if sink != nil {
		sink(ev)
	}
	return true
}
