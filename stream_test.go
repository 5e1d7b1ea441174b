package msconsole

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestFrameDecoderChunkSplitInvariance(t *testing.T) {
	// The same byte sequence must yield the same lines regardless of how it
	// was split into chunks.
	const input = "data: {\"type\":\"token\"}\n\ndata: {\"type\":\"done\"}\n"

	splits := [][]string{
		{input},
		{"data: {\"type\":\"to", "ken\"}\n\ndata: {\"type\":\"done\"}\n"},
		{"data: {\"type\":\"token\"}\n\nda", "ta: {\"type\":\"done\"}\n"},
		func() []string {
			var parts []string
			for _, r := range input {
				parts = append(parts, string(r))
			}
			return parts
		}(),
	}

	var want [][]byte
	{
		var d frameDecoder
		want = d.feed([]byte(input))
	}

	for i, chunks := range splits {
		var d frameDecoder
		var got [][]byte
		for _, c := range chunks {
			got = append(got, d.feed([]byte(c))...)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("split %d: lines = %q, want %q", i, got, want)
		}
		if len(d.pending()) != 0 {
			t.Errorf("split %d: pending = %q, want empty", i, d.pending())
		}
	}
}

func TestFrameDecoderRetainsFragment(t *testing.T) {
	var d frameDecoder

	lines := d.feed([]byte("data: {\"ty"))
	if len(lines) != 0 {
		t.Fatalf("feed returned %d lines for unterminated input, want 0", len(lines))
	}
	if got := string(d.pending()); got != "data: {\"ty" {
		t.Errorf("pending = %q, want the raw fragment", got)
	}

	lines = d.feed([]byte("pe\":\"done\"}\n"))
	if len(lines) != 1 || string(lines[0]) != `data: {"type":"done"}` {
		t.Errorf("lines = %q, want the joined line", lines)
	}
}

// streamServer serves a fixed body on /chat/stream, flushing after each
// write so chunk boundaries reach the client as written.
func streamServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		for _, c := range chunks {
			io.WriteString(w, c)
			flusher.Flush()
		}
	}))
}

func TestChatStreamSplitFrames(t *testing.T) {
	// A frame split across two chunks must decode into exactly one event.
	srv := streamServer(t,
		"data: {\"type\":\"token\",\"con",
		"tent\":\"hi\"}\n\ndata: {\"type\":\"done\",\"content\":\"hi\"}\n\n",
	)
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	stream, err := c.OpenChatStream(context.Background(), ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("OpenChatStream() error: %v", err)
	}
	defer stream.Close()

	var events []Event
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %#v", len(events), events)
	}
	tok, ok := events[0].(*TokenEvent)
	if !ok {
		t.Fatalf("events[0] = %T, want *TokenEvent", events[0])
	}
	if tok.Content != "hi" {
		t.Errorf("token content = %q, want %q", tok.Content, "hi")
	}
	if _, ok := events[1].(*DoneEvent); !ok {
		t.Errorf("events[1] = %T, want *DoneEvent", events[1])
	}
	if stream.Discarded() != 0 {
		t.Errorf("discarded = %d, want 0", stream.Discarded())
	}
}

func TestChatStreamDropsMalformedFrames(t *testing.T) {
	srv := streamServer(t,
		"data: {not json}\n\n",
		"data: {\"type\":\"mystery\"}\n\n",
		"data: {\"type\":\"token\"}\n\n", // missing content
		": keep-alive comment\n\n",
		"data: {\"type\":\"token\",\"content\":\"ok\"}\n\n",
		"data: {\"type\":\"done\",\"content\":\"ok\"}\n\n",
	)
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	stream, err := c.OpenChatStream(context.Background(), ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("OpenChatStream() error: %v", err)
	}

	var events []Event
	err = stream.ProcessAll(func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessAll() error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed frames must be dropped)", len(events))
	}
	// Non-data lines are skipped silently; only broken data lines count
	if got := stream.Discarded(); got != 3 {
		t.Errorf("discarded = %d, want 3", got)
	}
}

func TestChatStreamDropsTrailingFragment(t *testing.T) {
	// Body ends mid-frame with no newline; the fragment must not surface as
	// an event or an error.
	srv := streamServer(t,
		"data: {\"type\":\"token\",\"content\":\"a\"}\n\n",
		"data: {\"type\":\"done\",\"cont",
	)
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	stream, err := c.OpenChatStream(context.Background(), ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("OpenChatStream() error: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if _, ok := ev.(*TokenEvent); !ok {
		t.Fatalf("first event = %T, want *TokenEvent", ev)
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("Next() after truncated body = %v, want io.EOF", err)
	}
}

func TestOpenChatStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := c.OpenChatStream(context.Background(), ChatRequest{Message: "hello"})
	if err == nil {
		t.Fatal("OpenChatStream() succeeded on 500, want error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Body != "Internal error\n" {
		t.Errorf("body = %q, want the response body", apiErr.Body)
	}
}
