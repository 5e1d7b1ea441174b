package msconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// dataPrefix marks a line carrying one JSON-encoded event payload.
const dataPrefix = "data: "

// frameDecoder accumulates raw stream bytes and splits them into complete
// lines. The buffer holds at most one unterminated trailing fragment; it is
// carried over to the next chunk and never parsed on its own.
type frameDecoder struct {
	rest []byte
}

// feed appends one chunk and returns every line completed by it, in order.
func (d *frameDecoder) feed(chunk []byte) [][]byte {
	d.rest = append(d.rest, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(d.rest, '\n')
		if i < 0 {
			return lines
		}
		line := make([]byte, i)
		copy(line, d.rest[:i])
		lines = append(lines, line)
		d.rest = d.rest[i+1:]
	}
}

// pending returns the unterminated fragment still held in the buffer.
func (d *frameDecoder) pending() []byte {
	return d.rest
}

// ChatStream is one open streaming chat exchange. Events are decoded
// incrementally as response bytes arrive; Next returns them in the order
// their frames were completed.
type ChatStream struct {
	body    io.ReadCloser
	dec     frameDecoder
	queue   []Event
	scratch []byte
	done    bool

	discarded int
	logger    *slog.Logger
}

// Next returns the next decoded event, io.EOF at natural stream end, or the
// transport error that ended the stream. Malformed frames are dropped and
// counted, never returned as errors.
func (cs *ChatStream) Next() (Event, error) {
	for {
		if len(cs.queue) > 0 {
			ev := cs.queue[0]
			cs.queue = cs.queue[1:]
			return ev, nil
		}
		if cs.done {
			return nil, io.EOF
		}

		n, err := cs.body.Read(cs.scratch)
		if n > 0 {
			for _, line := range cs.dec.feed(cs.scratch[:n]) {
				cs.decodeLine(line)
			}
		}
		if err == io.EOF {
			// A trailing fragment with no newline is incomplete; drop it
			if frag := cs.dec.pending(); len(frag) > 0 {
				cs.logger.Debug("discarding incomplete trailing frame", "bytes", len(frag))
			}
			cs.done = true
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// decodeLine parses one complete line. Empty lines are frame separators and
// lines without the data prefix carry no event; both are skipped silently.
// A data line that fails to decode is dropped and counted.
func (cs *ChatStream) decodeLine(line []byte) {
	s := string(line)
	if strings.TrimSpace(s) == "" {
		return
	}
	if !strings.HasPrefix(s, dataPrefix) {
		return
	}

	ev, err := ParseEvent([]byte(strings.TrimPrefix(s, dataPrefix)))
	if err != nil {
		cs.discarded++
		cs.logger.Debug("dropping malformed stream frame", "error", err, "frame", s)
		return
	}
	cs.queue = append(cs.queue, ev)
}

// Discarded returns how many malformed frames this stream has dropped.
func (cs *ChatStream) Discarded() int {
	return cs.discarded
}

// Close tears down the underlying connection.
func (cs *ChatStream) Close() error {
	return cs.body.Close()
}

// ProcessAll forwards every remaining event to handler and closes the stream.
func (cs *ChatStream) ProcessAll(handler func(Event) error) error {
	defer cs.Close()

	for {
		ev, err := cs.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if err := handler(ev); err != nil {
			return err
		}
	}

	return nil
}

// OpenChatStream starts a streaming chat exchange. A non-2xx response is
// read in full and returned as an *APIError; otherwise the returned
// ChatStream decodes events as they arrive. The stream lives until ctx is
// cancelled, Close is called, or the backend ends it.
func (c *Client) OpenChatStream(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	if req.History == nil {
		req.History = []Message{}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/stream", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	// Use client with no timeout for streaming
	streamClient := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   0,
	}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseAPIError(resp, body)
	}

	return &ChatStream{
		body:    resp.Body,
		scratch: make([]byte, 4096),
		logger:  c.logger,
	}, nil
}
