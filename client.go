// Package msconsole provides a Go client and control-plane primitives for the
// MS Console backend server: a typed HTTP client for its local API, a retrying
// health prober, an incrementally-decoded chat event stream, and a request
// registry that enforces single-flight streaming with cancellation.
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
	"time"
)

// DefaultPort is the port the backend listens on unless configured otherwise.
const DefaultPort = 8765

// DefaultBaseURL addresses the backend over the IPv4 loopback. The literal
// address matters: the backend binds IPv4, and "localhost" can resolve to
// ::1 on dual-stack hosts.
const DefaultBaseURL = "http://127.0.0.1:8765"

// Client is the SDK client for talking to a running backend server.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	probeTimeout time.Duration
	logger       *slog.Logger
}

// Option is a functional option for configuring the SDK client.
type Option func(*Client)

// New creates a new backend client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		probeTimeout: 5 * time.Second,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Normalize baseURL
	c.baseURL = strings.TrimRight(c.baseURL, "/")

	return c
}

// WithBaseURL sets a custom base URL for the backend API.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithPort targets the backend on a non-default loopback port.
func WithPort(port int) Option {
	return func(c *Client) {
		c.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the slog.Logger used by this client instance.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProbeTimeout sets the per-attempt timeout used by ProbeHealth.
// Defaults to 5s.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.probeTimeout = d
	}
}

// BaseURL returns the normalized base URL this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks basic connectivity to the backend.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/ping", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp, body)
	}

	var ping PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ping); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &ping, nil
}

// Health fetches the backend's health report. For a bounded-retry readiness
// probe use ProbeHealth instead.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp, body)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &status, nil
}

// TestConnection asks the backend to verify its own upstream connections
// (model API and database) and reports the per-service results.
func (c *Client) TestConnection(ctx context.Context) (*TestConnectionResult, error) {
	jsonData, err := json.Marshal(struct {
		Test bool `json:"test"`
	}{Test: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/test-connection", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Connection tests exercise slow upstreams; allow more than the default timeout
	testClient := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   60 * time.Second,
	}
	resp, err := testClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp, body)
	}

	var result TestConnectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// Chat sends a chat request over the non-streaming fallback endpoint and
// returns the complete response at once.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.History == nil {
		req.History = []Message{}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// A full chat turn can outlast the default timeout
	chatClient := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   0,
	}
	resp, err := chatClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp, body)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &chatResp, nil
}

// Models lists the models the backend offers along with its default.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp, body)
	}

	var models ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &models, nil
}

// Tools lists the tool definitions the backend's agent can invoke.
func (c *Client) Tools(ctx context.Context) (*ToolsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp, body)
	}

	var tools ToolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tools, nil
}
