package msconsole

import "encoding/json"

// Message is a single turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for the /chat/stream and /chat endpoints.
// History may be nil; the client sends an empty array in that case because
// the backend rejects a null conversation_history.
type ChatRequest struct {
	Message string    `json:"message"`
	History []Message `json:"conversation_history"`
	Model   string    `json:"model,omitempty"`
}

// PingResponse is the response from GET /ping.
type PingResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HealthStatus is the response from GET /health.
type HealthStatus struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	AgentReady bool   `json:"agent_ready"`
}

// ConnCheck is the per-service result inside a test-connection response.
type ConnCheck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConnectionResults holds the individual service checks run by the backend.
type ConnectionResults struct {
	OpenAI   ConnCheck `json:"openai"`
	Database ConnCheck `json:"database"`
}

// TestConnectionResult is the response from POST /test-connection.
type TestConnectionResult struct {
	Success bool               `json:"success"`
	Results *ConnectionResults `json:"results,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ToolCallSummary describes one tool invocation in a synchronous chat response.
type ToolCallSummary struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    string          `json:"result"`
}

// ChatResponse is the response from the non-streaming POST /chat fallback.
type ChatResponse struct {
	Content   string            `json:"content"`
	ToolCalls []ToolCallSummary `json:"tool_calls"`
}

// ModelInfo describes one model offered by the backend.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ModelsResponse is the response from GET /models.
type ModelsResponse struct {
	Models  []ModelInfo `json:"models"`
	Default string      `json:"default"`
}

// ToolFunction is the function portion of a tool definition.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolDef is one entry in the backend's tool list.
type ToolDef struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolsResponse is the response from GET /tools.
type ToolsResponse struct {
	Tools []ToolDef `json:"tools"`
}
