package msconsole

import (
	"encoding/json"
	"fmt"
)

// EventType identifies one of the five stream event kinds.
type EventType string

// Stream event types emitted by the backend.
const (
	EventToken         EventType = "token"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one decoded stream event. The set of implementations is closed:
// TokenEvent, ToolCallStartEvent, ToolCallEndEvent, DoneEvent and ErrorEvent
// are the only variants, matching the backend's wire contract.
type Event interface {
	Type() EventType
	isEvent()
}

// TokenEvent carries one increment of response text.
type TokenEvent struct {
	Content string `json:"content"`
}

// ToolCallStartEvent announces a tool invocation with its decoded arguments.
type ToolCallStartEvent struct {
	ToolID    string          `json:"tool_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallEndEvent carries the result of a completed tool invocation.
type ToolCallEndEvent struct {
	ToolID string `json:"tool_id"`
	Result string `json:"result"`
}

// DoneEvent ends a stream and carries the final full response text.
type DoneEvent struct {
	Content string `json:"content"`
}

// ErrorEvent reports a backend or transport failure on the stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Type implements Event.
func (*TokenEvent) Type() EventType { return EventToken }

// Type implements Event.
func (*ToolCallStartEvent) Type() EventType { return EventToolCallStart }

// Type implements Event.
func (*ToolCallEndEvent) Type() EventType { return EventToolCallEnd }

// Type implements Event.
func (*DoneEvent) Type() EventType { return EventDone }

// Type implements Event.
func (*ErrorEvent) Type() EventType { return EventError }

func (*TokenEvent) isEvent()         {}
func (*ToolCallStartEvent) isEvent() {}
func (*ToolCallEndEvent) isEvent()   {}
func (*DoneEvent) isEvent()          {}
func (*ErrorEvent) isEvent()         {}

// MarshalEvent encodes an event in its wire shape, including the type tag.
func MarshalEvent(ev Event) ([]byte, error) {
	type envelope struct {
		Type EventType `json:"type"`
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(envelope{Type: ev.Type()})
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return tag, nil
	}
	// Splice the type tag into the variant's own object
	out := append(tag[:len(tag)-1], ',')
	out = append(out, body[1:]...)
	return out, nil
}

// ParseEvent decodes one wire frame payload into its event variant. A frame
// with an unknown type or a known type missing a required field is rejected
// with ErrUnknownEventType or a MissingFieldError; callers decide whether a
// rejection is fatal.
func ParseEvent(data []byte) (Event, error) {
	var env struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if env.Type == "" {
		return nil, &MissingFieldError{Field: "type"}
	}

	switch env.Type {
	case EventToken:
		var aux struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return nil, fmt.Errorf("failed to parse token event: %w", err)
		}
		if aux.Content == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "content"}
		}
		return &TokenEvent{Content: *aux.Content}, nil

	case EventToolCallStart:
		var aux struct {
			ToolID    *string         `json:"tool_id"`
			ToolName  *string         `json:"tool_name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return nil, fmt.Errorf("failed to parse tool_call_start event: %w", err)
		}
		if aux.ToolID == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "tool_id"}
		}
		if aux.ToolName == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "tool_name"}
		}
		if len(aux.Arguments) == 0 {
			return nil, &MissingFieldError{EventType: env.Type, Field: "arguments"}
		}
		return &ToolCallStartEvent{ToolID: *aux.ToolID, ToolName: *aux.ToolName, Arguments: aux.Arguments}, nil

	case EventToolCallEnd:
		var aux struct {
			ToolID *string `json:"tool_id"`
			Result *string `json:"result"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return nil, fmt.Errorf("failed to parse tool_call_end event: %w", err)
		}
		if aux.ToolID == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "tool_id"}
		}
		if aux.Result == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "result"}
		}
		return &ToolCallEndEvent{ToolID: *aux.ToolID, Result: *aux.Result}, nil

	case EventDone:
		var aux struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return nil, fmt.Errorf("failed to parse done event: %w", err)
		}
		if aux.Content == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "content"}
		}
		return &DoneEvent{Content: *aux.Content}, nil

	case EventError:
		var aux struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return nil, fmt.Errorf("failed to parse error event: %w", err)
		}
		if aux.Message == nil {
			return nil, &MissingFieldError{EventType: env.Type, Field: "message"}
		}
		return &ErrorEvent{Message: *aux.Message}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
}
