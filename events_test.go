package msconsole

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Event
		wantErr bool
	}{
		{
			name: "token",
			data: `{"type":"token","content":"Hi"}`,
			want: &TokenEvent{Content: "Hi"},
		},
		{
			name: "token empty content is still present",
			data: `{"type":"token","content":""}`,
			want: &TokenEvent{Content: ""},
		},
		{
			name: "tool call start",
			data: `{"type":"tool_call_start","tool_id":"t1","tool_name":"query_db","arguments":{"sql":"select 1"}}`,
			want: &ToolCallStartEvent{ToolID: "t1", ToolName: "query_db"},
		},
		{
			name: "tool call end",
			data: `{"type":"tool_call_end","tool_id":"t1","result":"1 row"}`,
			want: &ToolCallEndEvent{ToolID: "t1", Result: "1 row"},
		},
		{
			name: "done",
			data: `{"type":"done","content":"Hi there"}`,
			want: &DoneEvent{Content: "Hi there"},
		},
		{
			name: "error",
			data: `{"type":"error","message":"boom"}`,
			want: &ErrorEvent{Message: "boom"},
		},
		{
			name:    "unknown type",
			data:    `{"type":"telemetry","content":"x"}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			data:    `{"content":"x"}`,
			wantErr: true,
		},
		{
			name:    "token missing content",
			data:    `{"type":"token"}`,
			wantErr: true,
		},
		{
			name:    "tool call start missing arguments",
			data:    `{"type":"tool_call_start","tool_id":"t1","tool_name":"query_db"}`,
			wantErr: true,
		},
		{
			name:    "error missing message",
			data:    `{"type":"error"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `data garbage`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Type() != tt.want.Type() {
				t.Errorf("ParseEvent() type = %q, want %q", got.Type(), tt.want.Type())
			}
		})
	}
}

func TestParseEventRejectionTypes(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"telemetry"}`))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("unknown type error = %v, want ErrUnknownEventType", err)
	}

	_, err = ParseEvent([]byte(`{"type":"done"}`))
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("missing field error = %T, want *MissingFieldError", err)
	}
	if missing.Field != "content" {
		t.Errorf("missing field = %q, want %q", missing.Field, "content")
	}
}

func TestParseEventFieldValues(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"tool_call_start","tool_id":"t9","tool_name":"search","arguments":{"q":"ms"}}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	start, ok := ev.(*ToolCallStartEvent)
	if !ok {
		t.Fatalf("ParseEvent() = %T, want *ToolCallStartEvent", ev)
	}
	if start.ToolID != "t9" || start.ToolName != "search" {
		t.Errorf("got tool_id=%q tool_name=%q, want t9/search", start.ToolID, start.ToolName)
	}
	if string(start.Arguments) != `{"q":"ms"}` {
		t.Errorf("arguments = %s, want raw object preserved", start.Arguments)
	}
}

func TestMarshalEventRoundTrip(t *testing.T) {
	events := []Event{
		&TokenEvent{Content: "chunk"},
		&ToolCallEndEvent{ToolID: "t1", Result: "done"},
		&ErrorEvent{Message: "backend gone"},
	}

	for _, ev := range events {
		data, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%v) error = %v", ev.Type(), err)
		}
		back, err := ParseEvent(data)
		if err != nil {
			t.Fatalf("ParseEvent(%s) error = %v", data, err)
		}
		if back.Type() != ev.Type() {
			t.Errorf("round trip type = %q, want %q", back.Type(), ev.Type())
		}
	}
}
