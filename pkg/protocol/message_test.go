package protocol_test

import (
	"errors"
	"testing"
	"time"

	"github.com/omochice/supportline/pkg/protocol"
)

func TestMessage_Encode(t *testing.T) {
	tests := []struct {
		name    string
		msg     protocol.Message
		want    string
		wantErr bool
	}{
		{
			name: "encode ping with nil payload",
			msg:  protocol.Message{Type: protocol.TypePing},
			want: `{"type":"ping","payload":{}}`,
		},
		{
			name: "encode user message",
			msg: protocol.MustNew(protocol.TypeUserMessage, map[string]any{
				"content": "hello",
			}),
			want: `{"type":"user_message","payload":{"content":"hello"}}`,
		},
		{
			name:    "reject message without type",
			msg:     protocol.Message{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Message.Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			// protojson output is not byte-stable, so compare after decoding.
			var got, want protocol.Message
			if err := got.Decode(data); err != nil {
				t.Fatalf("Decode(encoded) error = %v", err)
			}
			if err := want.Decode([]byte(tt.want)); err != nil {
				t.Fatalf("Decode(want) error = %v", err)
			}
			if got.Type != want.Type {
				t.Errorf("Type = %q, want %q", got.Type, want.Type)
			}
			if got.String("content") != want.String("content") {
				t.Errorf("content = %q, want %q", got.String("content"), want.String("content"))
			}
		})
	}
}

func TestMessage_Decode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    protocol.Type
		wantErr error
	}{
		{name: "full envelope", data: `{"type":"assistant.delta","payload":{"turn_id":"t1","text":"hi"}}`, want: protocol.TypeAssistantDelta},
		{name: "missing payload", data: `{"type":"handoff_ended"}`, want: protocol.TypeHandoffEnded},
		{name: "null payload", data: `{"type":"handoff_ended","payload":null}`, want: protocol.TypeHandoffEnded},
		{name: "unknown type is kept", data: `{"type":"future.thing","payload":{}}`, want: protocol.Type("future.thing")},
		{name: "missing type", data: `{"payload":{}}`, wantErr: protocol.ErrMissingType},
		{name: "array payload", data: `{"type":"typing","payload":[1,2]}`, wantErr: protocol.ErrInvalidPayload},
		{name: "string payload", data: `{"type":"typing","payload":"x"}`, wantErr: protocol.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got protocol.Message
			err := got.Decode([]byte(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Type != tt.want {
				t.Errorf("Type = %q, want %q", got.Type, tt.want)
			}
			if got.Payload == nil {
				t.Error("Payload should never be nil after Decode")
			}
		})
	}
}

func TestMessage_Decode_NotJSON(t *testing.T) {
	var m protocol.Message
	if err := m.Decode([]byte("not json")); err == nil {
		t.Error("expected error for non-JSON frame")
	}
}

func TestMessage_Accessors(t *testing.T) {
	var m protocol.Message
	data := `{"type":"human_message","payload":{
		"message_id":"m1",
		"seq":3,
		"is_error":true,
		"message_ids":["a",2,"b"],
		"timestamp":"2024-05-01T10:00:00Z",
		"at_ms":1714557600000,
		"nothing":null,
		"content":42
	}}`
	if err := m.Decode([]byte(data)); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got := m.String("message_id"); got != "m1" {
		t.Errorf("String(message_id) = %q, want m1", got)
	}
	if got := m.String("content"); got != "" {
		t.Errorf("String(content) on a number = %q, want empty", got)
	}
	if got := m.String("absent"); got != "" {
		t.Errorf("String(absent) = %q, want empty", got)
	}
	if n, ok := m.Int("seq"); !ok || n != 3 {
		t.Errorf("Int(seq) = %d, %v; want 3, true", n, ok)
	}
	if _, ok := m.Int("message_id"); ok {
		t.Error("Int(message_id) should not be ok for a string")
	}
	if !m.Bool("is_error") {
		t.Error("Bool(is_error) = false, want true")
	}
	if got := m.Strings("message_ids"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Strings(message_ids) = %v, want [a b]", got)
	}
	if m.Has("nothing") {
		t.Error("Has(nothing) should be false for null")
	}
	if !m.Has("seq") {
		t.Error("Has(seq) should be true")
	}

	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if ts, ok := m.Time("timestamp"); !ok || !ts.Equal(want) {
		t.Errorf("Time(timestamp) = %v, %v; want %v", ts, ok, want)
	}
	if ts, ok := m.Time("at_ms"); !ok || !ts.Equal(want) {
		t.Errorf("Time(at_ms) = %v, %v; want %v", ts, ok, want)
	}
	if _, ok := m.Time("is_error"); ok {
		t.Error("Time(is_error) should not be ok")
	}
}

func TestMessage_AccessorsOnZeroMessage(t *testing.T) {
	var m protocol.Message
	if m.String("x") != "" || m.Bool("x") || m.Has("x") || m.Strings("x") != nil || m.Raw("x") != nil {
		t.Error("accessors on a zero Message should report absence")
	}
}

func TestType_IsHeartbeat(t *testing.T) {
	tests := []struct {
		typ  protocol.Type
		want bool
	}{
		{protocol.TypePing, true},
		{protocol.TypePong, true},
		{"agent.ping", true},
		{"user.pong", true},
		{protocol.TypeTyping, false},
		{"pinger", false},
		{protocol.TypeHumanMessage, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsHeartbeat(); got != tt.want {
				t.Errorf("IsHeartbeat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_RejectsUnsupportedValues(t *testing.T) {
	_, err := protocol.New(protocol.TypeTyping, map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Error("expected error for non-JSON payload value")
	}
}
