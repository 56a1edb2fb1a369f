// Package protocol defines the JSON envelope exchanged with the support realtime endpoints.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Type is the envelope discriminator.
type Type string

const (
	TypeConnected        Type = "connected"
	TypeAssistantDelta   Type = "assistant.delta"
	TypeAssistantFinal   Type = "assistant.final"
	TypeToolCall         Type = "tool.call"
	TypeToolResult       Type = "tool.result"
	TypeHumanMessage     Type = "human_message"
	TypeHumanMode        Type = "human_mode"
	TypeHandoffStarted   Type = "handoff_started"
	TypeHandoffEnded     Type = "handoff_ended"
	TypeMessageWithdrawn Type = "message_withdrawn"
	TypeMessageEdited    Type = "message_edited"
	TypeMessagesDeleted  Type = "messages_deleted"
	TypeTyping           Type = "typing"
	TypeReadReceipt      Type = "read_receipt"
	TypePresence         Type = "presence"
	TypePing             Type = "ping"
	TypePong             Type = "pong"
	TypeUserMessage      Type = "user_message"
)

var (
	ErrMissingType    = errors.New("envelope has no type")
	ErrInvalidPayload = errors.New("envelope payload is not an object")
)

// IsHeartbeat reports whether t is a keep-alive frame (ping, pong or a namespaced variant).
func (t Type) IsHeartbeat() bool {
	s := string(t)
	return s == string(TypePing) || s == string(TypePong) ||
		strings.HasSuffix(s, ".ping") || strings.HasSuffix(s, ".pong")
}

// Message is one envelope. Payload is never nil on a decoded message.
type Message struct {
	Type    Type
	Payload *structpb.Struct
}

type wireEnvelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a message from a plain map. Values must be JSON-compatible.
func New(t Type, payload map[string]any) (Message, error) {
	s, err := structpb.NewStruct(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to build %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: s}, nil
}

// MustNew is like New but panics on error. Intended for literals in tests and commands.
func MustNew(t Type, payload map[string]any) Message {
	m, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Encode encodes the message into its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	payload := m.Payload
	if payload == nil {
		payload = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	data, err := json.Marshal(wireEnvelope{Type: m.Type, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes a JSON wire frame into the message.
// A missing or null payload decodes as an empty object.
func (m *Message) Decode(data []byte) error {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if env.Type == "" {
		return ErrMissingType
	}
	payload := &structpb.Struct{}
	if raw := bytes.TrimSpace(env.Payload); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if raw[0] != '{' {
			return ErrInvalidPayload
		}
		if err := protojson.Unmarshal(raw, payload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	m.Type = env.Type
	m.Payload = payload
	return nil
}

func (m Message) field(key string) *structpb.Value {
	if m.Payload == nil {
		return nil
	}
	return m.Payload.GetFields()[key]
}

// Has reports whether the payload carries key with a non-null value.
func (m Message) Has(key string) bool {
	v := m.field(key)
	if v == nil {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

// String returns the string field at key, or "" when absent or not a string.
func (m Message) String(key string) string {
	return m.field(key).GetStringValue()
}

// Bool returns the boolean field at key, or false when absent or not a boolean.
func (m Message) Bool(key string) bool {
	return m.field(key).GetBoolValue()
}

// Int returns the numeric field at key truncated to int64.
// ok is false when the field is absent or not a number.
func (m Message) Int(key string) (n int64, ok bool) {
	v := m.field(key)
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return int64(v.GetNumberValue()), true
}

// Strings returns the string elements of the list field at key; non-string elements are skipped.
func (m Message) Strings(key string) []string {
	list := m.field(key).GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

// Raw returns the field at key as a plain Go value (see structpb.Value.AsInterface).
func (m Message) Raw(key string) any {
	v := m.field(key)
	if v == nil {
		return nil
	}
	return v.AsInterface()
}

// Time parses the field at key as an RFC 3339 string or epoch milliseconds.
func (m Message) Time(key string) (time.Time, bool) {
	v := m.field(key)
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		t, err := time.Parse(time.RFC3339Nano, k.StringValue)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case *structpb.Value_NumberValue:
		return time.UnixMilli(int64(k.NumberValue)).UTC(), true
	default:
		return time.Time{}, false
	}
}
