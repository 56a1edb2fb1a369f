package timeline_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/supportline/internal/timeline"
	"github.com/omochice/supportline/pkg/protocol"
)

func TestApplyLocal(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := timeline.NewLocalSend("where is my order?", now)

	if _, err := uuid.Parse(ev.MessageID); err != nil {
		t.Errorf("MessageID %q is not a uuid: %v", ev.MessageID, err)
	}

	s := timeline.ApplyLocal(timeline.State{}, ev)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	it, ok := s.Item(ev.MessageID)
	if !ok {
		t.Fatal("optimistic item not found by id")
	}
	want := &timeline.UserMessageItem{ID: ev.MessageID, Content: "where is my order?", SentAt: now}
	if !reflect.DeepEqual(it, want) {
		t.Errorf("item = %+v, want %+v", it, want)
	}

	if again := timeline.ApplyLocal(s, ev); !reflect.DeepEqual(again, s) {
		t.Error("repeated local send changed the state")
	}
	if empty := timeline.ApplyLocal(s, timeline.LocalEvent{Content: "no id"}); empty.Len() != 1 {
		t.Error("local event without id was inserted")
	}
}

func TestApplyLocal_BeforeAssistantReply(t *testing.T) {
	ev := timeline.NewLocalSend("hi", time.Now())
	s := timeline.ApplyLocal(timeline.State{}, ev)
	s = timeline.Reduce(s, delta("t1", "content", "Hello!", 0))

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("Len() = %d, want 2", len(items))
	}
	if items[0].ItemID() != ev.MessageID {
		t.Errorf("first item = %q, want the local message", items[0].ItemID())
	}
}

func TestLocalEvent_Message(t *testing.T) {
	ev := timeline.LocalEvent{
		MessageID: "m1",
		Content:   "hello",
		SentAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	m, err := ev.Message()
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if m.Type != protocol.TypeUserMessage {
		t.Errorf("Type = %s, want %s", m.Type, protocol.TypeUserMessage)
	}
	if m.String("message_id") != "m1" || m.String("content") != "hello" {
		t.Errorf("payload = %v", m.Payload)
	}
	if ts, ok := m.Time("timestamp"); !ok || !ts.Equal(ev.SentAt) {
		t.Errorf("timestamp = %v, %v", ts, ok)
	}
}
