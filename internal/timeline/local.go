package timeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/omochice/supportline/pkg/protocol"
)

// LocalEvent is a message the local user is about to send.
type LocalEvent struct {
	MessageID string
	Content   string
	SentAt    time.Time
}

// NewLocalSend creates a LocalEvent with a fresh message id.
func NewLocalSend(content string, now time.Time) LocalEvent {
	return LocalEvent{
		MessageID: uuid.NewString(),
		Content:   content,
		SentAt:    now,
	}
}

// Message returns the outbound user_message envelope for the event.
func (e LocalEvent) Message() (protocol.Message, error) {
	return protocol.New(protocol.TypeUserMessage, map[string]any{
		"message_id": e.MessageID,
		"content":    e.Content,
		"timestamp":  e.SentAt.UTC().Format(time.RFC3339Nano),
	})
}

// ApplyLocal inserts the optimistic UserMessageItem for e. A repeated message id is ignored.
func ApplyLocal(s State, e LocalEvent) State {
	if e.MessageID == "" {
		return s
	}
	if _, dup := s.index[e.MessageID]; dup {
		return s
	}
	b := newBuilder(s)
	b.append(&UserMessageItem{
		ID:      e.MessageID,
		Content: e.Content,
		SentAt:  e.SentAt,
	})
	return b.state()
}
