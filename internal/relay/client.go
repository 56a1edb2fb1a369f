package relay

import (
	"sync"

	"github.com/google/uuid"
)

// Role is which side of the conversation a client speaks for.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

func parseRole(s string) Role {
	if s == string(RoleAgent) {
		return RoleAgent
	}
	return RoleUser
}

type streamKind string

const (
	streamWebSocket streamKind = "ws"
	streamSSE       streamKind = "sse"
)

const sendBuffer = 64

// Client represents one connected stream, WebSocket or SSE.
type Client struct {
	ID             string
	Role           Role
	UserID         string
	ConversationID string

	kind streamKind
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(kind streamKind, id identity) *Client {
	return &Client{
		ID:             uuid.NewString(),
		Role:           id.role,
		UserID:         id.userID,
		ConversationID: id.conversationID,
		kind:           kind,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}
}

// deliver queues data without blocking. It reports false when the client is
// gone or too slow to keep up.
func (c *Client) deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}
