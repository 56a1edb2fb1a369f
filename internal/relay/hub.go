package relay

import (
	"sync"
)

// Hub groups connected clients by conversation and fans frames out within one.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
	}
}

// Register adds a client to its conversation.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[client.ConversationID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[client.ConversationID] = room
	}
	room[client] = true
}

// Unregister removes a client; empty conversations are dropped.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[client.ConversationID]
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.ConversationID)
	}
}

// ClientCount returns number of connected clients across all conversations.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// RoleCount returns how many clients of role are in a conversation.
func (h *Hub) RoleCount(conversationID string, role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[conversationID] {
		if c.Role == role {
			n++
		}
	}
	return n
}

// Broadcast delivers data to every client in the conversation for which skip
// returns false, and returns how many accepted it. Slow clients are skipped.
func (h *Hub) Broadcast(conversationID string, data []byte, skip func(*Client) bool) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[conversationID] {
		if skip != nil && skip(c) {
			continue
		}
		if c.deliver(data) {
			n++
		}
	}
	return n
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, room := range h.rooms {
		for c := range room {
			c.close()
		}
	}
}
