// Package status holds the realtime status shown next to a conversation:
// connection health, handoff state, agent presence and typing, unread count.
package status

import (
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/omochice/supportline/internal/connection"
	"github.com/omochice/supportline/internal/observability"
	"github.com/omochice/supportline/pkg/protocol"
)

// Handoff is who currently answers the conversation.
type Handoff string

const (
	HandoffAI      Handoff = "ai"
	HandoffPending Handoff = "pending"
	HandoffHuman   Handoff = "human"
)

const roleAgent = "agent"

// Status is a snapshot of the store.
type Status struct {
	IsConnected     bool
	ConnectionState connection.State
	ConnectionID    string

	// LastError is the reason of the latest reconnect or terminal close.
	LastError error

	Handoff  Handoff
	Operator string

	AgentOnline       bool
	AgentLastOnlineAt time.Time
	AgentTyping       bool

	UnreadCount int
}

type statusHandler struct {
	id int
	fn func(Status)
}

// Store is safe for concurrent use. Create one per conversation view and Close it on teardown.
type Store struct {
	log *slog.Logger

	mu       sync.Mutex
	status   Status
	nextID   int
	handlers []statusHandler
	detaches []func()
	closed   bool

	// dirty marks a change not yet delivered; notifying is set while one
	// goroutine delivers, so handlers always see changes in order.
	dirty     bool
	notifying bool
}

// New creates a store in its initial state: disconnected, AI handling the conversation.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = observability.Logger()
	}
	return &Store{
		log:    logger,
		status: Status{Handoff: HandoffAI},
	}
}

// Attach feeds the store from m until the returned detach func or Close is called.
func (s *Store) Attach(m *connection.Manager) (detach func()) {
	unsubState := m.OnStateChange(s.HandleStateChange)
	unsubMsg := m.Subscribe(s.HandleMessage)

	var once sync.Once
	detach = func() {
		once.Do(func() {
			unsubState()
			unsubMsg()
		})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		detach()
		return detach
	}
	s.detaches = append(s.detaches, detach)
	s.mu.Unlock()
	return detach
}

// Snapshot returns the current status.
func (s *Store) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnChange registers fn for every status change.
func (s *Store) OnChange(fn func(Status)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers = append(s.handlers, statusHandler{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handlers = slices.DeleteFunc(s.handlers, func(h statusHandler) bool { return h.id == id })
	}
}

// MarkRead resets the unread counter, for when the user views the conversation.
func (s *Store) MarkRead() {
	s.update(func(st *Status) {
		st.UnreadCount = 0
	})
}

// Close detaches from every manager and drops all handlers.
func (s *Store) Close() {
	s.mu.Lock()
	detaches := s.detaches
	s.detaches = nil
	s.handlers = nil
	s.closed = true
	s.mu.Unlock()

	for _, detach := range detaches {
		detach()
	}
}

// HandleStateChange applies a connection state transition.
func (s *Store) HandleStateChange(c connection.StateChange) {
	s.update(func(st *Status) {
		st.ConnectionState = c.To
		st.IsConnected = c.To == connection.StateOpen
		switch {
		case c.Err != nil:
			st.LastError = c.Err
		case c.To == connection.StateOpen:
			st.LastError = nil
		}
		if !st.IsConnected {
			st.AgentTyping = false
		}
	})
}

// HandleMessage applies an inbound message. Types the store does not track are ignored.
func (s *Store) HandleMessage(msg protocol.Message) {
	s.update(func(st *Status) {
		switch msg.Type {
		case protocol.TypeConnected:
			st.ConnectionID = msg.String("connection_id")
		case protocol.TypeHandoffStarted:
			st.Handoff = HandoffPending
		case protocol.TypeHumanMode:
			st.Handoff = HandoffHuman
			if op := msg.String("operator"); op != "" {
				st.Operator = op
			}
		case protocol.TypeHandoffEnded:
			st.Handoff = HandoffAI
			st.Operator = ""
		case protocol.TypePresence:
			if !fromAgent(msg) {
				return
			}
			st.AgentOnline = msg.Bool("online")
			if at, ok := msg.Time("last_online_at"); ok {
				st.AgentLastOnlineAt = at
			}
		case protocol.TypeTyping:
			if !fromAgent(msg) {
				return
			}
			st.AgentTyping = msg.Bool("is_typing")
		case protocol.TypeHumanMessage, protocol.TypeAssistantFinal:
			st.UnreadCount++
			st.AgentTyping = false
		case protocol.TypeReadReceipt:
			st.UnreadCount = 0
		}
	})
}

// fromAgent reports whether a presence or typing event describes the support side.
// Events without a role come from the relay on the agent's behalf.
func fromAgent(msg protocol.Message) bool {
	role := msg.String("role")
	return role == "" || role == roleAgent
}

func (s *Store) update(fn func(*Status)) {
	s.mu.Lock()
	before := s.status
	fn(&s.status)
	if !reflect.DeepEqual(before, s.status) {
		s.dirty = true
	}
	if !s.dirty || s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for s.dirty {
		s.dirty = false
		st := s.status
		handlers := slices.Clone(s.handlers)
		s.mu.Unlock()

		for _, h := range handlers {
			s.notify(h.fn, st)
		}

		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

func (s *Store) notify(h func(Status), st Status) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("status handler panicked", "panic", r)
		}
	}()
	h(st)
}
