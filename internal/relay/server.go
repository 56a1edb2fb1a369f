// Package relay is a development server that speaks the realtime envelope:
// it joins user and agent streams per conversation and relays frames between them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/omochice/supportline/internal/observability"
	"github.com/omochice/supportline/pkg/protocol"
)

// ProtocolVersion is announced in every connected event.
const ProtocolVersion = 1

const maxFrameSize = 64 << 10

// Config controls a Server.
type Config struct {
	Addr string
	// JWTSecret enables token checks when set.
	JWTSecret string
	// KeepAlive is the SSE comment interval. Zero means 15s.
	KeepAlive time.Duration
	Logger    *slog.Logger
}

// Server represents the relay.
type Server struct {
	cfg    Config
	hub    *Hub
	auth   *Auth
	log    *slog.Logger
	router *chi.Mux

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a Server; call Start to listen or mount Handler elsewhere.
func New(cfg Config) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Logger()
	}
	s := &Server{
		cfg:  cfg,
		hub:  NewHub(),
		auth: NewAuth(cfg.JWTSecret),
		log:  cfg.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/user", s.handleWebSocket(RoleUser))
	r.Get("/ws/agent", s.handleWebSocket(RoleAgent))
	r.Get("/sse", s.handleSSE)
	r.Post("/send", s.handleSend)
	return r
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the client registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Auth returns the token issuer/verifier.
func (s *Server) Auth() *Auth {
	return s.auth
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	s.log.Info("relay started", "addr", listener.Addr().String(), "auth", s.auth.Enabled())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Addr returns the server's listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.hub.ClientCount())
}

// join registers c and greets it with a connected event and the counterpart's presence.
func (s *Server) join(c *Client) {
	s.hub.Register(c)
	s.log.Info("client connected",
		"client", c.ID, "role", c.Role, "user", c.UserID, "conversation", c.ConversationID, "stream", c.kind)

	c.deliver(s.envelope(protocol.TypeConnected, map[string]any{
		"connection_id":    c.ID,
		"protocol_version": ProtocolVersion,
		"event_id":         uuid.NewString(),
	}))

	switch c.Role {
	case RoleAgent:
		if s.hub.RoleCount(c.ConversationID, RoleAgent) == 1 {
			s.hub.Broadcast(c.ConversationID, s.presence(RoleAgent, true), isRole(RoleAgent))
		}
	case RoleUser:
		if s.hub.RoleCount(c.ConversationID, RoleAgent) > 0 {
			c.deliver(s.presence(RoleAgent, true))
		}
	}
}

func (s *Server) leave(c *Client) {
	s.hub.Unregister(c)
	c.close()
	s.log.Info("client disconnected", "client", c.ID, "role", c.Role, "conversation", c.ConversationID)

	if c.Role == RoleAgent && s.hub.RoleCount(c.ConversationID, RoleAgent) == 0 {
		s.hub.Broadcast(c.ConversationID, s.presence(RoleAgent, false), nil)
	}
}

// route handles one inbound frame from c. Pings are answered to the sender;
// every other valid envelope goes to the rest of the conversation.
func (s *Server) route(c *Client, data []byte, reply func([]byte)) error {
	var msg protocol.Message
	if err := msg.Decode(data); err != nil {
		return err
	}
	if msg.Type.IsHeartbeat() {
		if msg.Type == protocol.TypePing || strings.HasSuffix(string(msg.Type), ".ping") {
			reply(s.envelope(protocol.TypePong, nil))
		}
		return nil
	}
	s.hub.Broadcast(c.ConversationID, data, func(other *Client) bool {
		if other == c {
			return true
		}
		// An SSE sender has no instance in the hub; skip its own streams instead.
		return c.kind == streamSSE && other.kind == streamSSE && other.Role == c.Role && other.UserID == c.UserID
	})
	return nil
}

func (s *Server) presence(role Role, online bool) []byte {
	payload := map[string]any{"role": string(role), "online": online}
	if !online {
		payload["last_online_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return s.envelope(protocol.TypePresence, payload)
}

func (s *Server) envelope(t protocol.Type, payload map[string]any) []byte {
	msg, err := protocol.New(t, payload)
	if err == nil {
		var data []byte
		if data, err = msg.Encode(); err == nil {
			return data
		}
	}
	s.log.Error("failed to build envelope", "type", t, "err", err)
	return nil
}

func isRole(role Role) func(*Client) bool {
	return func(c *Client) bool { return c.Role == role }
}
