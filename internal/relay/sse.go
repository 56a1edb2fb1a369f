package relay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// handleSSE streams the conversation to a client that cannot hold a WebSocket.
// Outbound frames from that client arrive through handleSend.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.identify(r, parseRole(r.URL.Query().Get("role")))
	if err != nil {
		s.reject(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newClient(streamSSE, id)
	s.join(client)
	defer s.leave(client)

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case data := <-client.send:
			if err := writeEvent(w, data); err != nil {
				s.log.Warn("failed to send message to client", "client", client.ID, "err", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, data []byte) error {
	for _, line := range bytes.Split(data, []byte("\n")) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// handleSend accepts one envelope from an SSE client.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.identify(r, parseRole(r.URL.Query().Get("role")))
	if err != nil {
		s.reject(w, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sender := &Client{Role: id.role, UserID: id.userID, ConversationID: id.conversationID, kind: streamSSE}
	reply := func(b []byte) {
		s.hub.Broadcast(id.conversationID, b, func(c *Client) bool {
			return c.kind != streamSSE || c.Role != id.role || c.UserID != id.userID
		})
	}
	if err := s.route(sender, data, reply); err != nil {
		s.log.Warn("discarding malformed frame", "user", id.userID, "err", err)
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
