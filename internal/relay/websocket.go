package relay

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // development relay
	},
}

func (s *Server) handleWebSocket(role Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.identify(r, role)
		if err != nil {
			s.reject(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("failed to upgrade connection", "err", err)
			return
		}
		conn.SetReadLimit(maxFrameSize)

		client := newClient(streamWebSocket, id)
		s.join(client)

		s.wg.Add(2)
		go s.writePump(conn, client)
		go s.readPump(conn, client)
	}
}

func (s *Server) reject(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnauthorized) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// readPump relays frames from one WebSocket client until it disconnects.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.wg.Done()
	defer func() {
		s.leave(client)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read failed", "client", client.ID, "err", err)
			}
			return
		}
		reply := func(b []byte) { client.deliver(b) }
		if err := s.route(client, data, reply); err != nil {
			s.log.Warn("discarding malformed frame", "client", client.ID, "err", err)
		}
	}
}

// writePump sends queued frames to one client; it owns all writes on conn.
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		select {
		case data := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Warn("failed to send message to client", "client", client.ID, "err", err)
				client.close()
				return
			}
		case <-client.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
