package ws_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/omochice/supportline/internal/transport"
	"github.com/omochice/supportline/internal/transport/ws"
	"nhooyr.io/websocket"
)

func wsEndpoint(server *httptest.Server) transport.Endpoint {
	return transport.Endpoint{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/user",
		UserID:         "u1",
		ConversationID: "c1",
	}
}

func dial(t *testing.T, server *httptest.Server) transport.Conn {
	t.Helper()
	d := &ws.Dialer{HandshakeTimeout: time.Second}
	conn, err := d.Dial(context.Background(), wsEndpoint(server))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn
}

func TestConn_Read(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		if err := c.Write(context.Background(), websocket.MessageText, []byte(`{"type":"connected"}`)); err != nil {
			t.Errorf("failed to write: %v", err)
		}
		c.Read(context.Background())
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"type":"connected"}` {
		t.Errorf("Read() = %q", string(data))
	}
}

func TestConn_Read_AnswersServerPing(t *testing.T) {
	pinged := make(chan error, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		// Ping needs a concurrent reader on this side to observe the pong.
		ctx := c.CloseRead(context.Background())
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		pinged <- c.Ping(pingCtx)
		c.Write(context.Background(), websocket.MessageText, []byte(`{"type":"typing"}`))
		<-ctx.Done()
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"type":"typing"}` {
		t.Errorf("Read() = %q", string(data))
	}

	select {
	case err := <-pinged:
		if err != nil {
			t.Errorf("server ping was not answered: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ping result")
	}
}

func TestConn_Write(t *testing.T) {
	received := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		typ, data, err := c.Read(context.Background())
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			t.Errorf("message type = %v, want text", typ)
		}
		received <- data
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	if err := conn.Write(context.Background(), []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":"ping"}` {
			t.Errorf("server received %q", string(data))
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestDialer_SendsIdentityQuery(t *testing.T) {
	query := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.Query().Get("user_id") + "/" + r.URL.Query().Get("conversation_id")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	if got := <-query; got != "u1/c1" {
		t.Errorf("identity query = %q, want %q", got, "u1/c1")
	}
}

func TestConn_Close(t *testing.T) {
	status := make(chan websocket.StatusCode, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, err = c.Read(context.Background())
		status <- websocket.CloseStatus(err)
	}))
	defer server.Close()

	conn := dial(t, server)

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case code := <-status:
		if code != websocket.StatusNormalClosure {
			t.Errorf("server saw close status %v, want %v", code, websocket.StatusNormalClosure)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}

	if _, err := conn.Read(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Read() after Close error = %v, want ErrClosed", err)
	}
	if err := conn.Write(context.Background(), []byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
}

func TestConn_Read_ServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "bye")
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := conn.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}
}

func TestConn_Read_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := conn.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want deadline exceeded", err)
	}
}

func TestDialer_ConnectionRefused(t *testing.T) {
	d := &ws.Dialer{HandshakeTimeout: 200 * time.Millisecond}
	_, err := d.Dial(context.Background(), transport.Endpoint{URL: "ws://127.0.0.1:1/ws/user"})
	if err == nil {
		t.Error("expected connection error, got nil")
	}
}

func TestConn_RemoteAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	if addr := conn.RemoteAddr(); addr == "" {
		t.Error("RemoteAddr() returned empty string")
	}
}
