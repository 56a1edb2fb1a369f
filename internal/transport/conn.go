// Package transport defines the Transport Channel contract shared by the WebSocket and SSE implementations.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrClosed is returned by Read and Write after the channel has been closed.
var ErrClosed = errors.New("transport closed")

// Conn abstracts one physical connection to a single logical endpoint.
// This interface isolates transport details from the connection manager.
type Conn interface {
	// Read blocks until the next frame arrives.
	// Returns io.EOF or ErrClosed when the connection is gone.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens a Conn to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, ep Endpoint) (Conn, error)

// Dial implements Dialer.
func (f DialFunc) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	return f(ctx, ep)
}

// Stream names the logical channel an endpoint serves.
type Stream string

const (
	StreamUser  Stream = "user"
	StreamAgent Stream = "agent"
)

// Endpoint describes where and as whom to connect.
type Endpoint struct {
	URL            string
	Stream         Stream
	UserID         string
	ConversationID string
	Token          string
	// Query carries additional query parameters.
	Query url.Values
}

// Target returns URL with the identity parameters appended as query parameters.
func (e Endpoint) Target() (string, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint url %q needs a scheme and host", e.URL)
	}
	q := u.Query()
	for k, vs := range e.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	setIf(q, "user_id", e.UserID)
	setIf(q, "conversation_id", e.ConversationID)
	setIf(q, "token", e.Token)
	setIf(q, "role", string(e.Stream))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
