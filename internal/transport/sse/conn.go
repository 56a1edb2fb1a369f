// Package sse provides a half-duplex Transport Channel: inbound frames arrive
// as a server-sent event stream, outbound frames are POSTed.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/omochice/supportline/internal/transport"
)

// ErrUnexpectedStatus is returned when the stream or send endpoint answers with a non-success status.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// keepAliveFrame is surfaced for SSE comment lines so that idle-stream
// keep-alives count as inbound traffic for heartbeat purposes.
var keepAliveFrame = []byte(`{"type":"pong","payload":{}}`)

// Dialer opens SSE streams.
type Dialer struct {
	// Client is used for both the stream and sends. Nil means http.DefaultClient.
	Client *http.Client
	// SendURL receives outbound frames. Empty means "send" resolved against the stream URL.
	SendURL string
}

// Dial implements transport.Dialer. ctx bounds only the request handshake;
// the stream stays open until Close.
func (d *Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	target, err := ep.Target()
	if err != nil {
		return nil, err
	}
	sendURL, err := d.sendURL(target)
	if err != nil {
		return nil, err
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	stop := context.AfterFunc(ctx, cancel)
	resp, err := client.Do(req)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return &Conn{
		body:       resp.Body,
		reader:     bufio.NewReader(resp.Body),
		cancel:     cancel,
		client:     client,
		sendURL:    sendURL,
		remoteAddr: req.URL.Host,
	}, nil
}

func (d *Dialer) sendURL(target string) (string, error) {
	base, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint url: %w", err)
	}
	ref := d.SendURL
	if ref == "" {
		ref = "send"
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse send url: %w", err)
	}
	u := base.ResolveReference(refURL)
	if u.RawQuery == "" {
		u.RawQuery = base.RawQuery
	}
	return u.String(), nil
}

// Conn is one open event stream plus its send endpoint.
type Conn struct {
	body       io.ReadCloser
	reader     *bufio.Reader
	cancel     context.CancelFunc
	client     *http.Client
	sendURL    string
	remoteAddr string
	closed     atomic.Bool
	closeOnce  sync.Once
}

// Read implements transport.Conn. It returns the data of the next event;
// multi-line data fields are joined with newlines. Cancelling ctx tears down the stream.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	var data []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			switch {
			case c.closed.Load():
				return nil, transport.ErrClosed
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, io.EOF):
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
		case strings.HasPrefix(line, ":"):
			if len(data) == 0 {
				return keepAliveFrame, nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		err = c.body.Close()
	})
	return err
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

var _ transport.Conn = (*Conn)(nil)
