// Package ws provides the WebSocket Transport Channel built on gobwas/ws.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/supportline/internal/transport"
)

var aLongTimeAgo = time.Unix(1, 0)

// Dialer opens WebSocket connections to an Endpoint.
type Dialer struct {
	// HandshakeTimeout bounds the TCP connect and upgrade. Zero means the context alone bounds it.
	HandshakeTimeout time.Duration
	// Header is sent with the upgrade request.
	Header http.Header
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	target, err := ep.Target()
	if err != nil {
		return nil, err
	}

	dialer := ws.Dialer{Timeout: d.HandshakeTimeout}
	if len(d.Header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(d.Header)
	}

	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if br == nil {
		return NewConn(conn, nil), nil
	}
	return NewConn(conn, br), nil
}

// Conn adapts a client-side gobwas connection to transport.Conn.
// Reads must come from a single goroutine; writes are serialized internally.
type Conn struct {
	conn      net.Conn
	src       io.Reader
	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps an upgraded client connection. br holds bytes the handshake
// buffered past the response and may be nil.
func NewConn(conn net.Conn, br io.Reader) *Conn {
	c := &Conn{conn: conn, src: conn}
	if br != nil {
		c.src = io.MultiReader(br, conn)
	}
	return c
}

// Read implements transport.Conn.
// Returns the next text or binary message; control frames are answered in place.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}

	deadline, hasDeadline := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	data, err := c.readMessage()
	if err != nil {
		switch {
		case c.closed.Load():
			return nil, transport.ErrClosed
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case hasDeadline && errors.Is(err, os.ErrDeadlineExceeded):
			return nil, context.DeadlineExceeded
		}
		var closedErr wsutil.ClosedError
		if errors.As(err, &closedErr) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return data, nil
}

func (c *Conn) readMessage() ([]byte, error) {
	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

// handleControl answers ping and close frames. The reply is assembled in memory
// first so it goes out as one write under the write lock.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	herr := wsutil.ControlHandler{
		Src:   r,
		Dst:   &reply,
		State: ws.StateClientSide,
	}.Handle(hdr)

	if reply.Len() > 0 {
		c.wmu.Lock()
		_, werr := c.conn.Write(reply.Bytes())
		c.wmu.Unlock()
		if werr != nil && herr == nil {
			return werr
		}
	}
	return herr
}

// Write implements transport.Conn.
// Frames go out as text messages since the envelope is JSON.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.wmu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

var _ transport.Conn = (*Conn)(nil)
