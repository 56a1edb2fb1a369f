package connection_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/supportline/internal/connection"
	"github.com/omochice/supportline/internal/observability"
	"github.com/omochice/supportline/internal/transport"
	"github.com/omochice/supportline/pkg/protocol"
)

// fakeClock fires timers only when the test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) connection.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) nextDueLocked(target time.Duration) *fakeTimer {
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at == due[j].at {
			return due[i].seq < due[j].seq
		}
		return due[i].at < due[j].at
	})
	return due[0]
}

// Pending returns the number of timers that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type dialResult struct {
	conn transport.Conn
	err  error
}

// fakeDialer hands out scripted results; each Dial blocks until one is pushed.
type fakeDialer struct {
	results chan dialResult
	dials   atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	d.dials.Add(1)
	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) succeed(c *fakeConn) { d.results <- dialResult{conn: c} }
func (d *fakeDialer) fail(err error)      { d.results <- dialResult{err: err} }

type fakeConn struct {
	reads   chan []byte
	readErr chan error
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.reads:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// writtenTypes decodes every frame written so far and returns the envelope types.
func (c *fakeConn) writtenTypes(t *testing.T) []protocol.Type {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []protocol.Type
	for _, data := range c.written {
		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			t.Fatalf("written frame %q is not an envelope: %v", data, err)
		}
		types = append(types, msg.Type)
	}
	return types
}

func (c *fakeConn) writtenTexts(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var texts []string
	for _, data := range c.written {
		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			t.Fatalf("written frame %q is not an envelope: %v", data, err)
		}
		texts = append(texts, msg.String("text"))
	}
	return texts
}

var errDial = errors.New("dial refused")

var testEndpoint = transport.Endpoint{URL: "ws://example.test/ws/user", UserID: "u1", ConversationID: "c1"}

func testConfig(clock *fakeClock) connection.Config {
	return connection.Config{
		HeartbeatInterval: -1,
		HeartbeatTimeout:  -1,
		BaseDelay:         time.Second,
		MaxDelay:          8 * time.Second,
		MaxJitter:         -1,
		MaxAttempts:       -1,
		Clock:             clock,
		Logger:            observability.Discard(),
	}
}

type harness struct {
	t       *testing.T
	clock   *fakeClock
	dialer  *fakeDialer
	m       *connection.Manager
	changes chan connection.StateChange
	msgs    chan protocol.Message
}

func newHarness(t *testing.T, configure func(*connection.Config)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   &fakeClock{},
		dialer:  newFakeDialer(),
		changes: make(chan connection.StateChange, 64),
		msgs:    make(chan protocol.Message, 64),
	}
	cfg := testConfig(h.clock)
	if configure != nil {
		configure(&cfg)
	}
	h.m = connection.New(h.dialer, cfg)
	h.m.OnStateChange(func(c connection.StateChange) { h.changes <- c })
	h.m.Subscribe(func(msg protocol.Message) { h.msgs <- msg })
	t.Cleanup(h.m.Disconnect)
	return h
}

// waitState consumes state changes until one reaches want.
func (h *harness) waitState(want connection.State) connection.StateChange {
	h.t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case c := <-h.changes:
			if c.To == want {
				return c
			}
		case <-timeout:
			h.t.Fatalf("timeout waiting for state %s, current %s", want, h.m.State())
			return connection.StateChange{}
		}
	}
}

func (h *harness) waitMessage() protocol.Message {
	h.t.Helper()
	select {
	case msg := <-h.msgs:
		return msg
	case <-time.After(time.Second):
		h.t.Fatal("timeout waiting for message")
		return protocol.Message{}
	}
}

func (h *harness) expectNoChange(d time.Duration) {
	h.t.Helper()
	select {
	case c := <-h.changes:
		h.t.Errorf("unexpected state change %s -> %s (err %v)", c.From, c.To, c.Err)
	case <-time.After(d):
	}
}

// open connects and waits until the manager reports open on conn.
func (h *harness) open() *fakeConn {
	h.t.Helper()
	conn := newFakeConn()
	h.dialer.succeed(conn)
	h.m.Connect(testEndpoint)
	h.waitState(connection.StateOpen)
	return conn
}

func userMessage(text string) protocol.Message {
	return protocol.MustNew(protocol.TypeUserMessage, map[string]any{"text": text})
}

func frame(t *testing.T, typ protocol.Type, payload map[string]any) []byte {
	t.Helper()
	msg := protocol.MustNew(typ, payload)
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("failed to encode %s: %v", typ, err)
	}
	return data
}
