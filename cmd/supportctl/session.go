package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/omochice/supportline/internal/config"
	"github.com/omochice/supportline/internal/connection"
	"github.com/omochice/supportline/internal/observability"
	"github.com/omochice/supportline/internal/status"
	"github.com/omochice/supportline/internal/timeline"
	"github.com/omochice/supportline/internal/transport"
	"github.com/omochice/supportline/internal/transport/sse"
	"github.com/omochice/supportline/internal/transport/ws"
	"github.com/omochice/supportline/pkg/protocol"
)

// session is one terminal view of a conversation: a connection, its timeline and its status line.
type session struct {
	m     *connection.Manager
	store *status.Store
	fatal chan error
	// unsubs detach the session's handlers; close runs them before tearing down.
	unsubs []func()

	mu         sync.Mutex
	out        io.Writer
	state      timeline.State
	printed    map[string]string
	lastStatus string
}

func dialerFor(t config.Transport) (transport.Dialer, error) {
	switch t {
	case config.TransportWebSocket:
		return &ws.Dialer{}, nil
	case config.TransportSSE:
		return &sse.Dialer{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", t)
	}
}

func newSession(c *config.Config, out io.Writer) (*session, error) {
	dialer, err := dialerFor(c.Transport)
	if err != nil {
		return nil, err
	}
	return startSession(c, dialer, out), nil
}

func startSession(c *config.Config, dialer transport.Dialer, out io.Writer) *session {
	mcfg := c.Connection
	mcfg.Logger = observability.WithFields("conversation", c.ConversationID)

	s := &session{
		m:       connection.New(dialer, mcfg),
		store:   status.New(mcfg.Logger),
		fatal:   make(chan error, 1),
		out:     out,
		printed: make(map[string]string),
	}
	s.store.Attach(s.m)
	s.unsubs = append(s.unsubs,
		s.store.OnChange(s.printStatus),
		s.m.Subscribe(s.apply),
		s.m.OnStateChange(func(ch connection.StateChange) {
			if ch.Fatal() {
				select {
				case s.fatal <- ch.Err:
				default:
				}
			}
		}),
	)

	s.m.Connect(transport.Endpoint{
		URL:            c.URL,
		Stream:         transport.StreamUser,
		UserID:         c.UserID,
		ConversationID: c.ConversationID,
		Token:          c.Token,
	})
	return s
}

// wait blocks until ctx ends or the connection gives up.
func (s *session) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.fatal:
		return err
	}
}

func (s *session) send(ev timeline.LocalEvent) error {
	s.mu.Lock()
	s.state = timeline.ApplyLocal(s.state, ev)
	s.flushLocked()
	s.mu.Unlock()

	msg, err := ev.Message()
	if err != nil {
		return err
	}
	return s.m.Send(msg)
}

func (s *session) apply(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = timeline.Reduce(s.state, msg)
	s.flushLocked()
}

// flushLocked prints items that are new or whose rendering changed.
func (s *session) flushLocked() {
	seen := make(map[string]struct{}, s.state.Len())
	for _, it := range s.state.Visible() {
		id := it.ItemID()
		seen[id] = struct{}{}
		line := renderItem(it)
		if line == "" || s.printed[id] == line {
			continue
		}
		s.printed[id] = line
		fmt.Fprintln(s.out, line)
	}
	for id := range s.printed {
		if _, ok := seen[id]; !ok {
			delete(s.printed, id)
			fmt.Fprintf(s.out, "  (message %s deleted)\n", id)
		}
	}
}

func (s *session) printStatus(st status.Status) {
	line := renderStatus(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	if line == s.lastStatus {
		return
	}
	s.lastStatus = line
	fmt.Fprintln(s.out, line)
}

func (s *session) close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.m.Disconnect()
	s.store.Close()
}
