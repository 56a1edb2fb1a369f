package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omochice/supportline/internal/transport"
	"github.com/omochice/supportline/pkg/protocol"
)

var (
	// ErrReconnectExhausted is the fatal reason once MaxAttempts reconnects have failed.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrHeartbeatTimeout is the cause of a reconnect forced by inbound silence.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrDialTimeout is the cause of a reconnect when a dial exceeded DialTimeout.
	ErrDialTimeout = errors.New("dial timeout")
)

// Manager owns one Transport Channel and its lifecycle.
//
// All state lives behind mu. Notifications are queued while mu is held and
// delivered in order by whichever goroutine drains the queue first, outside
// the lock, so handlers may call back into the Manager.
type Manager struct {
	dialer  transport.Dialer
	cfg     Config
	backoff Backoff
	log     *slog.Logger

	mu          sync.Mutex
	state       State
	endpoint    transport.Endpoint
	hasEndpoint bool
	conn        transport.Conn
	// epoch invalidates timers and dials scheduled before the last lifecycle change.
	epoch      uint64
	attempt    int
	queue      *queue
	cancelDial context.CancelFunc

	backoffTimer   Timer
	heartbeatTimer Timer
	watchdogTimer  Timer

	messageHandlers handlers[protocol.Message]
	stateHandlers   handlers[StateChange]

	outbox   []func()
	draining bool
	closing  []transport.Conn
}

// New creates a Manager in the idle state.
func New(dialer transport.Dialer, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		dialer:  dialer,
		cfg:     cfg,
		backoff: cfg.backoff(),
		log:     cfg.Logger,
		state:   StateIdle,
		queue:   newQueue(cfg.QueueCapacity),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueueLen returns the number of messages waiting for an open transport.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// Attempt returns the number of reconnect attempts since the last successful open.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connect starts connecting to ep. It is a no-op while connecting, open or
// reconnecting; from idle or closed it dials immediately.
func (m *Manager) Connect(ep transport.Endpoint) {
	m.do(func() {
		switch m.state {
		case StateConnecting, StateOpen, StateReconnecting:
			return
		}
		m.endpoint = ep
		m.hasEndpoint = true
		m.attempt = 0
		m.setState(StateChange{To: StateConnecting})
		m.dialLocked()
	})
}

// Reconnect retries the last endpoint after a terminal close.
// It reports false when Connect was never called.
func (m *Manager) Reconnect() bool {
	m.mu.Lock()
	ep, ok := m.endpoint, m.hasEndpoint
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.Connect(ep)
	return true
}

// Disconnect closes the transport, cancels every pending timer and dial,
// clears the offline queue and moves to closed. No timer scheduled before
// Disconnect has any effect after it returns.
func (m *Manager) Disconnect() {
	m.do(func() {
		m.haltLocked()
		m.queue.clear()
		m.attempt = 0
		if m.state != StateClosed {
			m.setState(StateChange{To: StateClosed})
		}
	})
}

// Send writes msg immediately when open; otherwise it is queued and flushed
// in order once the transport opens. Only encoding failures are returned.
func (m *Manager) Send(msg protocol.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	m.do(func() {
		if m.state == StateOpen && m.queue.len() == 0 {
			if err := m.writeLocked(frame); err != nil {
				m.enqueueLocked(frame)
				m.connLostLocked(err)
			}
			return
		}
		m.enqueueLocked(frame)
	})
	return nil
}

// Subscribe registers fn for every inbound application message, in arrival order.
// Heartbeat frames are never delivered.
func (m *Manager) Subscribe(fn func(protocol.Message)) (unsubscribe func()) {
	m.mu.Lock()
	h := m.messageHandlers.add(fn)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.messageHandlers.remove(h)
			m.mu.Unlock()
		})
	}
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn func(StateChange)) (unsubscribe func()) {
	m.mu.Lock()
	h := m.stateHandlers.add(fn)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.stateHandlers.remove(h)
			m.mu.Unlock()
		})
	}
}

// do runs fn under the lock, then closes retired transports and drains notifications.
func (m *Manager) do(fn func()) {
	m.mu.Lock()
	fn()
	closing := m.closing
	m.closing = nil
	m.mu.Unlock()

	for _, c := range closing {
		if err := c.Close(); err != nil {
			m.log.Debug("failed to close transport", "remote", c.RemoteAddr(), "err", err)
		}
	}
	m.drain()
}

func (m *Manager) emit(fn func()) {
	m.outbox = append(m.outbox, fn)
}

func (m *Manager) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.outbox) > 0 {
		next := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.mu.Unlock()
		next()
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) setState(change StateChange) {
	change.From = m.state
	m.state = change.To
	m.log.Debug("connection state changed",
		"from", change.From.String(),
		"to", change.To.String(),
		"attempt", change.Attempt,
		"delay", change.Delay,
		"err", change.Err)
	m.emit(func() { deliver(m, &m.stateHandlers, change) })
}

func deliver[T any](m *Manager, hs *handlers[T], v T) {
	m.mu.Lock()
	list := hs.snapshot()
	m.mu.Unlock()

	for _, h := range list {
		if !h.active.Load() {
			continue
		}
		m.safeCall(func() { h.fn(v) })
	}
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscriber panicked", "panic", r)
		}
	}()
	fn()
}

func (m *Manager) dialLocked() {
	m.epoch++
	epoch := m.epoch
	ep := m.endpoint

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.cancelDial = cancel

	go func() {
		conn, err := m.dialer.Dial(ctx, ep)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrDialTimeout, err)
		}
		cancel()
		m.do(func() { m.handleDialLocked(epoch, conn, err) })
	}()
}

func (m *Manager) handleDialLocked(epoch uint64, conn transport.Conn, err error) {
	if epoch != m.epoch || (m.state != StateConnecting && m.state != StateReconnecting) {
		if conn != nil {
			m.closing = append(m.closing, conn)
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.log.Warn("failed to connect", "url", m.endpoint.URL, "attempt", m.attempt, "err", err)
		m.scheduleReconnectLocked(err)
		return
	}
	m.openLocked(conn)
}

func (m *Manager) openLocked(conn transport.Conn) {
	m.conn = conn
	m.attempt = 0
	m.setState(StateChange{To: StateOpen})
	m.log.Info("connected", "url", m.endpoint.URL, "remote", conn.RemoteAddr())

	m.flushLocked()
	if m.conn != conn {
		return
	}

	go m.readLoop(conn)
	m.startHeartbeatLocked()
	m.armWatchdogLocked()
}

func (m *Manager) flushLocked() {
	pending := m.queue.drain()
	for i, frame := range pending {
		if err := m.writeLocked(frame); err != nil {
			m.queue.requeue(pending[i:])
			m.connLostLocked(fmt.Errorf("failed to flush offline queue: %w", err))
			return
		}
	}
}

func (m *Manager) writeLocked(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	return m.conn.Write(ctx, frame)
}

func (m *Manager) enqueueLocked(frame []byte) {
	if dropped := m.queue.push(frame); dropped {
		m.log.Warn("offline queue full, dropped oldest message", "capacity", m.cfg.QueueCapacity)
	}
}

func (m *Manager) readLoop(conn transport.Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			m.do(func() {
				if conn != m.conn {
					return
				}
				m.connLostLocked(fmt.Errorf("transport error: %w", err))
			})
			return
		}

		var msg protocol.Message
		decodeErr := msg.Decode(data)
		m.do(func() {
			if conn != m.conn {
				return
			}
			m.armWatchdogLocked()
			if decodeErr != nil {
				m.log.Warn("discarding malformed frame", "err", decodeErr, "size", len(data))
				return
			}
			if msg.Type.IsHeartbeat() {
				return
			}
			m.emit(func() { deliver(m, &m.messageHandlers, msg) })
		})
	}
}

// connLostLocked retires the current transport and schedules a reconnect.
func (m *Manager) connLostLocked(cause error) {
	if m.conn != nil {
		m.closing = append(m.closing, m.conn)
		m.conn = nil
	}
	m.stopTimersLocked()
	m.log.Warn("connection lost", "url", m.endpoint.URL, "err", cause)
	m.scheduleReconnectLocked(cause)
}

func (m *Manager) scheduleReconnectLocked(cause error) {
	m.epoch++
	if m.cfg.MaxAttempts > 0 && m.attempt >= m.cfg.MaxAttempts {
		err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.attempt, cause)
		m.log.Error("giving up on connection", "url", m.endpoint.URL, "err", err)
		m.haltLocked()
		m.setState(StateChange{To: StateClosed, Err: err})
		return
	}

	delay := m.backoff.Delay(m.attempt)
	m.attempt++
	m.setState(StateChange{To: StateReconnecting, Err: cause, Attempt: m.attempt, Delay: delay})

	epoch := m.epoch
	m.backoffTimer = m.cfg.Clock.AfterFunc(delay, func() {
		m.do(func() {
			if epoch != m.epoch || m.state != StateReconnecting {
				return
			}
			m.backoffTimer = nil
			m.dialLocked()
		})
	})
}

func (m *Manager) startHeartbeatLocked() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	epoch, conn := m.epoch, m.conn
	m.heartbeatTimer = m.cfg.Clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.do(func() {
			if epoch != m.epoch || conn != m.conn || m.state != StateOpen {
				return
			}
			ping := protocol.Message{Type: protocol.TypePing}
			frame, err := ping.Encode()
			if err == nil {
				err = m.writeLocked(frame)
			}
			if err != nil {
				m.connLostLocked(fmt.Errorf("failed to send heartbeat: %w", err))
				return
			}
			m.startHeartbeatLocked()
		})
	})
}

func (m *Manager) armWatchdogLocked() {
	if m.cfg.HeartbeatTimeout <= 0 {
		return
	}
	if m.watchdogTimer != nil {
		m.watchdogTimer.Stop()
	}
	epoch, conn := m.epoch, m.conn
	m.watchdogTimer = m.cfg.Clock.AfterFunc(m.cfg.HeartbeatTimeout, func() {
		m.do(func() {
			if epoch != m.epoch || conn != m.conn || m.state != StateOpen {
				return
			}
			m.connLostLocked(ErrHeartbeatTimeout)
		})
	})
}

func (m *Manager) stopTimersLocked() {
	for _, t := range []Timer{m.backoffTimer, m.heartbeatTimer, m.watchdogTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.backoffTimer, m.heartbeatTimer, m.watchdogTimer = nil, nil, nil
}

// haltLocked invalidates everything in flight: timers, a pending dial and the transport.
func (m *Manager) haltLocked() {
	m.epoch++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopTimersLocked()
	if m.conn != nil {
		m.closing = append(m.closing, m.conn)
		m.conn = nil
	}
}
