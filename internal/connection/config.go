package connection

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/omochice/supportline/internal/observability"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultMaxJitter         = 1 * time.Second
	DefaultMaxAttempts       = 10
	DefaultQueueCapacity     = 100
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
)

// Config controls a Manager. Zero fields take the defaults above;
// negative durations and counts disable the corresponding feature
// (no heartbeat, no watchdog, no jitter, unlimited attempts, no offline queue).
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxJitter         time.Duration
	MaxAttempts       int
	QueueCapacity     int
	DialTimeout       time.Duration
	WriteTimeout      time.Duration

	// Clock schedules timers. Nil means the wall clock.
	Clock Clock
	// Rand is the jitter source, returning values in [0, 1). Nil means math/rand/v2.
	Rand func() float64
	// Logger receives diagnostics. Nil means observability.Logger().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxJitter == 0 {
		c.MaxJitter = DefaultMaxJitter
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Logger == nil {
		c.Logger = observability.Logger()
	}
	return c
}

func (c Config) backoff() Backoff {
	return Backoff{
		Base:   c.BaseDelay,
		Max:    c.MaxDelay,
		Jitter: max(c.MaxJitter, 0),
		Rand:   c.Rand,
	}
}
