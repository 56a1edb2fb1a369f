package connection

import "time"

// Backoff computes reconnect delays: min(Max, Base*2^attempt) plus up to Jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
	// Rand returns a value in [0, 1). Nil means no jitter.
	Rand func() float64
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Max
	if attempt < 0 {
		attempt = 0
	}
	if attempt < 32 {
		if exp := b.Base << uint(attempt); exp > 0 && exp < b.Max {
			d = exp
		}
	}
	if b.Jitter > 0 && b.Rand != nil {
		d += time.Duration(b.Rand() * float64(b.Jitter))
	}
	return d
}
