// Package backoff implements the exponential reconnect/retry delay used by
// ConnectionPool.schedule_reconnect (spec §4.B) and the repeater's
// force-backoff on failed discovery ticks (spec §4.G).
package backoff

import (
	"math"
	"time"

	"github.com/booknouse/cpp-driver/internal/xrand"
)

// Backoff maps an attempt index to a delay.
type Backoff interface {
	Delay(attempt int) time.Duration
}

const (
	fastSlot = 5 * time.Millisecond
	slowSlot = 1 * time.Second
)

var (
	// Fast is suitable for reconnecting a single pooled connection.
	Fast = New(WithSlotDuration(fastSlot), WithCeiling(6))
	// Slow is suitable for the control-connection / discovery retry cadence.
	Slow = New(WithSlotDuration(slowSlot), WithCeiling(6))
)

type logBackoff struct {
	slotDuration time.Duration
	ceiling      uint
	jitterLimit  float64
	rnd          xrand.Rand
}

type Option func(b *logBackoff)

func WithSlotDuration(d time.Duration) Option {
	return func(b *logBackoff) { b.slotDuration = d }
}

func WithCeiling(ceiling uint) Option {
	return func(b *logBackoff) { b.ceiling = ceiling }
}

func WithJitterLimit(limit float64) Option {
	return func(b *logBackoff) { b.jitterLimit = limit }
}

func New(opts ...Option) Backoff {
	b := &logBackoff{
		rnd:         xrand.New(xrand.WithLock()),
		jitterLimit: 1,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *logBackoff) Delay(attempt int) time.Duration {
	slot := b.slotDuration
	if slot <= 0 {
		slot = time.Second
	}

	n := 1 << minUint(uint(maxInt(attempt, 0)), maxUint(1, b.ceiling))
	d := slot * time.Duration(n)

	jitter := math.Min(1, math.Abs(b.jitterLimit))
	fixed := time.Duration(jitter * float64(d))
	if fixed >= d {
		return fixed
	}

	return fixed + time.Duration(b.rnd.Int64(int64(d-fixed)+1))
}

func minUint(a, b uint) uint {
	if a < b {
		return a
	}

	return b
}

func maxUint(a, b uint) uint {
	if a > b {
		return a
	}

	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
