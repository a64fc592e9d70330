// Package repeater implements the tick/force periodic-task primitive used
// by the Session's topology-refresh cadence (spec §4.G). Adapted from the teacher's
// internal/repeater.repeater: same tick/force/backoff-on-failure shape,
// built on clockwork so tests can drive time deterministically.
package repeater

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/booknouse/cpp-driver/internal/backoff"
)

type Repeater interface {
	Stop()
	Force()
}

type repeater struct {
	interval time.Duration
	name     string
	task     func(context.Context) error

	cancel  context.CancelFunc
	stopped chan struct{}
	force   chan struct{}
	clock   clockwork.Clock
	backoff backoff.Backoff
}

type Option func(r *repeater)

func WithName(name string) Option         { return func(r *repeater) { r.name = name } }
func WithClock(c clockwork.Clock) Option  { return func(r *repeater) { r.clock = c } }
func WithBackoff(b backoff.Backoff) Option { return func(r *repeater) { r.backoff = b } }

func New(interval time.Duration, task func(context.Context) error, opts ...Option) Repeater {
	ctx, cancel := context.WithCancel(context.Background())

	r := &repeater{
		interval: interval,
		task:     task,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		force:    make(chan struct{}, 1),
		clock:    clockwork.NewRealClock(),
		backoff:  backoff.Slow,
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.worker(ctx, r.clock.NewTicker(interval))

	return r
}

func (r *repeater) Stop() {
	r.cancel()
	<-r.stopped
}

func (r *repeater) Force() {
	select {
	case r.force <- struct{}{}:
	default:
	}
}

func (r *repeater) wakeUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.task(ctx)
	if err != nil {
		r.Force()
	} else {
		select {
		case <-r.force:
		default:
		}
	}

	return err
}

func (r *repeater) worker(ctx context.Context, tick clockwork.Ticker) {
	defer close(r.stopped)
	defer tick.Stop()

	failures := 0

	waitForce := func() bool {
		if failures == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.Chan():
			return true
		case <-r.clock.After(r.backoff.Delay(failures)):
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			if r.wakeUp(ctx) != nil {
				failures++
			} else {
				failures = 0
			}
		case <-r.force:
			if !waitForce() {
				return
			}
			if r.wakeUp(ctx) != nil {
				failures++
			} else {
				failures = 0
			}
		}
	}
}
