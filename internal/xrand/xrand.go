package xrand

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the random source used by reconnect backoff jitter and by the
// session's contact-point shuffle. It exists as an interface
// (rather than a bare *rand.Rand) so it can be made concurrency-safe without
// forcing every caller to hold its own lock.
type Rand interface {
	Int(n int) int
	Int64(n int64) int64
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

type option func(r *xrand)

func WithLock() option {
	return func(r *xrand) {
		r.mu = &sync.Mutex{}
	}
}

func WithSeed(seed int64) option {
	return func(r *xrand) {
		r.rnd = rand.New(rand.NewSource(seed))
	}
}

type xrand struct {
	mu  *sync.Mutex
	rnd *rand.Rand
}

func New(opts ...option) Rand {
	r := &xrand{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *xrand) withLock(f func()) {
	if r.mu == nil {
		f()

		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f()
}

func (r *xrand) Int(n int) (v int) {
	r.withLock(func() { v = r.rnd.Intn(n) })

	return v
}

func (r *xrand) Int64(n int64) (v int64) {
	r.withLock(func() { v = r.rnd.Int63n(n) })

	return v
}

func (r *xrand) Float64() (v float64) {
	r.withLock(func() { v = r.rnd.Float64() })

	return v
}

func (r *xrand) Shuffle(n int, swap func(i, j int)) {
	r.withLock(func() { r.rnd.Shuffle(n, swap) })
}
