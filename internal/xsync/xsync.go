// Package xsync provides small locking helpers; host.Map uses them for
// its reader-writer discipline.
package xsync

import "sync"

type Mutex struct { //nolint:gocritic
	sync.Mutex
}

func (m *Mutex) WithLock(f func()) {
	m.Lock()
	defer m.Unlock()
	f()
}

type RWMutex struct { //nolint:gocritic
	sync.RWMutex
}

func (m *RWMutex) WithLock(f func()) {
	m.Lock()
	defer m.Unlock()
	f()
}

func (m *RWMutex) WithRLock(f func()) {
	m.RLock()
	defer m.RUnlock()
	f()
}

// WithLock runs f while l is held and returns its result, for call sites
// that need a value out of the critical section (e.g. find_least_busy).
func WithLock[T any](l interface {
	Lock()
	Unlock()
}, f func() T) T {
	l.Lock()
	defer l.Unlock()

	return f()
}

func WithRLock[T any](l interface {
	RLock()
	RUnlock()
}, f func() T) T {
	l.RLock()
	defer l.RUnlock()

	return f()
}
