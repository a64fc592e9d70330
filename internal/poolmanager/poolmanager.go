// Package poolmanager implements spec §4.D (Connection Pool Manager): the
// address -> pool.Pool registry, and the fan-in point for pool-level up/
// down/critical-error/keyspace-changed notifications. Grounded on the
// teacher's internal/balancer registry (a map guarded by a single rwlock,
// rebuilt wholesale on topology change) adapted to hold per-address pools
// instead of per-endpoint gRPC sub-connections.
package poolmanager

import (
	"context"
	"sync"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/internal/background"
	"github.com/booknouse/cpp-driver/internal/conn"
	"github.com/booknouse/cpp-driver/internal/pool"
	"github.com/booknouse/cpp-driver/trace"
)

// Listener receives the manager's fan-in of every pool's notifications
// (spec §4.D: on_up/on_down/on_critical_error/on_keyspace_changed). It has
// no result-metadata-changed notification.
type Listener interface {
	OnUp(address string)
	OnDown(address string)
	OnCriticalError(address string, err error)
	OnKeyspaceChanged(keyspace string)
}

// Manager owns one pool.Pool per address (spec §4.D).
type Manager struct {
	cfg         *config.Config
	dial        conn.Dialer
	handshaker  conn.Handshaker
	loop        pool.EventLoop
	driverTrace *trace.Driver
	listener    Listener

	mu    sync.RWMutex
	pools map[string]*pool.Pool

	keyspace string
}

func New(cfg *config.Config, dial conn.Dialer, hs conn.Handshaker, loop *background.Worker, listener Listener, dtrace *trace.Driver) *Manager {
	return &Manager{
		cfg:         cfg,
		dial:        dial,
		handshaker:  hs,
		loop:        loop,
		driverTrace: dtrace,
		listener:    listener,
		pools:       make(map[string]*pool.Pool),
		keyspace:    cfg.Keyspace,
	}
}

// Add opens a pool for address if one does not already exist (spec §4.D
// add). Safe to call repeatedly; idempotent.
func (m *Manager) Add(ctx context.Context, address string) *pool.Pool {
	m.mu.Lock()
	if p, ok := m.pools[address]; ok {
		m.mu.Unlock()

		return p
	}
	p := pool.New(address, m.cfg, m.dial, m.handshaker, m.loop, m, m.driverTrace)
	p.SetKeyspace(m.keyspace)
	m.pools[address] = p
	m.mu.Unlock()

	m.driverTrace.PoolOpen(address, m.cfg.ConnectionsPerHost)
	p.Ensure(ctx)

	return p
}

// AddAndWait is Add's synchronous counterpart: it opens the pool (if one
// does not already exist) and blocks until that pool's first connector
// fan-out has resolved, returning its outcome. Used only for the initial
// bootstrap set in session.Connect (spec §4.G), which must know whether any
// host came up, and whether a critical error (e.g. authentication) doomed
// every attempt, before the session can move to CONNECTED.
func (m *Manager) AddAndWait(ctx context.Context, address string) (*pool.Pool, pool.FanOutResult) {
	m.mu.Lock()
	if p, ok := m.pools[address]; ok {
		m.mu.Unlock()

		return p, pool.FanOutResult{Outcome: conn.OK}
	}
	p := pool.New(address, m.cfg, m.dial, m.handshaker, m.loop, m, m.driverTrace)
	p.SetKeyspace(m.keyspace)
	m.pools[address] = p
	m.mu.Unlock()

	m.driverTrace.PoolOpen(address, m.cfg.ConnectionsPerHost)

	return p, p.EnsureAndWait(ctx)
}

// Remove closes and drops the pool for address (spec §4.D remove).
func (m *Manager) Remove(ctx context.Context, address string) {
	m.mu.Lock()
	p, ok := m.pools[address]
	if ok {
		delete(m.pools, address)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	m.driverTrace.PoolClose(address, p.Len())
	_ = p.Close(ctx)
}

// FindLeastBusy returns the best connection on address's pool, or nil if
// the pool doesn't exist or is empty (spec §4.D find_least_busy).
func (m *Manager) FindLeastBusy(address string) conn.Conn {
	m.mu.RLock()
	p, ok := m.pools[address]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	return p.FindLeastBusy()
}

// Available reports whether address currently has at least one usable
// connection (spec §4.D available, used by load-balancing Distance
// decisions downstream).
func (m *Manager) Available(address string) bool {
	m.mu.RLock()
	p, ok := m.pools[address]
	m.mu.RUnlock()

	return ok && p.IsUp()
}

// SetKeyspace implements spec §4.D set_keyspace: the new keyspace takes
// effect for connections established from now on. Existing connections are
// not retroactively migrated, and no USE is issued on them. Each pool
// keeps its own copy (pool.Pool.SetKeyspace) rather than this manager
// mutating the shared *config.Config, so a connector mid-dial never races
// against this write.
func (m *Manager) SetKeyspace(keyspace string) {
	m.mu.Lock()
	m.keyspace = keyspace
	pools := make([]*pool.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.SetKeyspace(keyspace)
	}

	if m.listener != nil {
		m.listener.OnKeyspaceChanged(keyspace)
	}
}

// Close closes every pool (spec §4.D close).
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*pool.Pool)
	m.mu.Unlock()

	for addr, p := range pools {
		m.driverTrace.PoolClose(addr, p.Len())
		_ = p.Close(ctx)
	}

	return nil
}

// NotifyUpOrDown satisfies pool.Listener, fanning a single pool's
// transition out to the manager's own Listener.
func (m *Manager) NotifyUpOrDown(address string, up bool) {
	if m.listener == nil {
		return
	}
	if up {
		m.driverTrace.HostUp(address)
		m.listener.OnUp(address)
	} else {
		m.driverTrace.HostDown(address)
		m.listener.OnDown(address)
	}
}

// NotifyCriticalError satisfies pool.Listener.
func (m *Manager) NotifyCriticalError(address string, err error) {
	m.driverTrace.CriticalError(address, err)
	if m.listener != nil {
		m.listener.OnCriticalError(address, err)
	}
}

