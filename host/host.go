// Package host implements the data model of spec §3: Host, Address and the
// process-local (session-scoped, never cross-session — spec §9 "Global
// state") HostMap. Grounded on the teacher's internal/endpoint.Endpoint
// (mutex-guarded struct with Copy/Touch) generalized to the spec's host
// shape and on internal/cluster.cluster's index map + rwlock discipline.
package host

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/booknouse/cpp-driver/internal/xsync"
)

// State is the host's up/down view as tracked by policies and pools.
type State uint32

const (
	Up State = iota
	Down
)

func (s State) String() string {
	if s == Up {
		return "UP"
	}

	return "DOWN"
}

// Address is the opaque, totally-ordered, stably-hashable primary key used
// throughout (spec §3). It wraps the literal host:port string, which alone
// defines equality and ordering.
type Address struct {
	value string
}

func NewAddress(hostPort string) Address {
	return Address{value: hostPort}
}

func (a Address) String() string { return a.value }
func (a Address) Less(b Address) bool { return a.value < b.value }
func (a Address) Equal(b Address) bool { return a.value == b.value }

// Host is mutated only on the session thread (registry fields) with state
// bits kept atomic so request-processor threads can read/flip them without
// taking the HostMap lock, per spec §3.
type Host struct {
	mu sync.RWMutex

	address    Address
	id         uuid.UUID
	hostname   string
	datacenter string
	rack       string
	tokens     []string

	mark  bool
	state uint32 // State, accessed via sync/atomic through State/SetState
}

func New(addr Address, opts ...Option) *Host {
	h := &Host{
		address: addr,
		id:      uuid.New(),
		state:   uint32(Up),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

type Option func(h *Host)

func WithHostname(name string) Option   { return func(h *Host) { h.hostname = name } }
func WithDatacenter(dc string) Option   { return func(h *Host) { h.datacenter = dc } }
func WithRack(rack string) Option       { return func(h *Host) { h.rack = rack } }
func WithTokens(tokens []string) Option { return func(h *Host) { h.tokens = tokens } }

func (h *Host) Address() Address { return h.address }
func (h *Host) ID() uuid.UUID    { return h.id }

func (h *Host) Hostname() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.hostname
}

func (h *Host) Datacenter() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.datacenter
}

func (h *Host) Rack() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.rack
}

func (h *Host) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]string(nil), h.tokens...)
}

func (h *Host) SetTopology(hostname, dc, rack string, tokens []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hostname = hostname
	h.datacenter = dc
	h.rack = rack
	h.tokens = tokens
}

// State/SetState use sync/atomic directly (not the RWMutex) per spec §3:
// "state bits are atomic" so request-processor threads don't contend with
// the session thread's registry mutations.
func (h *Host) State() State {
	return State(atomic.LoadUint32(&h.state))
}

func (h *Host) SetState(s State) {
	atomic.StoreUint32(&h.state, uint32(s))
}

// Mark/SetMark implement the mark-and-sweep purge of spec §4.G: toggled to
// the registry's current mark on discovery, swept if stale after a refresh.
func (h *Host) Mark() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.mark
}

func (h *Host) SetMark(mark bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mark = mark
}

// Map is the process-local (session-scoped) address->Host registry of
// spec §3: readers from any thread, writers on the session thread only.
type Map struct {
	mu    xsync.RWMutex
	hosts map[string]*Host
}

func NewMap() *Map {
	return &Map{hosts: make(map[string]*Host)}
}

func (m *Map) Get(addr Address) (*Host, bool) {
	var (
		h  *Host
		ok bool
	)
	m.mu.WithRLock(func() {
		h, ok = m.hosts[addr.value]
	})

	return h, ok
}

// Insert must only be called from the session thread (spec §3/§5).
func (m *Map) Insert(h *Host) {
	m.mu.WithLock(func() {
		if m.hosts == nil {
			m.hosts = make(map[string]*Host)
		}
		m.hosts[h.address.value] = h
	})
}

// Remove must only be called from the session thread (spec §3/§5).
func (m *Map) Remove(addr Address) (*Host, bool) {
	var (
		h  *Host
		ok bool
	)
	m.mu.WithLock(func() {
		h, ok = m.hosts[addr.value]
		delete(m.hosts, addr.value)
	})

	return h, ok
}

// All returns a snapshot slice; safe to call from any thread.
func (m *Map) All() []*Host {
	var out []*Host
	m.mu.WithRLock(func() {
		out = make([]*Host, 0, len(m.hosts))
		for _, h := range m.hosts {
			out = append(out, h)
		}
	})

	return out
}

// Sweep implements the purge half of mark-and-sweep (spec §4.G): every host
// whose mark differs from currentMark is removed and returned for on_remove
// firing.
func (m *Map) Sweep(currentMark bool) []*Host {
	var removed []*Host
	m.mu.WithLock(func() {
		for addr, h := range m.hosts {
			if h.Mark() != currentMark {
				removed = append(removed, h)
				delete(m.hosts, addr)
			}
		}
	})

	return removed
}

func (m *Map) Len() int {
	var n int
	m.mu.WithRLock(func() { n = len(m.hosts) })

	return n
}
