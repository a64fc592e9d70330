// Package conn implements spec §4.A (Pooled Connector) and the
// PooledConnection half of §3/§4.B. Grounded on the teacher's
// internal/conn/conn.go state machine — atomic state, mutex-guarded dial,
// onClose hook slice, LastUsage tracking — re-pointed at a plain net.Conn
// dial + handshake instead of grpc.DialContext (see DESIGN.md "Dropped
// teacher dependencies").
package conn

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/booknouse/cpp-driver/internal/xerrors"
)

// Dialer opens the transport-level socket. Swappable in tests; production
// code wires net.Dialer.DialContext (or a TLS dialer, out of scope per
// spec §1).
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// Handshaker performs the protocol handshake and optional keyspace set once
// the socket is open. Framing itself is out of scope (spec §1); this is
// only the boundary the core calls through.
type Handshaker interface {
	Handshake(ctx context.Context, socket net.Conn, keyspace string) error
}

// Conn is one pooled, single-socket connection to a host.
type Conn interface {
	Address() string
	Write(ctx context.Context, frame []byte) error

	Inflight() int32
	IncInflight() int32
	DecInflight() int32

	LastUsage() time.Time
	State() State
	SetState(s State) State
	IsState(states ...State) bool

	Close(ctx context.Context) error
}

type onCloseFunc func(c *conn)

type conn struct {
	mu      sync.RWMutex
	address string
	socket  net.Conn
	state   atomic.Uint32
	closed  atomic.Bool

	inflight  atomic.Int32
	lastUsage atomic.Int64 // unix nanos

	onClose []onCloseFunc
}

func newConn(address string, socket net.Conn, onClose ...onCloseFunc) *conn {
	c := &conn{address: address, socket: socket, onClose: onClose}
	c.state.Store(uint32(Online))
	c.lastUsage.Store(time.Now().UnixNano())

	return c
}

func (c *conn) Address() string { return c.address }

func (c *conn) Write(ctx context.Context, frame []byte) (err error) {
	if c.closed.Load() {
		return xerrors.WithStackTrace(errClosedConnection)
	}

	c.lastUsage.Store(time.Now().UnixNano())

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.socket.SetWriteDeadline(deadline)
	}
	_, err = c.socket.Write(frame)
	if err != nil {
		return xerrors.WithStackTrace(xerrors.Retryable(err))
	}

	return nil
}

func (c *conn) Inflight() int32    { return c.inflight.Load() }
func (c *conn) IncInflight() int32 { return c.inflight.Add(1) }
func (c *conn) DecInflight() int32 { return c.inflight.Add(-1) }

func (c *conn) LastUsage() time.Time {
	return time.Unix(0, c.lastUsage.Load())
}

func (c *conn) State() State { return State(c.state.Load()) }

func (c *conn) SetState(s State) State {
	c.state.Store(uint32(s))

	return s
}

func (c *conn) IsState(states ...State) bool {
	cur := c.State()
	for _, s := range states {
		if s == cur {
			return true
		}
	}

	return false
}

func (c *conn) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	c.state.Store(uint32(Closed))
	err := c.socket.Close()
	c.mu.Unlock()

	for _, hook := range c.onClose {
		hook(c)
	}

	if err != nil {
		return xerrors.WithStackTrace(err)
	}

	return nil
}

var (
	errClosedConnection     = mustErr("connection closed early")
	errUnavailableConnection = mustErr("connection unavailable")
)

func mustErr(msg string) error { return &simpleErr{msg} }

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }
