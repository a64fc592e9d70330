package conn

import (
	"context"
	"sync"
	"time"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/internal/xerrors"
	"github.com/booknouse/cpp-driver/trace"
)

// Outcome is the PooledConnector result taxonomy of spec §4.A.
type Outcome int

const (
	OK Outcome = iota
	NonCritical
	Critical
	Cancelled
	KeyspaceError
)

// Result is delivered to the connector's callback exactly once.
type Result struct {
	Outcome Outcome
	Conn    Conn
	Err     error
}

// Connector establishes one connection: socket, handshake, optional
// set-keyspace. Cancellation is idempotent and race-free (spec §4.A):
// Cancel after the callback has already fired is a no-op, and the callback
// fires at most once even if Cancel races with completion.
type Connector struct {
	address     string
	dial        Dialer
	handshaker  Handshaker
	keyspace    string
	dialTimeout time.Duration
	driverTrace *trace.Driver

	mu        sync.Mutex
	cancelled bool
	fired     bool
	cancel    context.CancelFunc
}

func NewConnector(address string, dial Dialer, handshaker Handshaker, keyspace string, cfg *config.Config, dtrace *trace.Driver) *Connector {
	return &Connector{
		address:     address,
		dial:        dial,
		handshaker:  handshaker,
		keyspace:    keyspace,
		dialTimeout: cfg.DialTimeout,
		driverTrace: dtrace,
	}
}

// Connect runs the connector and reports exactly one Result to callback.
// It is safe to call Cancel concurrently from another goroutine.
func (c *Connector) Connect(ctx context.Context, attempt int, callback func(Result)) {
	ctx, cancel := context.WithCancel(ctx)
	if c.dialTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, c.dialTimeout)
		defer timeoutCancel()
	}

	c.mu.Lock()
	c.cancel = cancel
	if c.cancelled {
		c.mu.Unlock()
		cancel()
		c.deliver(callback, Result{Outcome: Cancelled})

		return
	}
	c.mu.Unlock()

	onDone := c.driverTrace.ConnectorAttempt(c.address, attempt)

	socket, err := c.dial(ctx, c.address)
	if err != nil {
		onDone(err)
		c.deliver(callback, classifyDialError(err))

		return
	}

	if c.handshaker != nil {
		if err := c.handshaker.Handshake(ctx, socket, c.keyspace); err != nil {
			_ = socket.Close()
			onDone(err)
			c.deliver(callback, classifyHandshakeError(err))

			return
		}
	}

	onDone(nil)

	pooled := newConn(c.address, socket)
	c.deliver(callback, Result{Outcome: OK, Conn: pooled})
}

// Cancel is idempotent: calling it after the callback has fired is a no-op.
// Calling it before Connect makes Connect report Cancelled without dialing;
// calling it while Connect runs cancels the attempt's context, and the
// callback then reports the outcome of the interrupted dial or handshake.
func (c *Connector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Connector) deliver(callback func(Result), res Result) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()

		return
	}
	c.fired = true
	c.mu.Unlock()
	callback(res)
}

// classifyDialError implements spec §4.A: timeouts and transient network
// errors are non-critical; nothing at the dial stage is critical (auth/
// protocol/TLS failures only happen after the socket is open).
func classifyDialError(err error) Result {
	return Result{Outcome: NonCritical, Err: xerrors.WithStackTrace(err)}
}

// classifyHandshakeError implements the critical/non-critical split of
// spec §4.A: authentication failure, protocol mismatch and SSL failure are
// critical; anything else (read timeout, reset) is non-critical.
func classifyHandshakeError(err error) Result {
	if he, ok := err.(*HandshakeError); ok && he.Critical {
		return Result{Outcome: Critical, Err: xerrors.WithStackTrace(xerrors.Critical(err))}
	}
	if he, ok := err.(*HandshakeError); ok && he.KeyspaceError {
		return Result{Outcome: KeyspaceError, Err: xerrors.WithStackTrace(err)}
	}

	return Result{Outcome: NonCritical, Err: xerrors.WithStackTrace(err)}
}

// HandshakeError lets a Handshaker tell the connector which bucket its
// failure belongs in.
type HandshakeError struct {
	Critical      bool
	KeyspaceError bool
	Cause         error
}

func (e *HandshakeError) Error() string { return e.Cause.Error() }
func (e *HandshakeError) Unwrap() error { return e.Cause }
