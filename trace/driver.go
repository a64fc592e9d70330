// Package trace defines the Driver hook table: a struct of optional
// function pointers that every lifecycle transition in the core invokes
// through, rather than calling a logger directly. Grounded on the teacher's
// trace.Driver composition pattern (OnXxx fields returning an OnDone
// callback), generalized to this core's session/pool/processor lifecycle.
package trace

import (
	"context"
	"time"
)

// Driver composes zero or more listeners; every hook is optional — nil
// fields are simply not called. Compose merges the void hooks of two tables
// so a Logger-backed table and a metrics-backed table can both observe the
// same events.
type Driver struct {
	OnSessionStateChange   func(SessionStateChangeInfo)
	OnHostUp               func(HostInfo)
	OnHostDown             func(HostInfo)
	OnHostAdded            func(HostInfo)
	OnHostRemoved          func(HostInfo)
	OnPoolOpen             func(PoolInfo)
	OnPoolClose            func(PoolInfo)
	OnConnectorAttempt     func(ConnectorInfo) func(error)
	OnReconnectScheduled   func(ReconnectInfo)
	OnCriticalError        func(CriticalErrorInfo)
	OnFlushStart           func(FlushInfo) func(FlushResult)
	OnDispatch             func(DispatchInfo) func(error)
	OnKeyspaceChanged      func(string)
}

type SessionStateChangeInfo struct {
	From, To string
	Err      error
}

type HostInfo struct {
	Address string
}

type PoolInfo struct {
	Address string
	Size    int
}

type ConnectorInfo struct {
	Address string
	Attempt int
}

type ReconnectInfo struct {
	Address string
	Delay   time.Duration
}

type CriticalErrorInfo struct {
	Address string
	Err     error
}

type FlushInfo struct {
	Processor int
	StartTime time.Time
}

type FlushResult struct {
	Drained int
}

type DispatchInfo struct {
	Host    string
	Attempt int
}

func (d *Driver) sessionStateChange(info SessionStateChangeInfo) {
	if d != nil && d.OnSessionStateChange != nil {
		d.OnSessionStateChange(info)
	}
}

func (d *Driver) SessionStateChange(ctx context.Context, from, to string, err error) {
	d.sessionStateChange(SessionStateChangeInfo{From: from, To: to, Err: err})
}

func (d *Driver) HostUp(addr string) {
	if d != nil && d.OnHostUp != nil {
		d.OnHostUp(HostInfo{Address: addr})
	}
}

func (d *Driver) HostDown(addr string) {
	if d != nil && d.OnHostDown != nil {
		d.OnHostDown(HostInfo{Address: addr})
	}
}

func (d *Driver) HostAdded(addr string) {
	if d != nil && d.OnHostAdded != nil {
		d.OnHostAdded(HostInfo{Address: addr})
	}
}

func (d *Driver) HostRemoved(addr string) {
	if d != nil && d.OnHostRemoved != nil {
		d.OnHostRemoved(HostInfo{Address: addr})
	}
}

func (d *Driver) PoolOpen(addr string, size int) {
	if d != nil && d.OnPoolOpen != nil {
		d.OnPoolOpen(PoolInfo{Address: addr, Size: size})
	}
}

func (d *Driver) PoolClose(addr string, size int) {
	if d != nil && d.OnPoolClose != nil {
		d.OnPoolClose(PoolInfo{Address: addr, Size: size})
	}
}

// ConnectorAttempt returns an onDone func always, even with no listener, so
// call sites can unconditionally `defer onDone(err)`.
func (d *Driver) ConnectorAttempt(addr string, attempt int) func(error) {
	if d == nil || d.OnConnectorAttempt == nil {
		return func(error) {}
	}

	return d.OnConnectorAttempt(ConnectorInfo{Address: addr, Attempt: attempt})
}

func (d *Driver) ReconnectScheduled(addr string, delay time.Duration) {
	if d != nil && d.OnReconnectScheduled != nil {
		d.OnReconnectScheduled(ReconnectInfo{Address: addr, Delay: delay})
	}
}

func (d *Driver) CriticalError(addr string, err error) {
	if d != nil && d.OnCriticalError != nil {
		d.OnCriticalError(CriticalErrorInfo{Address: addr, Err: err})
	}
}

func (d *Driver) FlushStart(processor int, start time.Time) func(FlushResult) {
	if d == nil || d.OnFlushStart == nil {
		return func(FlushResult) {}
	}

	return d.OnFlushStart(FlushInfo{Processor: processor, StartTime: start})
}

func (d *Driver) Dispatch(host string, attempt int) func(error) {
	if d == nil || d.OnDispatch == nil {
		return func(error) {}
	}

	return d.OnDispatch(DispatchInfo{Host: host, Attempt: attempt})
}

func (d *Driver) KeyspaceChanged(keyspace string) {
	if d != nil && d.OnKeyspaceChanged != nil {
		d.OnKeyspaceChanged(keyspace)
	}
}

// Compose returns a Driver whose hooks call both a and b's hooks, matching
// the teacher's Driver.Compose used to stack per-call and global tracing.
// When both a and b are non-nil, the hooks that return an OnDone callback
// (OnConnectorAttempt, OnFlushStart, OnDispatch) are not composed and are
// nil in the result.
func Compose(a, b *Driver) *Driver {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	return &Driver{
		OnSessionStateChange: composeVoid(a.OnSessionStateChange, b.OnSessionStateChange),
		OnHostUp:             composeVoid(a.OnHostUp, b.OnHostUp),
		OnHostDown:           composeVoid(a.OnHostDown, b.OnHostDown),
		OnHostAdded:          composeVoid(a.OnHostAdded, b.OnHostAdded),
		OnHostRemoved:        composeVoid(a.OnHostRemoved, b.OnHostRemoved),
		OnPoolOpen:           composeVoid(a.OnPoolOpen, b.OnPoolOpen),
		OnPoolClose:          composeVoid(a.OnPoolClose, b.OnPoolClose),
		OnReconnectScheduled: composeVoid(a.OnReconnectScheduled, b.OnReconnectScheduled),
		OnCriticalError:      composeVoid(a.OnCriticalError, b.OnCriticalError),
		OnKeyspaceChanged:    composeVoid(a.OnKeyspaceChanged, b.OnKeyspaceChanged),
	}
}

func composeVoid[T any](a, b func(T)) func(T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	return func(t T) {
		a(t)
		b(t)
	}
}
