// Package policy declares the capability interfaces of spec §6 that the
// Session composes at start-up. No concrete algorithm lives here — round-
// robin, DC-aware and token-aware load balancing are an explicit Non-goal
// (spec §1); this package only defines the seam.
package policy

import (
	"context"

	"github.com/booknouse/cpp-driver/host"
)

// Distance classifies how a policy wants a host treated, per spec §6.
type Distance int

const (
	Local Distance = iota
	Remote
	Ignore
)

// RequestInfo is the minimal per-request context a load-balancing policy
// needs to build a plan: the core does not parse query text (spec §1), so
// this is opaque beyond the keyspace/routing-key hints a policy might use.
type RequestInfo struct {
	Keyspace   string
	RoutingKey []byte
}

// TokenMap is an opaque handle; token/replica computation lives outside
// this core (spec §1). Nothing in this module hands a TokenMap to the
// request processors; Session.Execute passes nil to NewQueryPlan.
type TokenMap interface{}

// QueryPlan is an ordered iterator over hosts for one request.
type QueryPlan interface {
	// Next returns the next host in the plan, or (nil, false) when exhausted.
	Next() (*host.Host, bool)
}

// EventLoop is the minimal scheduling capability a policy needs to arm its
// own timers/handles; it is satisfied by internal/background.Worker.
type EventLoop interface {
	Start(name string, f func(ctx context.Context))
}

// LoadBalancingPolicy is the capability set of spec §6 "To the load-
// balancing policy".
type LoadBalancingPolicy interface {
	Init(currentHost *host.Host, hosts []*host.Host, random bool)
	RegisterHandles(loop EventLoop)
	CloseHandles()

	NewQueryPlan(ctx context.Context, info RequestInfo, tokenMap TokenMap) QueryPlan
	Distance(h *host.Host) Distance

	OnAdd(h *host.Host)
	OnRemove(h *host.Host)
	OnUp(h *host.Host)
	OnDown(h *host.Host)
}

// RetryDecision is what a RetryPolicy tells the dispatch loop to do after a
// failed attempt.
type RetryDecision int

const (
	RetryRethrow RetryDecision = iota
	RetrySameHost
	RetryNextHost
	RetryIgnore
)

// RetryPolicy decides retry/next-host/fail for a failed attempt (spec §5
// "Cancellation & timeouts" / §7 propagation policy).
type RetryPolicy interface {
	OnError(attempt int, err error) RetryDecision
	OnTimeout(attempt int) RetryDecision
}

// ReconnectionPolicy hands ConnectionPool.schedule_reconnect its backoff
// schedule (spec §4.B).
type ReconnectionPolicy interface {
	NextDelaySeq() ReconnectionSchedule
}

type ReconnectionSchedule interface {
	NextDelay() (delayMillis int64)
}

// TimestampGenerator supplies the client-side write timestamp a request is
// bound with during dispatch (spec §4.E step 2).
type TimestampGenerator interface {
	Next() int64
}

// Listener is the Connection Pool Manager's listener surface (spec §4.D).
type Listener interface {
	OnUp(h *host.Host)
	OnDown(h *host.Host)
	OnCriticalError(h *host.Host, err error)
	OnKeyspaceChanged(keyspace string)
	OnResultMetadataChanged()
}
