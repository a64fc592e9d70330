// Package dispatch implements spec §3's RequestHandler and the dispatch/
// retry-loop driver of spec §4.E step 2: query-plan iteration,
// find_least_busy host selection, retry-policy-driven fallback, and
// NoHostsAvailable on exhaustion. Grounded on the teacher's retry
// middleware (internal/balancer.Retry, the attempt-counter-plus-policy
// loop) adapted from gRPC interceptor shape to a plain host/conn loop.
package dispatch

import (
	"context"

	"github.com/booknouse/cpp-driver/errors"
	"github.com/booknouse/cpp-driver/internal/conn"
	"github.com/booknouse/cpp-driver/internal/poolmanager"
	"github.com/booknouse/cpp-driver/metrics"
	"github.com/booknouse/cpp-driver/policy"
	"github.com/booknouse/cpp-driver/trace"
)

// Request is the opaque, already-encoded frame plus the routing
// information the load-balancing policy needs to build a query plan.
// Encoding itself is out of scope (spec §1).
type Request struct {
	Keyspace   string
	RoutingKey []byte
	Frame      []byte

	// PreferredAddress, when set, is tried before the query plan's first
	// host (mirrors the original driver's execute(request,
	// preferred_address) overload, a token-aware retry hint rather than
	// full token awareness). If the preferred host has no usable
	// connection, dispatch falls through to the plan as usual.
	PreferredAddress string
}

// Handler is spec §3's RequestHandler: one per in-flight request, carrying
// its retry state across attempts.
type Handler struct {
	request     Request
	future      *Future
	plan        policy.QueryPlan
	retryPolicy policy.RetryPolicy
	pools       *poolmanager.Manager
	metricsHook *metrics.Counters
	driverTrace *trace.Driver

	attemptedHosts []string
	currentAttempt int
	lastAddress    string
	lastConn       conn.Conn
}

func NewHandler(req Request, plan policy.QueryPlan, retry policy.RetryPolicy, pools *poolmanager.Manager, m *metrics.Counters, dtrace *trace.Driver) *Handler {
	return &Handler{
		request:     req,
		future:      newFuture(),
		plan:        plan,
		retryPolicy: retry,
		pools:       pools,
		metricsHook: m,
		driverTrace: dtrace,
	}
}

func (h *Handler) Future() *Future { return h.future }

// AttemptedHosts returns the addresses already tried, most recent last
// (spec §3 attempted_hosts).
func (h *Handler) AttemptedHosts() []string { return h.attemptedHosts }

// Dispatch runs spec §4.E's dispatch algorithm: try the preferred address
// (if any and not yet attempted), then pull hosts from the query plan,
// skip any without a usable pool connection, write the frame on the first
// usable one. It returns once a write has either succeeded (the caller
// awaits the response asynchronously and later calls Complete or Timeout) or
// the request has reached a terminal outcome.
func (h *Handler) Dispatch(ctx context.Context) {
	if h.currentAttempt == 0 && h.request.PreferredAddress != "" {
		if h.attempt(ctx, h.request.PreferredAddress) {
			return
		}
	}

	for {
		hh, ok := h.plan.Next()
		if !ok {
			h.future.complete(nil, errors.NoHostsAvailable)

			return
		}

		if h.attempt(ctx, hh.Address().String()) {
			return
		}
	}
}

// attempt tries a single write to address's least-busy connection. It
// returns true if Dispatch should stop entirely (the write is pending a
// response, or a terminal decision already completed the future), false if
// the caller should move on to its next candidate address.
func (h *Handler) attempt(ctx context.Context, address string) bool {
	if !h.pools.Available(address) {
		return false
	}

	c := h.pools.FindLeastBusy(address)
	if c == nil {
		return false
	}

	h.currentAttempt++
	h.attemptedHosts = append(h.attemptedHosts, address)
	h.lastAddress = address
	h.lastConn = c

	c.IncInflight()
	onDone := h.driverTrace.Dispatch(address, h.currentAttempt)
	err := c.Write(ctx, h.request.Frame)
	onDone(err)

	h.metricsHook.IncRequests()

	if err == nil {
		// The frame is on the wire; the inflight slot stays held until
		// Complete or Timeout frees it (spec §5).
		return true
	}

	// The write itself failed, so nothing is outstanding on this
	// connection for this attempt.
	c.DecInflight()
	h.metricsHook.IncRequestsFailed()

	return !h.applyDecision(ctx, h.retryPolicy.OnError(h.currentAttempt, err), err)
}

// Complete finishes the request with a response read off the wire by the
// owning processor (framing itself is out of scope, spec §1).
func (h *Handler) Complete(result []byte, err error) {
	if h.lastConn != nil {
		h.lastConn.DecInflight()
	}

	if err == nil {
		h.future.complete(result, nil)

		return
	}

	if !h.applyDecision(context.Background(), h.retryPolicy.OnError(h.currentAttempt, err), err) {
		return
	}
	h.Dispatch(context.Background())
}

// Timeout finishes, retries, or rethrows after a pending-request timeout
// (spec §7 PendingRequestTimeout).
func (h *Handler) Timeout(ctx context.Context) {
	if h.lastConn != nil {
		h.lastConn.DecInflight()
	}

	h.metricsHook.IncPendingRequestTimeouts()
	if !h.applyDecision(ctx, h.retryPolicy.OnTimeout(h.currentAttempt), errors.PendingRequestTimeout) {
		return
	}
	h.Dispatch(ctx)
}

// applyDecision implements spec §4.E's RetryDecision handling. It returns
// true if the caller should keep dispatching (the plan loop continues),
// false if the request has reached a terminal state and the future has
// already been completed.
func (h *Handler) applyDecision(ctx context.Context, decision policy.RetryDecision, err error) bool {
	switch decision {
	case policy.RetrySameHost:
		if h.lastAddress == "" {
			h.future.complete(nil, errors.NoHostsAvailable)

			return false
		}

		return !h.attempt(ctx, h.lastAddress)
	case policy.RetryNextHost:
		return true
	case policy.RetryIgnore:
		h.future.complete(nil, nil)

		return false
	case policy.RetryRethrow:
		fallthrough
	default:
		h.future.complete(nil, err)

		return false
	}
}
