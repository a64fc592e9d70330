package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/errors"
	"github.com/booknouse/cpp-driver/host"
	"github.com/booknouse/cpp-driver/internal/background"
	"github.com/booknouse/cpp-driver/internal/poolmanager"
	"github.com/booknouse/cpp-driver/metrics"
	"github.com/booknouse/cpp-driver/policy"
	"github.com/booknouse/cpp-driver/trace"
)

type fakePlan struct {
	hosts []*host.Host
	i     int
}

func (p *fakePlan) Next() (*host.Host, bool) {
	if p.i >= len(p.hosts) {
		return nil, false
	}
	h := p.hosts[p.i]
	p.i++

	return h, true
}

type fakeRetryPolicy struct {
	onError   func(attempt int, err error) policy.RetryDecision
	onTimeout func(attempt int) policy.RetryDecision
}

func (r *fakeRetryPolicy) OnError(attempt int, err error) policy.RetryDecision {
	if r.onError == nil {
		return policy.RetryRethrow
	}

	return r.onError(attempt, err)
}

func (r *fakeRetryPolicy) OnTimeout(attempt int) policy.RetryDecision {
	if r.onTimeout == nil {
		return policy.RetryRethrow
	}

	return r.onTimeout(attempt)
}

// buildConnectedManager opens a pool for address backed by a net.Pipe whose
// server side is driven by serve, and waits for the pool to report
// available before returning.
func buildConnectedManager(t *testing.T, address string, serve func(server net.Conn)) (*poolmanager.Manager, func()) {
	t.Helper()

	return buildManagerWithDial(t, map[string]func(net.Conn){address: serve}, address)
}

// buildManagerWithDial opens one pool per address in byServe, each dialed
// through a net.Pipe whose server side is driven by that address's serve
// callback, and waits for every address to report available.
func buildManagerWithDial(t *testing.T, byServe map[string]func(server net.Conn), addresses ...string) (*poolmanager.Manager, func()) {
	t.Helper()

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		serve := byServe[addr]
		if serve == nil {
			serve = drain
		}
		go serve(server)

		return client, nil
	}

	worker := background.NewWorker(context.Background())
	cfg := &config.Config{
		ConnectionsPerHost:    1,
		DialTimeout:           time.Second,
		ReconnectInitialDelay: time.Hour,
		ReconnectMaxDelay:     time.Hour,
	}
	m := poolmanager.New(cfg, dial, nil, worker, nil, &trace.Driver{})
	for _, addr := range addresses {
		m.Add(context.Background(), addr)
	}

	for _, addr := range addresses {
		addr := addr
		require.Eventually(t, func() bool { return m.Available(addr) }, time.Second, time.Millisecond)
	}

	return m, func() { _ = worker.Close(context.Background(), context.Canceled) }
}

func drain(server net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := server.Read(buf); err != nil {
			return
		}
	}
}

func closeImmediately(server net.Conn) {
	_ = server.Close()
}

func TestDispatchNoHostsAvailable(t *testing.T) {
	h := NewHandler(Request{Frame: []byte("q")}, &fakePlan{}, &fakeRetryPolicy{}, nil, &metrics.Counters{}, &trace.Driver{})

	h.Dispatch(context.Background())

	result, err := h.Future().Wait(context.Background())
	require.Nil(t, result)
	require.ErrorIs(t, err, errors.NoHostsAvailable)
}

func TestDispatchSkipsHostsWithoutAPool(t *testing.T) {
	m, cleanup := buildConnectedManager(t, "10.0.0.2:9042", drain)
	defer cleanup()

	plan := &fakePlan{hosts: []*host.Host{
		host.New(host.NewAddress("10.0.0.1:9042")), // never added to the manager
		host.New(host.NewAddress("10.0.0.2:9042")),
	}}

	h := NewHandler(Request{Frame: []byte("q")}, plan, &fakeRetryPolicy{}, m, &metrics.Counters{}, &trace.Driver{})
	h.Dispatch(context.Background())

	require.Equal(t, []string{"10.0.0.2:9042"}, h.AttemptedHosts())

	// A successful write does not complete the future by itself (the
	// response path completes it); confirm it is still pending.
	select {
	case <-h.Future().Done():
		t.Fatal("future completed without a response")
	default:
	}
}

// TestDispatchRetriesNextHostOnWriteFailure implements spec §4.E dispatch:
// "on failure (connection gone, write refused), try the next host."
func TestDispatchRetriesNextHostOnWriteFailure(t *testing.T) {
	m, cleanup := buildManagerWithDial(t, map[string]func(net.Conn){
		"10.0.0.1:9042": closeImmediately,
		"10.0.0.2:9042": drain,
	}, "10.0.0.1:9042", "10.0.0.2:9042")
	defer cleanup()

	plan := &fakePlan{hosts: []*host.Host{
		host.New(host.NewAddress("10.0.0.1:9042")),
		host.New(host.NewAddress("10.0.0.2:9042")),
	}}

	retries := 0
	retry := &fakeRetryPolicy{onError: func(attempt int, err error) policy.RetryDecision {
		retries++

		return policy.RetryNextHost
	}}

	h := NewHandler(Request{Frame: []byte("q")}, plan, retry, m, &metrics.Counters{}, &trace.Driver{})
	h.Dispatch(context.Background())

	require.Equal(t, []string{"10.0.0.1:9042", "10.0.0.2:9042"}, h.AttemptedHosts())
	require.Equal(t, 1, retries)
}

func TestDispatchRethrowCompletesFutureWithError(t *testing.T) {
	m, cleanup := buildConnectedManager(t, "10.0.0.1:9042", closeImmediately)
	defer cleanup()

	plan := &fakePlan{hosts: []*host.Host{host.New(host.NewAddress("10.0.0.1:9042"))}}
	h := NewHandler(Request{Frame: []byte("q")}, plan, &fakeRetryPolicy{}, m, &metrics.Counters{}, &trace.Driver{})

	h.Dispatch(context.Background())

	_, err := h.Future().Wait(context.Background())
	require.Error(t, err)
}

// TestDispatchHoldsInflightUntilComplete implements spec §5: "the frame
// remains on the wire until the response (or connection drop) consumes the
// inflight slot" — a successful write must not release the slot itself.
func TestDispatchHoldsInflightUntilComplete(t *testing.T) {
	m, cleanup := buildConnectedManager(t, "10.0.0.1:9042", drain)
	defer cleanup()

	plan := &fakePlan{hosts: []*host.Host{host.New(host.NewAddress("10.0.0.1:9042"))}}
	h := NewHandler(Request{Frame: []byte("q")}, plan, &fakeRetryPolicy{}, m, &metrics.Counters{}, &trace.Driver{})

	h.Dispatch(context.Background())

	c := m.FindLeastBusy("10.0.0.1:9042")
	require.Equal(t, int32(1), c.Inflight())

	h.Complete([]byte("row"), nil)
	require.Equal(t, int32(0), c.Inflight())
}

// TestDispatchTriesPreferredAddressFirst implements the original driver's
// execute(request, preferred_address) hint: a set PreferredAddress is
// attempted before the query plan's own first host.
func TestDispatchTriesPreferredAddressFirst(t *testing.T) {
	m, cleanup := buildManagerWithDial(t, map[string]func(net.Conn){
		"10.0.0.1:9042": drain,
		"10.0.0.2:9042": drain,
	}, "10.0.0.1:9042", "10.0.0.2:9042")
	defer cleanup()

	// The plan would hand out .1 first; PreferredAddress should still win.
	plan := &fakePlan{hosts: []*host.Host{
		host.New(host.NewAddress("10.0.0.1:9042")),
		host.New(host.NewAddress("10.0.0.2:9042")),
	}}

	req := Request{Frame: []byte("q"), PreferredAddress: "10.0.0.2:9042"}
	h := NewHandler(req, plan, &fakeRetryPolicy{}, m, &metrics.Counters{}, &trace.Driver{})
	h.Dispatch(context.Background())

	require.Equal(t, []string{"10.0.0.2:9042"}, h.AttemptedHosts())
}

func TestCompleteSuccessCompletesFuture(t *testing.T) {
	h := NewHandler(Request{Frame: []byte("q")}, &fakePlan{}, &fakeRetryPolicy{}, nil, &metrics.Counters{}, &trace.Driver{})

	h.Complete([]byte("row"), nil)

	result, err := h.Future().Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("row"), result)
}

func TestCompleteErrorRethrowsToFuture(t *testing.T) {
	h := NewHandler(Request{Frame: []byte("q")}, &fakePlan{}, &fakeRetryPolicy{}, nil, &metrics.Counters{}, &trace.Driver{})

	boom := errors.RequestTimeout
	h.Complete(nil, boom)

	_, err := h.Future().Wait(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestApplyDecisionRetryIgnoreCompletesWithNilError(t *testing.T) {
	h := NewHandler(Request{Frame: []byte("q")}, &fakePlan{}, &fakeRetryPolicy{}, nil, &metrics.Counters{}, &trace.Driver{})

	more := h.applyDecision(context.Background(), policy.RetryIgnore, errors.RequestTimeout)
	require.False(t, more)

	result, err := h.Future().Wait(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
}

// TestTimeoutAppliesRetryPolicyAndCountsMetric implements spec §7
// PendingRequestTimeout accounting.
func TestTimeoutAppliesRetryPolicyAndCountsMetric(t *testing.T) {
	m := &metrics.Counters{}
	h := NewHandler(Request{Frame: []byte("q")}, &fakePlan{}, &fakeRetryPolicy{}, nil, m, &trace.Driver{})

	h.Timeout(context.Background())

	_, err := h.Future().Wait(context.Background())
	require.ErrorIs(t, err, errors.PendingRequestTimeout)
	require.Equal(t, int64(1), m.Snapshot().PendingRequestTimeouts)
}
