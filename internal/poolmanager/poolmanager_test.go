package poolmanager

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/internal/background"
	"github.com/booknouse/cpp-driver/trace"
)

func refusingDial(ctx context.Context, address string) (net.Conn, error) {
	return nil, &net.OpError{Op: "dial", Err: errUnreachable}
}

var errUnreachable = &net.AddrError{Err: "unreachable", Addr: "test"}

func testConfig() *config.Config {
	return &config.Config{
		ConnectionsPerHost:    1,
		DialTimeout:           20 * time.Millisecond,
		ReconnectInitialDelay: time.Hour, // keep reconnects from firing mid-test
		ReconnectMaxDelay:     time.Hour,
		Keyspace:              "initial",
	}
}

func TestManagerAddIsIdempotentPerAddress(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), refusingDial, nil, worker, nil, &trace.Driver{})

	p1 := m.Add(context.Background(), "10.0.0.1:9042")
	p2 := m.Add(context.Background(), "10.0.0.1:9042")

	require.Same(t, p1, p2)
}

func acceptingDial(ctx context.Context, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	return client, nil
}

// TestManagerAddAndWaitBlocksUntilFirstFanOutResolves implements the
// session-bootstrap half of spec §4.D/§4.G: unlike Add, AddAndWait must not
// return until the pool it just opened has an answer for its very first
// connector fan-out.
func TestManagerAddAndWaitBlocksUntilFirstFanOutResolves(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), acceptingDial, nil, worker, nil, &trace.Driver{})

	p, res := m.AddAndWait(context.Background(), "10.0.0.1:9042")

	require.NotNil(t, p)
	require.Len(t, res.Connections, testConfig().ConnectionsPerHost)
	require.True(t, m.Available("10.0.0.1:9042"))
}

// TestManagerAddAndWaitIsIdempotentPerAddress mirrors
// TestManagerAddIsIdempotentPerAddress: calling AddAndWait on an
// already-open pool must not re-run the fan-out, it just reports success.
func TestManagerAddAndWaitIsIdempotentPerAddress(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), acceptingDial, nil, worker, nil, &trace.Driver{})

	p1, _ := m.AddAndWait(context.Background(), "10.0.0.1:9042")
	p2, res := m.AddAndWait(context.Background(), "10.0.0.1:9042")

	require.Same(t, p1, p2)
	require.Empty(t, res.Connections)
}

func TestManagerRemoveClosesAndDropsThePool(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), refusingDial, nil, worker, nil, &trace.Driver{})
	m.Add(context.Background(), "10.0.0.1:9042")

	m.Remove(context.Background(), "10.0.0.1:9042")

	require.Nil(t, m.FindLeastBusy("10.0.0.1:9042"))
	require.False(t, m.Available("10.0.0.1:9042"))
}

func TestManagerRemoveOfUnknownAddressIsNoop(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), refusingDial, nil, worker, nil, &trace.Driver{})

	require.NotPanics(t, func() { m.Remove(context.Background(), "missing:9042") })
}

func TestManagerFindLeastBusyUnknownAddressReturnsNil(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), refusingDial, nil, worker, nil, &trace.Driver{})

	require.Nil(t, m.FindLeastBusy("missing:9042"))
}

type captureListener struct {
	keyspaces []string
}

func (l *captureListener) OnUp(address string)                  {}
func (l *captureListener) OnDown(address string)                {}
func (l *captureListener) OnCriticalError(address string, err error) {}
func (l *captureListener) OnKeyspaceChanged(keyspace string) {
	l.keyspaces = append(l.keyspaces, keyspace)
}

// TestSetKeyspacePropagatesToEveryPoolAndListener implements spec's
// keyspace propagation law: "after set_keyspace(k) on the manager, any new
// connection observes k" (existing connections are untouched, spec §4.D).
func TestSetKeyspacePropagatesToEveryPoolAndListener(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	listener := &captureListener{}
	m := New(testConfig(), refusingDial, nil, worker, listener, &trace.Driver{})
	m.Add(context.Background(), "10.0.0.1:9042")

	m.SetKeyspace("newkeyspace")

	require.Equal(t, []string{"newkeyspace"}, listener.keyspaces)
	p, ok := m.pools["10.0.0.1:9042"]
	require.True(t, ok)
	require.Equal(t, "newkeyspace", p.Keyspace())
}

func TestManagerCloseClosesEveryPool(t *testing.T) {
	worker := background.NewWorker(context.Background())
	defer func() { _ = worker.Close(context.Background(), context.Canceled) }()

	m := New(testConfig(), refusingDial, nil, worker, nil, &trace.Driver{})
	m.Add(context.Background(), "10.0.0.1:9042")
	m.Add(context.Background(), "10.0.0.2:9042")

	require.NoError(t, m.Close(context.Background()))
	require.Empty(t, m.pools)
}
