package conn

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/booknouse/cpp-driver/config"
)

type fakeHandshaker struct {
	err error
}

func (h *fakeHandshaker) Handshake(ctx context.Context, socket net.Conn, keyspace string) error {
	return h.err
}

func testDialer(conn net.Conn, err error) Dialer {
	return func(ctx context.Context, address string) (net.Conn, error) {
		return conn, err
	}
}

func TestConnectorSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	cfg := &config.Config{DialTimeout: time.Second, Keyspace: "ks"}
	c := NewConnector("10.0.0.1:9042", testDialer(client, nil), &fakeHandshaker{}, "ks", cfg, nil)

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })

	res := <-results
	require.Equal(t, OK, res.Outcome)
	require.NotNil(t, res.Conn)
}

func TestConnectorDialErrorIsNonCritical(t *testing.T) {
	cfg := &config.Config{DialTimeout: time.Second}
	c := NewConnector("10.0.0.1:9042", testDialer(nil, errors.New("refused")), &fakeHandshaker{}, "", cfg, nil)

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })

	res := <-results
	require.Equal(t, NonCritical, res.Outcome)
	require.Error(t, res.Err)
}

func TestConnectorCriticalHandshakeError(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	cfg := &config.Config{DialTimeout: time.Second}
	hsErr := &HandshakeError{Critical: true, Cause: errors.New("bad auth")}
	c := NewConnector("10.0.0.1:9042", testDialer(client, nil), &fakeHandshaker{err: hsErr}, "", cfg, nil)

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })

	res := <-results
	require.Equal(t, Critical, res.Outcome)
	require.Error(t, res.Err)
}

func TestConnectorKeyspaceHandshakeError(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	cfg := &config.Config{DialTimeout: time.Second}
	hsErr := &HandshakeError{KeyspaceError: true, Cause: errors.New("unknown keyspace")}
	c := NewConnector("10.0.0.1:9042", testDialer(client, nil), &fakeHandshaker{err: hsErr}, "bogus", cfg, nil)

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })

	res := <-results
	require.Equal(t, KeyspaceError, res.Outcome)
}

func TestConnectorNonCriticalHandshakeError(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	cfg := &config.Config{DialTimeout: time.Second}
	c := NewConnector("10.0.0.1:9042", testDialer(client, nil), &fakeHandshaker{err: errors.New("timeout")}, "", cfg, nil)

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })

	res := <-results
	require.Equal(t, NonCritical, res.Outcome)
}

// TestConnectorCancelBeforeConnectIsIdempotent implements spec §4.A:
// "Cancellation is idempotent and race-free: cancellation after completion
// is a no-op."
func TestConnectorCancelBeforeConnectIsIdempotent(t *testing.T) {
	cfg := &config.Config{DialTimeout: time.Second}
	c := NewConnector("10.0.0.1:9042", testDialer(nil, errors.New("never dials")), &fakeHandshaker{}, "", cfg, nil)

	c.Cancel()
	c.Cancel() // calling twice must not panic or double-fire

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })

	res := <-results
	require.Equal(t, Cancelled, res.Outcome)
}

func TestConnectorCancelAfterCompletionIsNoop(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	cfg := &config.Config{DialTimeout: time.Second}
	c := NewConnector("10.0.0.1:9042", testDialer(client, nil), &fakeHandshaker{}, "", cfg, nil)

	results := make(chan Result, 1)
	c.Connect(context.Background(), 1, func(r Result) { results <- r })
	<-results

	require.NotPanics(t, c.Cancel)
}
