package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnWriteAndClose(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	c := newConn("10.0.0.1:9042", client)
	require.Equal(t, "10.0.0.1:9042", c.Address())
	require.Equal(t, Online, c.State())

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()

	err := c.Write(context.Background(), []byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-done:
		require.Equal(t, []byte("ping"), got)
	case <-time.After(time.Second):
		t.Fatal("server never received the frame")
	}

	require.NoError(t, c.Close(context.Background()))
	require.Equal(t, Closed, c.State())
}

func TestConnWriteAfterCloseFails(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	c := newConn("10.0.0.1:9042", client)
	require.NoError(t, c.Close(context.Background()))

	err := c.Write(context.Background(), []byte("ping"))
	require.Error(t, err)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	c := newConn("10.0.0.1:9042", client)

	var onCloseCalls int
	c.onClose = append(c.onClose, func(*conn) { onCloseCalls++ })

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	require.Equal(t, 1, onCloseCalls)
}

func TestConnInflightCounter(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()
	defer func() { _ = client.Close() }()

	c := newConn("10.0.0.1:9042", client)

	require.Equal(t, int32(0), c.Inflight())
	require.Equal(t, int32(1), c.IncInflight())
	require.Equal(t, int32(2), c.IncInflight())
	require.Equal(t, int32(1), c.DecInflight())
	require.Equal(t, int32(1), c.Inflight())
}

func TestConnIsState(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()
	defer func() { _ = client.Close() }()

	c := newConn("10.0.0.1:9042", client)

	require.True(t, c.IsState(Online, Offline))
	require.False(t, c.IsState(Offline, Banned))

	c.SetState(Banned)
	require.Equal(t, Banned, c.State())
	require.True(t, c.IsState(Banned))
}

func TestConnLastUsageUpdatesOnWrite(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	c := newConn("10.0.0.1:9042", client)
	before := c.LastUsage()

	go func() {
		buf := make([]byte, 1)
		_, _ = server.Read(buf)
	}()

	time.Sleep(time.Millisecond)
	require.NoError(t, c.Write(context.Background(), []byte("x")))

	require.False(t, c.LastUsage().Before(before))
}
