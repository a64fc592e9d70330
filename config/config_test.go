package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New()

	require.Equal(t, 9042, c.Port)
	require.Equal(t, 4, c.NumRequestProcessors)
	require.Equal(t, 4096, c.RequestQueueCapacity)
	require.Equal(t, 2, c.ConnectionsPerHost)
	require.Equal(t, 90, c.FlushRatio)
	require.Equal(t, 5*time.Second, c.DialTimeout)
	require.Equal(t, 10*time.Second, c.MaxSchemaWaitTime)
	require.False(t, c.PrepareOnAllHosts)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	c := New(
		WithContactPoints("10.0.0.1", "10.0.0.2"),
		WithPort(9999),
		WithNumRequestProcessors(8),
		WithRequestQueueCapacity(16),
		WithConnectionsPerHost(4),
		WithFlushRatio(75),
		WithDialTimeout(time.Second),
		WithReconnectDelays(100*time.Millisecond, 10*time.Second),
		WithMaxSchemaWaitTime(2*time.Second),
		WithPrepareOnAllHosts(true),
		WithPrepareOnUpOrAddHost(true),
		WithUseRandomizedContactPoints(true),
		WithKeyspace("system"),
	)

	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, c.ContactPoints)
	require.Equal(t, 9999, c.Port)
	require.Equal(t, 8, c.NumRequestProcessors)
	require.Equal(t, 16, c.RequestQueueCapacity)
	require.Equal(t, 4, c.ConnectionsPerHost)
	require.Equal(t, 75, c.FlushRatio)
	require.Equal(t, time.Second, c.DialTimeout)
	require.Equal(t, 100*time.Millisecond, c.ReconnectInitialDelay)
	require.Equal(t, 10*time.Second, c.ReconnectMaxDelay)
	require.Equal(t, 2*time.Second, c.MaxSchemaWaitTime)
	require.True(t, c.PrepareOnAllHosts)
	require.True(t, c.PrepareOnUpOrAddHost)
	require.True(t, c.UseRandomizedContactPoints)
	require.Equal(t, "system", c.Keyspace)
}

func TestDefaultProfileIsAlwaysRegistered(t *testing.T) {
	c := New()

	p, ok := c.Profile(DefaultProfileName)
	require.True(t, ok)
	require.Equal(t, "", p.Name)
}

func TestWithExecutionProfileRegistersByName(t *testing.T) {
	c := New(WithExecutionProfile(ExecutionProfile{
		Name:           "fast",
		RequestTimeout: time.Millisecond,
	}))

	p, ok := c.Profile("fast")
	require.True(t, ok)
	require.Equal(t, time.Millisecond, p.RequestTimeout)

	_, ok = c.Profile("missing")
	require.False(t, ok)
}
