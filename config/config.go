// Package config holds the session's tunables, assembled with the
// functional-options constructor style of the teacher's config/config.go.
package config

import "time"

// ExecutionProfile is a named bundle of policies selectable per request
// (spec §4.E step 2, GLOSSARY "Execution profile"). The concrete policy
// implementations are out of scope (spec §1); this struct only carries the
// handles a profile binds together.
type ExecutionProfile struct {
	Name                string
	LoadBalancingPolicy  any // policy.LoadBalancingPolicy; any to avoid an import cycle with policy
	RetryPolicy          any // policy.RetryPolicy
	TimestampGenerator   any // policy.TimestampGenerator
	RequestTimeout       time.Duration
}

const DefaultProfileName = ""

type Config struct {
	ContactPoints []string
	Port          int

	// NumRequestProcessors is K in spec §4.F/§5: one I/O worker thread per
	// processor.
	NumRequestProcessors int

	// RequestQueueCapacity bounds the MPMC RequestQueue of spec §3.
	RequestQueueCapacity int

	// ConnectionsPerHost is N in spec §4.B.
	ConnectionsPerHost int

	// FlushRatio is R in spec §4.E's flush algorithm: flush gets R% of a
	// processor's event-loop time. Spec §9 flags the 90 default as an
	// unjustified constant and suggests making it configurable; this
	// Config field is that resolution.
	FlushRatio int

	ConnectTimeout          time.Duration
	DialTimeout             time.Duration
	ContactPointResolveTimeout time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	MaxSchemaWaitTime   time.Duration
	PrepareOnAllHosts   bool

	// PrepareOnUpOrAddHost replays every statement this session has prepared
	// onto a host as soon as its pool comes up, before the host is announced
	// to load-balancing policies (mirrors the original driver's
	// prepare_on_up_or_add_host()).
	PrepareOnUpOrAddHost bool

	// UseRandomizedContactPoints shuffles each contact point's resolved IPs
	// before dialing them, so a fleet of clients sharing a contact-point
	// list doesn't all open its first connection to the same host (mirrors
	// the original driver's use_randomized_contact_points()).
	UseRandomizedContactPoints bool

	Keyspace string

	Credentials Credentials

	DefaultProfile ExecutionProfile
	Profiles       map[string]ExecutionProfile
}

// Credentials authenticates a PooledConnector's handshake (spec §4.A).
type Credentials interface {
	Token() (string, error)
}

type Option func(c *Config)

func WithContactPoints(points ...string) Option {
	return func(c *Config) { c.ContactPoints = points }
}

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

func WithNumRequestProcessors(k int) Option {
	return func(c *Config) { c.NumRequestProcessors = k }
}

func WithRequestQueueCapacity(n int) Option {
	return func(c *Config) { c.RequestQueueCapacity = n }
}

func WithConnectionsPerHost(n int) Option {
	return func(c *Config) { c.ConnectionsPerHost = n }
}

func WithFlushRatio(r int) Option {
	return func(c *Config) { c.FlushRatio = r }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

func WithReconnectDelays(initial, max time.Duration) Option {
	return func(c *Config) { c.ReconnectInitialDelay = initial; c.ReconnectMaxDelay = max }
}

func WithMaxSchemaWaitTime(d time.Duration) Option {
	return func(c *Config) { c.MaxSchemaWaitTime = d }
}

func WithPrepareOnAllHosts(b bool) Option {
	return func(c *Config) { c.PrepareOnAllHosts = b }
}

func WithPrepareOnUpOrAddHost(b bool) Option {
	return func(c *Config) { c.PrepareOnUpOrAddHost = b }
}

func WithUseRandomizedContactPoints(b bool) Option {
	return func(c *Config) { c.UseRandomizedContactPoints = b }
}

func WithKeyspace(ks string) Option {
	return func(c *Config) { c.Keyspace = ks }
}

func WithCredentials(creds Credentials) Option {
	return func(c *Config) { c.Credentials = creds }
}

func WithExecutionProfile(p ExecutionProfile) Option {
	return func(c *Config) {
		if c.Profiles == nil {
			c.Profiles = make(map[string]ExecutionProfile)
		}
		c.Profiles[p.Name] = p
	}
}

func New(opts ...Option) *Config {
	c := &Config{
		Port:                       9042,
		NumRequestProcessors:       4,
		RequestQueueCapacity:       4096,
		ConnectionsPerHost:         2,
		FlushRatio:                 90,
		DialTimeout:                5 * time.Second,
		ContactPointResolveTimeout: 5 * time.Second,
		ReconnectInitialDelay:      1 * time.Second,
		ReconnectMaxDelay:          2 * time.Minute,
		MaxSchemaWaitTime:          10 * time.Second,
		Profiles:                   make(map[string]ExecutionProfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, ok := c.Profiles[DefaultProfileName]; !ok {
		c.Profiles[DefaultProfileName] = c.DefaultProfile
	}

	return c
}

// Profile resolves a named execution profile, per spec §7
// ExecutionProfileInvalid.
func (c *Config) Profile(name string) (ExecutionProfile, bool) {
	p, ok := c.Profiles[name]

	return p, ok
}
