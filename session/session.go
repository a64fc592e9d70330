// Package session implements spec §4.G: the Session state machine
// (CLOSED -> CONNECTING -> CONNECTED -> CLOSING -> CLOSED), contact-point
// resolution, control-connection coordination handoff to the processor
// pool, mark-and-sweep host purge, keyspace propagation, and the public
// surface of spec §6 (connect, close, execute, prepare, metrics).
// Grounded on the teacher's sql.Driver/conn.go top-level state machine
// (atomic state field, mutex-guarded transitions, a single connect/close
// entry point fanning out to every owned subsystem).
package session

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/errors"
	"github.com/booknouse/cpp-driver/host"
	"github.com/booknouse/cpp-driver/internal/background"
	"github.com/booknouse/cpp-driver/internal/conn"
	"github.com/booknouse/cpp-driver/internal/dispatch"
	"github.com/booknouse/cpp-driver/internal/pool"
	"github.com/booknouse/cpp-driver/internal/poolmanager"
	"github.com/booknouse/cpp-driver/internal/processor"
	"github.com/booknouse/cpp-driver/internal/processormanager"
	"github.com/booknouse/cpp-driver/internal/queue"
	"github.com/booknouse/cpp-driver/internal/repeater"
	"github.com/booknouse/cpp-driver/internal/xrand"
	"github.com/booknouse/cpp-driver/log"
	"github.com/booknouse/cpp-driver/metrics"
	"github.com/booknouse/cpp-driver/policy"
	"github.com/booknouse/cpp-driver/trace"
)

// Resolver looks up the IPs behind a contact point. Swappable in tests;
// production code wires net.DefaultResolver.LookupHost.
type Resolver func(ctx context.Context, hostname string) (addrs []string, err error)

// Session is the single entry point of spec §6.
type Session struct {
	cfg *config.Config

	state atomic.Uint32
	mu    sync.Mutex // serializes Connect/Close transitions (spec §4.G)

	hosts      *host.Map
	pools      *poolmanager.Manager
	processors *processormanager.Manager
	worker     *background.Worker
	refresher  repeater.Repeater

	resolver Resolver
	dial     conn.Dialer
	handshaker conn.Handshaker
	rnd        xrand.Rand

	metricsHook *metrics.Counters
	logger      log.Logger
	driverTrace *trace.Driver

	keyspaceMu sync.RWMutex
	keyspace   string

	preparedMu      sync.RWMutex
	preparedQueries map[string]struct{}

	topologyMark bool
}

func New(cfg *config.Config, dial conn.Dialer, hs conn.Handshaker, logger log.Logger, dtrace *trace.Driver) *Session {
	if logger == nil {
		logger = log.Noop
	}
	if dtrace == nil {
		dtrace = &trace.Driver{}
	}
	if hs == nil {
		// Wires config.Credentials (and so credentials.Login) into the
		// handshake the pooled connector actually performs; a nil
		// Credentials just skips straight to the keyspace step.
		hs = &conn.SASLHandshaker{Credentials: cfg.Credentials}
	}

	s := &Session{
		cfg:             cfg,
		hosts:           host.NewMap(),
		worker:          background.NewWorker(context.Background()),
		resolver:        net.DefaultResolver.LookupHost,
		dial:            dial,
		handshaker:      hs,
		rnd:             xrand.New(xrand.WithLock()),
		metricsHook:     &metrics.Counters{},
		logger:          logger,
		driverTrace:     dtrace,
		keyspace:        cfg.Keyspace,
		preparedQueries: make(map[string]struct{}),
	}
	s.pools = poolmanager.New(cfg, dial, hs, s.worker, s, dtrace)
	s.processors = processormanager.New(cfg, s.dispatchItem, dtrace)

	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(from, to State) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

// Connect implements spec §4.G / §6 connect: resolves every contact point
// (bounded per-name by ContactPointResolveTimeout), opens a pool per
// resolved address, waits for the initial fan-out to settle, and arms the
// topology-refresh repeater. Grounded on original_source/cpp-driver's
// connect_async -> on_request_processor_manager_initialize handoff: the
// session does not report CONNECTED until it knows which of the initial
// pools actually came up.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.setState(Closed, Connecting) {
		return errors.UnableToConnect
	}

	s.driverTrace.SessionStateChange(ctx, Closed.String(), Connecting.String(), nil)

	newAddrs, err := s.resolveAndSync(ctx, true)
	if err != nil {
		s.state.Store(uint32(Closed))
		s.driverTrace.SessionStateChange(ctx, Connecting.String(), Closed.String(), err)

		return errors.NoHostsAvailable
	}

	if s.hosts.Len() == 0 {
		s.state.Store(uint32(Closed))

		return errors.NoHostsAvailable
	}

	if err := s.awaitInitialPools(ctx, newAddrs); err != nil {
		s.state.Store(uint32(Closed))
		s.driverTrace.SessionStateChange(ctx, Connecting.String(), Closed.String(), err)

		return err
	}

	s.refresher = repeater.New(30*time.Second, s.refreshTopology, repeater.WithName("topology-refresh"))

	s.state.Store(uint32(Connected))
	s.driverTrace.SessionStateChange(ctx, Connecting.String(), Connected.String(), nil)

	return nil
}

// awaitInitialPools opens and blocks on every address's first connector
// fan-out concurrently, mirroring ConnectionPoolManagerInitializer's
// parallel per-host connects. If every pool fails with a critical error
// (spec §4.A: auth/protocol/TLS), that is the session's connect error; a
// mix of successes and critical failures proceeds with the survivors, same
// as internal_connection_pool_manager_initialize keeping any host that
// isn't in the failures list.
func (s *Session) awaitInitialPools(ctx context.Context, addrs []string) error {
	if len(addrs) == 0 {
		return nil
	}

	type outcome struct {
		address string
		result  pool.FanOutResult
	}

	results := make(chan outcome, len(addrs))
	for _, addr := range addrs {
		addr := addr
		go func() {
			_, res := s.pools.AddAndWait(ctx, addr)
			results <- outcome{address: addr, result: res}
		}()
	}

	var (
		connected     int
		firstCritical error
	)
	for range addrs {
		o := <-results
		if len(o.result.Connections) > 0 {
			connected++

			continue
		}
		if o.result.Outcome == conn.Critical {
			if firstCritical == nil {
				firstCritical = o.result.Err
			}
			if h, ok := s.hosts.Get(host.NewAddress(o.address)); ok {
				s.hosts.Remove(h.Address())
			}
			s.pools.Remove(ctx, o.address)
		}
	}

	if connected == 0 && firstCritical != nil {
		s.driverTrace.SessionStateChange(ctx, Connecting.String(), Closed.String(), firstCritical)

		return errors.CriticalConnectionError
	}

	if s.hosts.Len() == 0 {
		return errors.NoHostsAvailable
	}

	return nil
}

// resolveAndSync resolves every contact point and performs the first
// mark-and-sweep pass (spec §4.G): every resolved address is inserted or
// re-marked, anything left unmarked from a previous pass is removed. When
// initial is true (the bootstrap connect), newly discovered addresses are
// returned rather than opened immediately, so the caller can await their
// fan-out outcome instead of racing ahead to CONNECTED (spec §4.G, §7).
func (s *Session) resolveAndSync(ctx context.Context, initial bool) ([]string, error) {
	mark := !s.topologyMark
	s.topologyMark = mark

	var firstErr error
	var newAddrs []string
	for _, cp := range s.cfg.ContactPoints {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ContactPointResolveTimeout)
		addrs, err := s.resolver(rctx, cp)
		cancel()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if s.cfg.UseRandomizedContactPoints && len(addrs) > 1 {
			s.rnd.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
		}

		for _, ip := range addrs {
			addr := host.NewAddress(net.JoinHostPort(ip, portString(s.cfg.Port)))
			if existing, ok := s.hosts.Get(addr); ok {
				existing.SetMark(mark)

				continue
			}

			h := host.New(addr)
			h.SetMark(mark)
			s.hosts.Insert(h)
			s.driverTrace.HostAdded(addr.String())

			if initial {
				newAddrs = append(newAddrs, addr.String())

				continue
			}

			s.pools.Add(ctx, addr.String())
		}
	}

	removed := s.hosts.Sweep(mark)
	for _, h := range removed {
		s.driverTrace.HostRemoved(h.Address().String())
		s.pools.Remove(ctx, h.Address().String())
	}

	if firstErr != nil && s.hosts.Len() == 0 {
		return nil, firstErr
	}

	return newAddrs, nil
}

func (s *Session) refreshTopology(ctx context.Context) error {
	_, err := s.resolveAndSync(ctx, false)

	return err
}

// Close implements spec §4.G / §6 close: CONNECTED/CONNECTING -> CLOSING,
// tears down the topology refresher, every pool, and every processor, then
// settles at CLOSED. Calling it on a session that is already CLOSING or
// CLOSED returns UnableToClose.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.State()
	if cur == Closed || cur == Closing {
		return errors.UnableToClose
	}
	s.state.Store(uint32(Closing))
	s.driverTrace.SessionStateChange(ctx, cur.String(), Closing.String(), nil)

	if s.refresher != nil {
		s.refresher.Stop()
	}

	var firstErr error
	if err := s.processors.Close(ctx); err != nil {
		firstErr = err
	}
	if err := s.pools.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.worker.Close(ctx, errors.UnableToClose); err != nil && firstErr == nil && err != background.ErrAlreadyClosed {
		firstErr = err
	}

	s.state.Store(uint32(Closed))
	s.driverTrace.SessionStateChange(ctx, Closing.String(), Closed.String(), firstErr)

	return firstErr
}

// Execute implements spec §6 execute: builds a query plan from the named
// execution profile's load-balancing policy and dispatches via the
// processor pool's round-robin assignment.
func (s *Session) Execute(ctx context.Context, req dispatch.Request, profileName string) ([]byte, error) {
	if s.State() != Connected {
		return nil, errors.UnableToConnect
	}

	profile, ok := s.cfg.Profile(profileName)
	if !ok {
		return nil, errors.ExecutionProfileInvalid
	}

	lb, ok := profile.LoadBalancingPolicy.(policy.LoadBalancingPolicy)
	if !ok || lb == nil {
		return nil, errors.ExecutionProfileInvalid
	}
	retry, ok := profile.RetryPolicy.(policy.RetryPolicy)
	if !ok || retry == nil {
		retry = noRetryPolicy{}
	}

	plan := lb.NewQueryPlan(ctx, policy.RequestInfo{Keyspace: req.Keyspace, RoutingKey: req.RoutingKey}, nil)
	handler := dispatch.NewHandler(req, plan, retry, s.pools, s.metricsHook, s.driverTrace)

	if profile.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, profile.RequestTimeout)
		defer cancel()
	}

	if err := s.processors.Enqueue(handlerItem{handler: handler, ctx: ctx}); err != nil {
		return nil, err
	}

	result, err := handler.Future().Wait(ctx)
	if err != nil && ctx.Err() != nil {
		s.metricsHook.IncRequestTimeouts()

		return nil, errors.RequestTimeout
	}

	return result, err
}

// Prepare implements spec §6 prepare, optionally replicating to every host
// in the background when cfg.PrepareOnAllHosts is set (spec §4.E).
func (s *Session) Prepare(ctx context.Context, query string, profileName string) ([]byte, error) {
	req := dispatch.Request{Frame: []byte(query), Keyspace: s.Keyspace()}
	result, err := s.Execute(ctx, req, profileName)
	if err != nil {
		return nil, err
	}

	s.preparedMu.Lock()
	s.preparedQueries[query] = struct{}{}
	s.preparedMu.Unlock()

	procs := s.processors.Processors()
	if len(procs) > 0 {
		addresses := make([]string, 0)
		for _, h := range s.hosts.All() {
			addresses = append(addresses, h.Address().String())
		}
		go func() {
			_ = procs[0].PrepareOnAllHosts(context.Background(), addresses, func(ctx context.Context, address string) error {
				c := s.pools.FindLeastBusy(address)
				if c == nil {
					return nil
				}

				return c.Write(ctx, []byte(query))
			})
		}()
	}

	return result, nil
}

// Metrics implements spec §6 metrics.
func (s *Session) Metrics() metrics.Snapshot { return s.metricsHook.Snapshot() }

func (s *Session) Keyspace() string {
	s.keyspaceMu.RLock()
	defer s.keyspaceMu.RUnlock()

	return s.keyspace
}

// SetKeyspace implements spec §4.G keyspace propagation: updates the
// session's own view and fans the new keyspace out to every processor.
func (s *Session) SetKeyspace(keyspace string) {
	s.keyspaceMu.Lock()
	s.keyspace = keyspace
	s.keyspaceMu.Unlock()

	s.pools.SetKeyspace(keyspace)
	s.processors.Broadcast("keyspace-changed", func(ctx context.Context) {
		s.driverTrace.KeyspaceChanged(keyspace)
	})
}

// poolmanager.Listener implementation: fans pool-level notifications out to
// every processor via posted tasks (spec §4.E/§4.F host-state propagation).
func (s *Session) OnUp(address string) {
	if s.cfg.PrepareOnUpOrAddHost {
		s.replayPreparedStatements(address)
	}
	if h, ok := s.hosts.Get(host.NewAddress(address)); ok {
		h.SetState(host.Up)
	}
	s.processors.Broadcast("host-up", func(ctx context.Context) {})
}

// replayPreparedStatements implements the original driver's
// prepare_on_up_or_add_host(): before a freshly (re)connected host is
// treated as usable, every statement this session has prepared elsewhere is
// replayed onto it. Best-effort: a failed replay does not block the host
// from coming up, matching PrepareAllHandler's fire-and-forget semantics.
func (s *Session) replayPreparedStatements(address string) {
	s.preparedMu.RLock()
	queries := make([]string, 0, len(s.preparedQueries))
	for q := range s.preparedQueries {
		queries = append(queries, q)
	}
	s.preparedMu.RUnlock()

	for _, q := range queries {
		c := s.pools.FindLeastBusy(address)
		if c == nil {
			return
		}
		if err := c.Write(context.Background(), []byte(q)); err != nil {
			s.logger.Log(context.Background(), log.WARN, "failed to replay prepared statement on host", log.Address(address), log.Error(err))
		}
	}
}

func (s *Session) OnDown(address string) {
	if h, ok := s.hosts.Get(host.NewAddress(address)); ok {
		h.SetState(host.Down)
	}
	s.processors.Broadcast("host-down", func(ctx context.Context) {})
}

func (s *Session) OnCriticalError(address string, err error) {
	s.logger.Log(context.Background(), log.ERROR, "critical connection error", log.Address(address), log.Error(err))
}

func (s *Session) OnKeyspaceChanged(keyspace string) {
	s.keyspaceMu.Lock()
	s.keyspace = keyspace
	s.keyspaceMu.Unlock()
}

// handlerItem is what Execute enqueues onto a processor's request queue.
type handlerItem struct {
	handler *dispatch.Handler
	ctx     context.Context
}

// dispatchItem is a processor.Dispatcher bound to this session's pools.
func (s *Session) dispatchItem(ctx context.Context, item queue.Item) {
	hi, ok := item.(handlerItem)
	if !ok {
		return
	}
	hi.handler.Dispatch(hi.ctx)
}

type noRetryPolicy struct{}

func (noRetryPolicy) OnError(attempt int, err error) policy.RetryDecision { return policy.RetryRethrow }
func (noRetryPolicy) OnTimeout(attempt int) policy.RetryDecision         { return policy.RetryRethrow }

func portString(port int) string {
	return strconv.Itoa(port)
}

var _ processor.Dispatcher = (*Session)(nil).dispatchItem
