package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/internal/conn"
	"github.com/booknouse/cpp-driver/trace"
)

// FanOutResult aggregates the outcome of a PoolConnector fan-out: every
// connection that came up, plus the first critical error seen (spec §4.C
// "first critical error wins and cancels the others").
type FanOutResult struct {
	Outcome     conn.Outcome
	Connections []conn.Conn
	Err         error
}

// PoolConnector runs N conn.Connectors concurrently against one address and
// delivers a single aggregated FanOutResult once every connector has
// reported in (spec §4.C).
type PoolConnector struct {
	address     string
	dial        conn.Dialer
	handshaker  conn.Handshaker
	keyspace    string
	cfg         *config.Config
	driverTrace *trace.Driver
}

func NewPoolConnector(address string, dial conn.Dialer, hs conn.Handshaker, keyspace string, cfg *config.Config, dtrace *trace.Driver) *PoolConnector {
	return &PoolConnector{address: address, dial: dial, handshaker: hs, keyspace: keyspace, cfg: cfg, driverTrace: dtrace}
}

// Connect launches n parallel connector attempts and invokes callback
// exactly once, after every attempt has either succeeded, failed
// non-critically, or been cancelled by a sibling's critical failure.
func (pc *PoolConnector) Connect(ctx context.Context, n int, callback func(FanOutResult)) {
	ctx, cancelAll := context.WithCancel(ctx)

	var (
		mu          sync.Mutex
		connections []conn.Conn
		critical    error
	)

	g, gctx := errgroup.WithContext(ctx)
	connectors := make([]*conn.Connector, 0, n)

	for i := 0; i < n; i++ {
		c := conn.NewConnector(pc.address, pc.dial, pc.handshaker, pc.keyspace, pc.cfg, pc.driverTrace)
		connectors = append(connectors, c)
		attempt := i

		g.Go(func() error {
			done := make(chan struct{})
			c.Connect(gctx, attempt, func(res conn.Result) {
				switch res.Outcome {
				case conn.OK:
					mu.Lock()
					connections = append(connections, res.Conn)
					mu.Unlock()
				case conn.Critical:
					mu.Lock()
					first := critical == nil
					if first {
						critical = res.Err
					}
					mu.Unlock()
					if first {
						cancelAll()
						for _, sibling := range connectors {
							sibling.Cancel()
						}
					}
				case conn.KeyspaceError, conn.NonCritical, conn.Cancelled:
					// non-fatal to the fan-out as a whole; spec §4.C only
					// escalates critical failures.
				}
				close(done)
			})
			<-done

			return nil
		})
	}

	go func() {
		_ = g.Wait()
		cancelAll()

		mu.Lock()
		defer mu.Unlock()

		if critical != nil {
			callback(FanOutResult{Outcome: conn.Critical, Connections: connections, Err: critical})

			return
		}

		callback(FanOutResult{Outcome: conn.OK, Connections: connections})
	}()
}
