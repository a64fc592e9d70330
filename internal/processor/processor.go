// Package processor implements spec §4.E's Request Processor: the flush
// algorithm (is_flushing CAS, flush_time-proportional re-arm), the dispatch
// algorithm, host-state propagation via posted tasks, bounded
// schema-agreement waits, and prepare-on-all-hosts background replication.
// Grounded on the teacher's internal/conn event loop (a single goroutine
// draining a channel, posting follow-up work back onto itself rather than
// letting callers touch its state directly) generalized from "flush gRPC
// writes" to "flush the request queue at a configurable time-share".
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/internal/background"
	"github.com/booknouse/cpp-driver/internal/queue"
	"github.com/booknouse/cpp-driver/trace"
)

// Dispatcher is invoked once per dequeued item; satisfied by
// dispatch.Handler.Dispatch.
type Dispatcher func(ctx context.Context, item queue.Item)

// Processor owns one request queue and one I/O-bound worker thread (spec
// §4.E / §5: "one per logical I/O thread").
type Processor struct {
	id   int
	cfg  *config.Config
	loop *background.Worker

	q        *queue.Queue
	dispatch Dispatcher

	driverTrace *trace.Driver

	flushing atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

func New(id int, cfg *config.Config, dispatch Dispatcher, dtrace *trace.Driver) *Processor {
	return &Processor{
		id:          id,
		cfg:         cfg,
		loop:        background.NewWorker(context.Background()),
		q:           queue.New(cfg.RequestQueueCapacity),
		dispatch:    dispatch,
		driverTrace: dtrace,
	}
}

// Enqueue implements spec §3's enqueue contract on this processor's queue.
func (p *Processor) Enqueue(item queue.Item) error {
	if err := p.q.Enqueue(item); err != nil {
		return err
	}
	p.NotifyAsync()

	return nil
}

// NotifyAsync implements the processormanager's notify_request_async call
// site: it posts a flush attempt unless one is already running, per spec
// §4.F's skip-if-flushing rule (checked again under flush's own CAS, so a
// race here just costs a no-op task).
func (p *Processor) NotifyAsync() {
	if p.flushing.Load() {
		return
	}
	p.loop.Start("processor-flush", p.flush)
}

// Post schedules f to run on this processor's own worker thread, the
// mechanism spec §4.E uses for host-state propagation: no control-plane
// state is touched directly from another goroutine.
func (p *Processor) Post(name string, f func(ctx context.Context)) {
	p.loop.Start(name, f)
}

// flush implements spec §4.E's flush algorithm: CAS is_flushing, drain the
// queue, dispatch every item, then re-arm based on how long the flush took
// relative to FlushRatio so that, over time, flushing gets R% of this
// processor's time and other processing gets the rest.
func (p *Processor) flush(ctx context.Context) {
	if !p.flushing.CompareAndSwap(false, true) {
		return
	}

	start := time.Now()
	onDone := p.driverTrace.FlushStart(p.id, start)

	items := p.q.DequeueAll(p.q.Cap())
	for _, item := range items {
		p.dispatch(ctx, item)
	}

	onDone(trace.FlushResult{Drained: len(items)})

	if len(items) == 0 {
		p.flushing.Store(false)

		return
	}

	flushTime := time.Since(start)
	ratio := p.cfg.FlushRatio
	if ratio <= 0 || ratio >= 100 {
		ratio = 90
	}
	processing := time.Duration(float64(flushTime) * float64(100-ratio) / float64(ratio))

	// flushing must drop before armNext's possible immediate NotifyAsync,
	// otherwise that call sees flushing still true and silently no-ops.
	p.flushing.Store(false)
	p.armNext(processing)
}

// armNext schedules the next flush attempt processing after the current
// one, unless the queue already has work (then it flushes immediately, so
// a burst of enqueues doesn't wait out a processing window it no longer
// needs).
func (p *Processor) armNext(processing time.Duration) {
	if p.q.Len() > 0 {
		p.NotifyAsync()

		return
	}

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(processing, p.NotifyAsync)
	p.mu.Unlock()
}

// AwaitSchemaAgreement blocks, bounded by MaxSchemaWaitTime, until check
// reports true (spec §4.E schema-agreement wait).
func (p *Processor) AwaitSchemaAgreement(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(p.cfg.MaxSchemaWaitTime)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		agreed, err := check(ctx)
		if err != nil {
			return err
		}
		if agreed {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PrepareOnAllHosts replicates a prepared statement across addresses
// concurrently when cfg.PrepareOnAllHosts is set (spec §4.E), and returns
// once every attempt has returned. The first error from any host is
// returned, and the context passed to prepare is cancelled once an attempt
// fails.
func (p *Processor) PrepareOnAllHosts(ctx context.Context, addresses []string, prepare func(ctx context.Context, address string) error) error {
	if !p.cfg.PrepareOnAllHosts {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			return prepare(gctx, addr)
		})
	}

	return g.Wait()
}

// Close stops the processor's worker thread and any pending flush timer.
// Closing an already closed processor returns nil.
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if err := p.loop.Close(ctx, nil); err != nil && !errors.Is(err, background.ErrAlreadyClosed) {
		return err
	}

	return nil
}

func (p *Processor) ID() int     { return p.id }
func (p *Processor) Len() int    { return p.q.Len() }
