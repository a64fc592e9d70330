// Package processormanager implements spec §4.F's Request Processor
// Manager: a round-robin atomic cursor across K processors, the
// notify_request_async skip-if-flushing rule (delegated to each
// processor's own CAS, spec §4.E), and broadcast operations fanned out
// through each processor's own posted-task queue. Grounded on the
// teacher's internal/balancer round-robin cursor (atomic.Uint32 modulo N).
package processormanager

import (
	"context"
	"sync/atomic"

	"github.com/booknouse/cpp-driver/config"
	"github.com/booknouse/cpp-driver/internal/processor"
	"github.com/booknouse/cpp-driver/internal/queue"
	"github.com/booknouse/cpp-driver/trace"
)

// Manager owns cfg.NumRequestProcessors processors and round-robins
// requests across them (spec §4.F).
type Manager struct {
	processors []*processor.Processor
	cursor     atomic.Uint64
}

func New(cfg *config.Config, dispatch processor.Dispatcher, dtrace *trace.Driver) *Manager {
	n := cfg.NumRequestProcessors
	if n <= 0 {
		n = 1
	}

	procs := make([]*processor.Processor, n)
	for i := 0; i < n; i++ {
		procs[i] = processor.New(i, cfg, dispatch, dtrace)
	}

	return &Manager{processors: procs}
}

// Next picks the processor a new request is assigned to (spec §4.F
// round-robin cursor).
func (m *Manager) Next() *processor.Processor {
	i := m.cursor.Add(1) - 1

	return m.processors[int(i%uint64(len(m.processors)))]
}

// Enqueue assigns item to the next processor in rotation and notifies it.
func (m *Manager) Enqueue(item queue.Item) error {
	return m.Next().Enqueue(item)
}

// Broadcast fans f out to every processor's own worker thread, so no
// caller touches a processor's control-plane state directly (spec §4.E /
// §4.F: host-state propagation and topology changes are always posted
// tasks).
func (m *Manager) Broadcast(name string, f func(ctx context.Context)) {
	for _, p := range m.processors {
		p.Post(name, f)
	}
}

// Processors exposes the managed set, e.g. for metrics aggregation.
func (m *Manager) Processors() []*processor.Processor { return m.processors }

// Close closes every processor.
func (m *Manager) Close(ctx context.Context) error {
	var firstErr error
	for _, p := range m.processors {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
