// Package metrics implements the snapshot surface of spec §6
// (session.metrics()). The sink is out of scope; this is the plain counter
// struct and the atomic bookkeeping that feeds it.
package metrics

import "sync/atomic"

type Counters struct {
	requestsTotal          atomic.Int64
	requestsFailed          atomic.Int64
	speculativeExecutions   atomic.Int64
	connectionTimeouts      atomic.Int64
	pendingRequestTimeouts  atomic.Int64
	requestTimeouts         atomic.Int64
	totalConnections        atomic.Int64

	latencySumNanos atomic.Int64
	latencyCount    atomic.Int64
}

type Snapshot struct {
	RequestsTotal         int64
	RequestsFailed        int64
	SpeculativeExecutions int64
	ConnectionTimeouts    int64
	PendingRequestTimeouts int64
	RequestTimeouts       int64
	TotalConnections      int64
	MeanRequestLatencyNs  int64
}

func (c *Counters) IncRequests()                  { c.requestsTotal.Add(1) }
func (c *Counters) IncRequestsFailed()             { c.requestsFailed.Add(1) }
func (c *Counters) IncSpeculativeExecutions()      { c.speculativeExecutions.Add(1) }
func (c *Counters) IncConnectionTimeouts()         { c.connectionTimeouts.Add(1) }
func (c *Counters) IncPendingRequestTimeouts()     { c.pendingRequestTimeouts.Add(1) }
func (c *Counters) IncRequestTimeouts()            { c.requestTimeouts.Add(1) }
func (c *Counters) AddConnections(delta int64)     { c.totalConnections.Add(delta) }

func (c *Counters) ObserveLatency(nanos int64) {
	c.latencySumNanos.Add(nanos)
	c.latencyCount.Add(1)
}

func (c *Counters) Snapshot() Snapshot {
	count := c.latencyCount.Load()
	var mean int64
	if count > 0 {
		mean = c.latencySumNanos.Load() / count
	}

	return Snapshot{
		RequestsTotal:          c.requestsTotal.Load(),
		RequestsFailed:         c.requestsFailed.Load(),
		SpeculativeExecutions:  c.speculativeExecutions.Load(),
		ConnectionTimeouts:     c.connectionTimeouts.Load(),
		PendingRequestTimeouts: c.pendingRequestTimeouts.Load(),
		RequestTimeouts:        c.requestTimeouts.Load(),
		TotalConnections:       c.totalConnections.Load(),
		MeanRequestLatencyNs:   mean,
	}
}
