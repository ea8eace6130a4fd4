package binmc

import "sync/atomic"

// PoolStats contains statistics about one server's connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: derive average wait from AcquireWaitCount and AcquireWaitTimeNs
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Connections in the pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// ClientStats contains operation counters for a PooledClient.
//
// For Prometheus integration, expose these as counters with an
// operation label; derive the hit rate as GetHits/Gets.
type ClientStats struct {
	Gets       uint64 // Get and GetAndTouch operations
	GetHits    uint64 // Retrievals that found the key
	Sets       uint64 // Set operations, CAS included
	Adds       uint64 // Add operations
	Replaces   uint64 // Replace operations
	Appends    uint64 // Append and Prepend operations
	Deletes    uint64 // Delete operations
	Counters   uint64 // Increment and Decrement operations
	Touches    uint64 // Touch operations
	Errors     uint64 // I/O and protocol errors across all operations
	ServerErrs uint64 // Non-success statuses returned by servers, misses included
}

// clientStatsCollector provides internal methods for updating client
// stats. Not exported - the client updates its own stats.
type clientStatsCollector struct {
	stats *ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{
		stats: &ClientStats{},
	}
}

func (c *clientStatsCollector) recordGet(hit bool) {
	atomic.AddUint64(&c.stats.Gets, 1)
	if hit {
		atomic.AddUint64(&c.stats.GetHits, 1)
	}
}

func (c *clientStatsCollector) recordSet() {
	atomic.AddUint64(&c.stats.Sets, 1)
}

func (c *clientStatsCollector) recordAdd() {
	atomic.AddUint64(&c.stats.Adds, 1)
}

func (c *clientStatsCollector) recordReplace() {
	atomic.AddUint64(&c.stats.Replaces, 1)
}

func (c *clientStatsCollector) recordAppend() {
	atomic.AddUint64(&c.stats.Appends, 1)
}

func (c *clientStatsCollector) recordDelete() {
	atomic.AddUint64(&c.stats.Deletes, 1)
}

func (c *clientStatsCollector) recordCounter() {
	atomic.AddUint64(&c.stats.Counters, 1)
}

func (c *clientStatsCollector) recordTouch() {
	atomic.AddUint64(&c.stats.Touches, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) recordServerErr() {
	atomic.AddUint64(&c.stats.ServerErrs, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       atomic.LoadUint64(&c.stats.Gets),
		GetHits:    atomic.LoadUint64(&c.stats.GetHits),
		Sets:       atomic.LoadUint64(&c.stats.Sets),
		Adds:       atomic.LoadUint64(&c.stats.Adds),
		Replaces:   atomic.LoadUint64(&c.stats.Replaces),
		Appends:    atomic.LoadUint64(&c.stats.Appends),
		Deletes:    atomic.LoadUint64(&c.stats.Deletes),
		Counters:   atomic.LoadUint64(&c.stats.Counters),
		Touches:    atomic.LoadUint64(&c.stats.Touches),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
		ServerErrs: atomic.LoadUint64(&c.stats.ServerErrs),
	}
}
