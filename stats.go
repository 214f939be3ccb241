package redis

import (
	"sync/atomic"
)

// PoolStats contains statistics about a Pool.
//
// For Prometheus integration, see the metrics package:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total clients created
	DestroyedConns    uint64 // Total clients destroyed
	AcquireErrors     uint64 // Canceled acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Clients in pool (active + idle)
	IdleConns   int32 // Idle clients
	ActiveConns int32 // Clients currently in use
}

// ClientStats contains statistics about a Client.
type ClientStats struct {
	Commands            uint64 // Commands sent with SendCommand, Do or Go
	Pipelines           uint64 // Pipeline flushes
	PipelinedCommands   uint64 // Commands sent in pipelines, transaction markers included
	Errors              uint64 // Failed commands and flushes, server errors included
	Retries             uint64 // Reconnect rounds of the dispatch queue
	Connects            uint64 // Successful connections
	ConnectErrors       uint64 // Failed connection attempts
	HealthChecks        uint64 // Health check pings
	HealthCheckFailures uint64 // Failed health check pings
	Messages            uint64 // Pub/sub messages delivered
}

// clientStatsCollector updates ClientStats atomically.
type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordCommand() {
	atomic.AddUint64(&c.stats.Commands, 1)
}

func (c *clientStatsCollector) recordPipeline(commands int) {
	atomic.AddUint64(&c.stats.Pipelines, 1)
	atomic.AddUint64(&c.stats.PipelinedCommands, uint64(commands))
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) recordRetry() {
	atomic.AddUint64(&c.stats.Retries, 1)
}

func (c *clientStatsCollector) recordConnect() {
	atomic.AddUint64(&c.stats.Connects, 1)
}

func (c *clientStatsCollector) recordConnectError() {
	atomic.AddUint64(&c.stats.ConnectErrors, 1)
}

func (c *clientStatsCollector) recordHealthCheck() {
	atomic.AddUint64(&c.stats.HealthChecks, 1)
}

func (c *clientStatsCollector) recordHealthCheckFailure() {
	atomic.AddUint64(&c.stats.HealthCheckFailures, 1)
}

func (c *clientStatsCollector) recordMessage() {
	atomic.AddUint64(&c.stats.Messages, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Commands:            atomic.LoadUint64(&c.stats.Commands),
		Pipelines:           atomic.LoadUint64(&c.stats.Pipelines),
		PipelinedCommands:   atomic.LoadUint64(&c.stats.PipelinedCommands),
		Errors:              atomic.LoadUint64(&c.stats.Errors),
		Retries:             atomic.LoadUint64(&c.stats.Retries),
		Connects:            atomic.LoadUint64(&c.stats.Connects),
		ConnectErrors:       atomic.LoadUint64(&c.stats.ConnectErrors),
		HealthChecks:        atomic.LoadUint64(&c.stats.HealthChecks),
		HealthCheckFailures: atomic.LoadUint64(&c.stats.HealthCheckFailures),
		Messages:            atomic.LoadUint64(&c.stats.Messages),
	}
}
