// Package metrics exports client and pool statistics to Prometheus.
//
// Collectors read a stats snapshot on every scrape, so they add no cost to
// the command path.
package metrics

import (
	"github.com/pior/redis"
	"github.com/prometheus/client_golang/prometheus"
)

// ClientSource is implemented by *redis.Client.
type ClientSource interface {
	Addr() string
	IsConnected() bool
	Stats() redis.ClientStats
	CircuitBreaker() redis.CircuitBreaker
}

// PoolSource is implemented by *redis.Pool.
type PoolSource interface {
	Stats() redis.PoolStats
}

var (
	_ ClientSource = (*redis.Client)(nil)
	_ PoolSource   = (*redis.Pool)(nil)
)

var (
	commandsDesc = prometheus.NewDesc(
		"redis_client_commands_total",
		"Commands sent with SendCommand, Do or Go",
		[]string{"server"}, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"redis_client_errors_total",
		"Failed commands and pipeline flushes",
		[]string{"server"}, nil,
	)
	pipelinesDesc = prometheus.NewDesc(
		"redis_client_pipelines_total",
		"Pipeline flushes",
		[]string{"server"}, nil,
	)
	pipelinedCommandsDesc = prometheus.NewDesc(
		"redis_client_pipelined_commands_total",
		"Commands sent in pipelines, transaction markers included",
		[]string{"server"}, nil,
	)
	retriesDesc = prometheus.NewDesc(
		"redis_client_retries_total",
		"Reconnect rounds after transport errors",
		[]string{"server"}, nil,
	)
	connectsDesc = prometheus.NewDesc(
		"redis_client_connects_total",
		"Connection attempts",
		[]string{"server", "status"}, nil, // success, failed
	)
	healthChecksDesc = prometheus.NewDesc(
		"redis_client_health_checks_total",
		"Health check pings",
		[]string{"server"}, nil,
	)
	healthCheckFailuresDesc = prometheus.NewDesc(
		"redis_client_health_check_failures_total",
		"Failed health check pings",
		[]string{"server"}, nil,
	)
	messagesDesc = prometheus.NewDesc(
		"redis_client_messages_total",
		"Pub/sub messages delivered",
		[]string{"server"}, nil,
	)
	connectedDesc = prometheus.NewDesc(
		"redis_client_connected",
		"Whether the last I/O on the connection succeeded",
		[]string{"server"}, nil,
	)
	circuitStateDesc = prometheus.NewDesc(
		"redis_circuit_breaker_state",
		"Circuit breaker state (0=closed, 1=half-open, 2=open)",
		[]string{"server"}, nil,
	)
	circuitRequestsDesc = prometheus.NewDesc(
		"redis_circuit_breaker_requests",
		"Requests tracked by the circuit breaker in the current interval",
		[]string{"server"}, nil,
	)
	circuitFailuresDesc = prometheus.NewDesc(
		"redis_circuit_breaker_failures",
		"Circuit breaker failure counts",
		[]string{"server", "type"}, nil, // total, consecutive
	)
)

// ClientCollector is a prometheus.Collector for one client.
type ClientCollector struct {
	client ClientSource
}

// NewClientCollector returns a collector reading client.
func NewClientCollector(client ClientSource) *ClientCollector {
	return &ClientCollector{client: client}
}

// Describe implements prometheus.Collector.
func (c *ClientCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- commandsDesc
	ch <- errorsDesc
	ch <- pipelinesDesc
	ch <- pipelinedCommandsDesc
	ch <- retriesDesc
	ch <- connectsDesc
	ch <- healthChecksDesc
	ch <- healthCheckFailuresDesc
	ch <- messagesDesc
	ch <- connectedDesc
	ch <- circuitStateDesc
	ch <- circuitRequestsDesc
	ch <- circuitFailuresDesc
}

// Collect implements prometheus.Collector.
func (c *ClientCollector) Collect(ch chan<- prometheus.Metric) {
	server := c.client.Addr()
	s := c.client.Stats()

	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), append([]string{server}, labels...)...)
	}
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, append([]string{server}, labels...)...)
	}

	counter(commandsDesc, s.Commands)
	counter(errorsDesc, s.Errors)
	counter(pipelinesDesc, s.Pipelines)
	counter(pipelinedCommandsDesc, s.PipelinedCommands)
	counter(retriesDesc, s.Retries)
	counter(connectsDesc, s.Connects, "success")
	counter(connectsDesc, s.ConnectErrors, "failed")
	counter(healthChecksDesc, s.HealthChecks)
	counter(healthCheckFailuresDesc, s.HealthCheckFailures)
	counter(messagesDesc, s.Messages)

	connected := 0.0
	if c.client.IsConnected() {
		connected = 1
	}
	gauge(connectedDesc, connected)

	cb := c.client.CircuitBreaker()
	if cb == nil {
		return
	}
	counts := cb.Counts()
	gauge(circuitStateDesc, float64(cb.State()))
	gauge(circuitRequestsDesc, float64(counts.Requests))
	gauge(circuitFailuresDesc, float64(counts.TotalFailures), "total")
	gauge(circuitFailuresDesc, float64(counts.ConsecutiveFailures), "consecutive")
}

var (
	poolConnectionsDesc = prometheus.NewDesc(
		"redis_pool_connections",
		"Pool clients by state",
		[]string{"pool", "state"}, nil, // total, active, idle
	)
	poolCreatedDesc = prometheus.NewDesc(
		"redis_pool_connections_created_total",
		"Clients created by the pool",
		[]string{"pool"}, nil,
	)
	poolDestroyedDesc = prometheus.NewDesc(
		"redis_pool_connections_destroyed_total",
		"Clients destroyed by the pool",
		[]string{"pool"}, nil,
	)
	poolAcquiresDesc = prometheus.NewDesc(
		"redis_pool_acquires_total",
		"Successful acquires",
		[]string{"pool"}, nil,
	)
	poolAcquireWaitsDesc = prometheus.NewDesc(
		"redis_pool_acquire_waits_total",
		"Acquires that had to wait for a client",
		[]string{"pool"}, nil,
	)
	poolAcquireErrorsDesc = prometheus.NewDesc(
		"redis_pool_acquire_errors_total",
		"Canceled acquires",
		[]string{"pool"}, nil,
	)
	poolAcquireWaitSecondsDesc = prometheus.NewDesc(
		"redis_pool_acquire_wait_seconds_total",
		"Time spent waiting for a client",
		[]string{"pool"}, nil,
	)
)

// PoolCollector is a prometheus.Collector for a pool. name labels its
// metrics.
type PoolCollector struct {
	name string
	pool PoolSource
}

// NewPoolCollector returns a collector reading pool.
func NewPoolCollector(name string, pool PoolSource) *PoolCollector {
	return &PoolCollector{name: name, pool: pool}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolConnectionsDesc
	ch <- poolCreatedDesc
	ch <- poolDestroyedDesc
	ch <- poolAcquiresDesc
	ch <- poolAcquireWaitsDesc
	ch <- poolAcquireErrorsDesc
	ch <- poolAcquireWaitSecondsDesc
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()

	ch <- prometheus.MustNewConstMetric(poolConnectionsDesc, prometheus.GaugeValue, float64(s.TotalConns), c.name, "total")
	ch <- prometheus.MustNewConstMetric(poolConnectionsDesc, prometheus.GaugeValue, float64(s.ActiveConns), c.name, "active")
	ch <- prometheus.MustNewConstMetric(poolConnectionsDesc, prometheus.GaugeValue, float64(s.IdleConns), c.name, "idle")
	ch <- prometheus.MustNewConstMetric(poolCreatedDesc, prometheus.CounterValue, float64(s.CreatedConns), c.name)
	ch <- prometheus.MustNewConstMetric(poolDestroyedDesc, prometheus.CounterValue, float64(s.DestroyedConns), c.name)
	ch <- prometheus.MustNewConstMetric(poolAcquiresDesc, prometheus.CounterValue, float64(s.AcquireCount), c.name)
	ch <- prometheus.MustNewConstMetric(poolAcquireWaitsDesc, prometheus.CounterValue, float64(s.AcquireWaitCount), c.name)
	ch <- prometheus.MustNewConstMetric(poolAcquireErrorsDesc, prometheus.CounterValue, float64(s.AcquireErrors), c.name)
	ch <- prometheus.MustNewConstMetric(poolAcquireWaitSecondsDesc, prometheus.CounterValue, float64(s.AcquireWaitTimeNs)/1e9, c.name)
}
