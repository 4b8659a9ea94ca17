// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import "github.com/prometheus/client_golang/prometheus"

// metricsNamespace groups every metric this package registers under a
// single Prometheus namespace, the convention used elsewhere in this
// codebase for a subsystem's metrics.
const metricsNamespace = "data_migrations"

// Metrics wraps the prometheus.Collector types this package emits behind a
// small struct with a registration method, rather than handing out bare
// prometheus client types to call sites.
type Metrics struct {
	OutstandingMigrations *prometheus.GaugeVec
	OutstandingTopics *prometheus.GaugeVec
	OutstandingNodeRPCs prometheus.Gauge
	RPCFailures prometheus.Counter
	RPCSuccesses prometheus.Counter
	AdvanceAttempts *prometheus.CounterVec
	AdvanceFailures *prometheus.CounterVec
	WorkerRetries prometheus.Counter
}

// NewMetrics constructs an unregistered Metrics. Call MustRegister to
// attach it to a prometheus.Registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		OutstandingMigrations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name: "outstanding_migrations",
			Help: "Number of migrations this coordinator has not yet observed at their sought state, by kind.",
		}, []string{"kind"}),
		OutstandingTopics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name: "outstanding_topics",
			Help: "Number of (migration, topic) pairs this coordinator has not yet observed at their sought state.",
		}, []string{"kind"}),
		OutstandingNodeRPCs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name: "outstanding_node_rpcs",
			Help: "Number of peer nodes this coordinator still owes a check_ntp_states RPC to (in flight or retry-scheduled).",
		}),
		RPCFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name: "rpc_failures_total",
			Help: "Total number of check_ntp_states RPCs that failed transport-level and were scheduled for retry.",
		}),
		RPCSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name: "rpc_successes_total",
			Help: "Total number of check_ntp_states RPCs that received a reply.",
		}),
		AdvanceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name: "advance_attempts_total",
			Help: "Total number of ProposeAdvance calls issued, by target sought state.",
		}, []string{"sought_state"}),
		AdvanceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name: "advance_failures_total",
			Help: "Total number of ProposeAdvance calls that returned an error, by target sought state.",
		}, []string{"sought_state"}),
		WorkerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name: "worker_retries_total",
			Help: "Total number of times a partition action was re-spawned after a retryable error.",
		}),
	}
}

// IncWorkerRetries implements dmworker.RetryMetrics, giving the per-shard
// Worker a way to record a retry without importing this package directly.
func (m *Metrics) IncWorkerRetries() {
	m.WorkerRetries.Inc()
}

// MustRegister attaches every metric to reg from a single call site,
// wiring this subsystem's metrics into the server's registry.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.OutstandingMigrations,
		m.OutstandingTopics,
		m.OutstandingNodeRPCs,
		m.RPCFailures,
		m.RPCSuccesses,
		m.AdvanceAttempts,
		m.AdvanceFailures,
		m.WorkerRetries,
	)
}
