package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kme",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// KeysIssuedTotal counts keys delivered via enc_keys, by requesting master SAE.
var KeysIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kme",
		Subsystem: "keys",
		Name:      "issued_total",
		Help:      "Total number of keys issued via enc_keys.",
	},
	[]string{"master_sae_id"},
)

// KeysConsumedTotal counts keys delivered via dec_keys, by requesting slave SAE.
var KeysConsumedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kme",
		Subsystem: "keys",
		Name:      "consumed_total",
		Help:      "Total number of keys consumed via dec_keys.",
	},
	[]string{"slave_sae_id"},
)

// KeyRequestErrorsTotal counts request pipeline failures by error kind.
var KeyRequestErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kme",
		Subsystem: "keys",
		Name:      "request_errors_total",
		Help:      "Total number of failed key requests, by error kind.",
	},
	[]string{"kind", "operation"},
)

// PoolActiveKeys reports the current count of active, unexpired, unconsumed keys.
var PoolActiveKeys = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kme",
		Subsystem: "pool",
		Name:      "active_keys",
		Help:      "Current number of active, unexpired, unconsumed keys.",
	},
)

// PoolHealth reports the current pool health as a 0-3 ordinal
// (healthy=0, warning=1, critical=2, exhausted=3).
var PoolHealth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kme",
		Subsystem: "pool",
		Name:      "health",
		Help:      "Current pool health ordinal (0=healthy,1=warning,2=critical,3=exhausted).",
	},
)

// ReplenishmentRunsTotal counts replenishment loop iterations by outcome.
var ReplenishmentRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kme",
		Subsystem: "pool",
		Name:      "replenishment_runs_total",
		Help:      "Total number of replenishment loop iterations, by outcome.",
	},
	[]string{"outcome"},
)

// KeysGeneratedTotal counts keys produced by the generator during replenishment.
var KeysGeneratedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "kme",
		Subsystem: "pool",
		Name:      "keys_generated_total",
		Help:      "Total number of keys produced by the generator.",
	},
)

// SecurityEventsTotal counts raised security events by severity.
var SecurityEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kme",
		Subsystem: "security",
		Name:      "events_total",
		Help:      "Total number of security events raised, by severity.",
	},
	[]string{"severity"},
)

// All returns all KME-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		KeysIssuedTotal,
		KeysConsumedTotal,
		KeyRequestErrorsTotal,
		PoolActiveKeys,
		PoolHealth,
		ReplenishmentRunsTotal,
		KeysGeneratedTotal,
		SecurityEventsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
