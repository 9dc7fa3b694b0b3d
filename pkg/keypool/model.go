// Package keypool maintains a cheap-to-query view of key availability
// and runs the background replenishment loop (spec §4.4). It holds no
// authoritative state of its own — storage is the only source of
// truth — and calls storage one-way, breaking the cyclic
// pool-knows-storage-knows-pool shape the reference implementation has.
package keypool

import "time"

// Health classifies the pool's current state.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthWarning   Health = "warning"
	HealthCritical  Health = "critical"
	HealthExhausted Health = "exhausted"
)

// Ordinal maps Health to the numeric value the Prometheus gauge reports.
func (h Health) Ordinal() float64 {
	switch h {
	case HealthHealthy:
		return 0
	case HealthWarning:
		return 1
	case HealthCritical:
		return 2
	case HealthExhausted:
		return 3
	default:
		return -1
	}
}

// Status is the derived pool snapshot, recomputed on demand from
// storage's raw counters plus configured limits.
type Status struct {
	Total                int
	Active               int
	Expired              int
	Consumed             int
	MaxKeyCount          int
	MinKeyThreshold      int
	AvailabilityPercent  float64
	Health               Health
	LastGeneration       time.Time
	GenerationRate24h    int
	ConsumptionRate24h   int
	Version              uint64
}

// AlertKind names the conditions check_alert_conditions can raise.
type AlertKind string

const (
	AlertLowKeys            AlertKind = "low_keys"
	AlertHighConsumptionRate AlertKind = "high_consumption_rate"
	AlertHealthTransition   AlertKind = "health_transition"
)

// Alert is a value describing one active alert condition. Alerts are
// values, not side effects; delivery is left to an external
// collaborator (see pkg/alertsink for the optional Slack sink).
type Alert struct {
	Kind    AlertKind
	Message string
	Health  Health
}
