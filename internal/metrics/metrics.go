// Package metrics provides Prometheus metrics for Fern: counters and gauges
// for the guest lifecycle and health subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Guests (C8) ────────────────────────────────────────────────────────────

// GuestsActive tracks the number of guests currently supervised.
var GuestsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "fern",
	Name:      "guests_active",
	Help:      "Number of guests currently supervised.",
})

// GuestsCreatedTotal tracks successful CreateModule commands.
var GuestsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fern",
	Name:      "guests_created_total",
	Help:      "Total guests created.",
})

// GuestsUpdatedTotal tracks successful UpdateModule hot-swaps.
var GuestsUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fern",
	Name:      "guests_updated_total",
	Help:      "Total guest module hot-swaps.",
})

// GuestsRemovedTotal tracks successful RemoveModule commands.
var GuestsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fern",
	Name:      "guests_removed_total",
	Help:      "Total guests removed.",
})

// CommandErrorsTotal tracks failed server commands by command name.
var CommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fern",
	Name:      "command_errors_total",
	Help:      "Total server command failures by command.",
}, []string{"command"})

// ─── Health (A4) ────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "fern",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
