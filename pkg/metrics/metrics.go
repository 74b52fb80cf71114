// Package metrics holds the Prometheus collectors of the agent engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "atlas"

var (
	// TurnsTotal counts finished turns.
	// Labels: outcome (ok, or the taxonomy code of the turn failure)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total number of finished turns by outcome",
		},
		[]string{"outcome"},
	)

	TurnCycles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turn_cycles",
			Help:      "Dispatch cycles used per turn",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12},
		},
	)

	ReasoningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "reasoning_duration_seconds",
			Help:      "Duration of reasoning calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CapabilityCalls counts capability invocations.
	// Labels: capability, result (success or taxonomy code)
	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "capability_calls_total",
			Help:      "Total number of capability invocations",
		},
		[]string{"capability", "result"},
	)

	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "capability_duration_seconds",
			Help:      "Duration of capability invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	StateSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "save_errors_total",
			Help:      "Total number of failed conversation state saves",
		},
	)
)

// ObserveCapability records one capability invocation.
func ObserveCapability(capability, result string, seconds float64) {
	if result == "" {
		result = "success"
	}
	CapabilityCalls.WithLabelValues(capability, result).Inc()
	CapabilityDuration.WithLabelValues(capability).Observe(seconds)
}

// ObserveTurn records a finished turn.
func ObserveTurn(outcome string, cycles int) {
	if outcome == "" {
		outcome = "ok"
	}
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnCycles.Observe(float64(cycles))
}
