// Package metrics exposes engine counters on the default Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GateOutcomes counts gate executions by flow, gate, and outcome.
var GateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mergeflow",
	Subsystem: "gate",
	Name:      "outcomes_total",
	Help:      "Gate executions by outcome classification.",
}, []string{"flow", "gate", "outcome"})

// FlowTerminals counts flow runs reaching a terminal state.
var FlowTerminals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mergeflow",
	Subsystem: "flow",
	Name:      "terminal_states_total",
	Help:      "Flow runs by terminal state.",
}, []string{"flow", "state"})

// StaleResults counts gate results discarded for a superseded head SHA.
var StaleResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mergeflow",
	Subsystem: "evidence",
	Name:      "stale_results_total",
	Help:      "Gate results rejected because the head SHA moved mid-run.",
}, []string{"flow"})
