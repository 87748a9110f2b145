// Package metrics exposes Prometheus metrics of the station core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a pending call.
const (
	OutcomeResult    = "result"
	OutcomeError     = "error"
	OutcomeInvalid   = "invalid"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

var (
	// CallsSent counts calls written to the transport, by action.
	CallsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_station_calls_sent_total",
		Help: "Total number of OCPP calls sent to the central system, by action.",
	}, []string{"action"})

	// CallsCompleted counts pending calls removed from the pending table, by action and outcome.
	CallsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_station_calls_completed_total",
		Help: "Total number of pending calls completed, by action and outcome.",
	}, []string{"action", "outcome"})

	// PolicyViolations counts operator intents rejected by station guards.
	PolicyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_station_policy_violations_total",
		Help: "Total number of operator intents rejected by the station state machine, by intent.",
	}, []string{"intent"})

	// DecodeErrors counts dropped malformed frames.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_station_decode_errors_total",
		Help: "Total number of inbound frames dropped because they could not be decoded.",
	})

	// UnmatchedResults counts result or error frames without a pending call.
	UnmatchedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_station_unmatched_results_total",
		Help: "Total number of result or error frames that matched no pending call.",
	})

	// UnsupportedCalls counts central system calls nobody handles.
	UnsupportedCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_station_unsupported_calls_total",
		Help: "Total number of central system calls answered with NotImplemented, by action.",
	}, []string{"action"})

	// ConnectionState tracks the transport state (0 disconnected, 1 connecting, 2 connected).
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocpp_station_connection_state",
		Help: "Current transport state: 0 disconnected, 1 connecting, 2 connected.",
	})

	// PendingCalls tracks the size of the pending table.
	PendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocpp_station_pending_calls",
		Help: "Current number of calls awaiting a confirmation.",
	})
)
