// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsTotal tracks processed inbound events by outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Inbound events processed, by outcome",
		},
		[]string{"outcome"},
	)

	// DuplicateEventsTotal tracks events dropped by the deduplicator.
	DuplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_duplicate_events_total",
			Help: "Inbound events dropped as already processed",
		},
	)

	// GlobalCommandsTotal tracks intercepted global commands.
	GlobalCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_global_commands_total",
			Help: "Global commands intercepted, by keyword",
		},
		[]string{"keyword"},
	)

	// SendsTotal tracks outbound sends by payload kind and status.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sends_total",
			Help: "Outbound messages sent, by kind and status",
		},
		[]string{"kind", "status"},
	)

	// SendDuration tracks messaging adapter latency.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_send_duration_seconds",
			Help:    "Messaging adapter send duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	// HandoffClaimsTotal tracks conversation claims by the handoff worker.
	HandoffClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_handoff_claims_total",
			Help: "Handoff claim attempts, by result",
		},
		[]string{"result"},
	)

	// HandoffPendingGauge tracks conversations awaiting handoff.
	HandoffPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_handoff_pending",
			Help: "Conversations currently awaiting handoff",
		},
	)

	// ReaperResetsTotal tracks sessions reset by the reaper.
	ReaperResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_reaper_resets_total",
			Help: "Idle conversations reset to the initial step",
		},
	)

	// LLMDuration tracks AI responder latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSend records metrics for an outbound send attempt.
func RecordSend(kind, status string, duration float64) {
	SendsTotal.WithLabelValues(kind, status).Inc()
	SendDuration.WithLabelValues(kind).Observe(duration)
}

// RecordLLM records metrics for an LLM completion.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
