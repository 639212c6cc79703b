// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks webhook request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "Webhook request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total webhook requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total webhook requests",
		},
		[]string{"method", "path", "status"},
	)

	// InboundMessagesTotal tracks inbound messages by classified type.
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_inbound_messages_total",
			Help: "Inbound platform messages by type",
		},
		[]string{"type"},
	)

	// DuplicatesSuppressedTotal tracks webhook redeliveries dropped by the
	// message-id dedup set.
	DuplicatesSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_duplicates_suppressed_total",
			Help: "Duplicate webhook deliveries suppressed",
		},
	)

	// ModelRequestDuration tracks completion call duration.
	ModelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_model_request_duration_seconds",
			Help:    "Model completion call duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"mode", "status"},
	)

	// ModelRetriesTotal tracks completion attempts beyond the first.
	ModelRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_model_retries_total",
			Help: "Model completion retry attempts",
		},
	)

	// PushSendsTotal tracks outbound push deliveries.
	PushSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_push_sends_total",
			Help: "Outbound push message sends",
		},
		[]string{"status"},
	)

	// PushSegments tracks how many units a reply was segmented into.
	PushSegments = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_push_segments",
			Help:    "Delivery units per outbound reply",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
		},
	)

	// TokenRefreshesTotal tracks credential refresh calls.
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_token_refreshes_total",
			Help: "Access token refresh calls",
		},
		[]string{"status"},
	)

	// DispatchInFlight tracks detached dispatch units currently running.
	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_dispatch_in_flight",
			Help: "Detached dispatch units in flight",
		},
	)
)

// RecordRequest records metrics for one webhook request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordModelCall records one completion round trip including retries.
func RecordModelCall(mode, status string, duration float64) {
	ModelRequestDuration.WithLabelValues(mode, status).Observe(duration)
}
