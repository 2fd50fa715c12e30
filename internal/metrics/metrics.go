package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestage_webhook_events_total",
			Help: "Stripe webhook events by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: processed, ignored, duplicate, rejected, failed
	)

	LedgerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestage_ledger_transitions_total",
			Help: "Stage ledger operations by result",
		},
		[]string{"operation", "result"}, // result: applied, noop, error
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestage_notifications_total",
			Help: "Notification jobs by template and delivery status",
		},
		[]string{"type", "status"}, // status: sent, failed, dropped, queued
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "milestage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordWebhookEvent(eventType, outcome string) {
	WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func RecordLedgerTransition(operation, result string) {
	LedgerTransitions.WithLabelValues(operation, result).Inc()
}

func RecordNotification(template, status string) {
	Notifications.WithLabelValues(template, status).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
