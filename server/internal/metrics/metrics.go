// Package metrics declares the Prometheus collectors exported by
// wardwatch-server and the handler that serves them.
package metrics

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "wardwatch"

var (
	// Alert lifecycle

	// AlertEvents counts lifecycle events emitted by the alert engine.
	AlertEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "events_total",
			Help:      "Lifecycle events emitted, by event type",
		},
		[]string{"event"}, // created, acknowledged, escalated, resolved
	)

	// Renotifications counts last-tier timeouts that re-notify without advancing.
	Renotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "renotifications_total",
			Help:      "Last-tier timeouts that re-notified responders",
		},
	)

	// AcknowledgeLatency tracks time from creation to acknowledgment.
	AcknowledgeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "acknowledge_latency_seconds",
			Help:      "Seconds between alert creation and acknowledgment",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// ActiveAlerts is the number of open alerts per hospital, refreshed on
	// every metrics tick.
	ActiveAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "active",
			Help:      "Open alerts per hospital",
		},
		[]string{"hospital"},
	)

	// Persistence

	// PersistFailures counts store writes that failed on the request path.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Persist calls that returned an error to the caller",
		},
	)

	// PersistRetries counts background retry attempts.
	PersistRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Background persist retries, by outcome",
		},
		[]string{"outcome"}, // success, failed
	)

	// RetryQueueDepth is the number of alert states waiting to be persisted.
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retry_queue_depth",
			Help:      "Alert states waiting for a background persist",
		},
	)

	// Realtime distribution

	// Sessions is the number of connected WebSocket sessions.
	Sessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "sessions",
			Help:      "Connected WebSocket sessions",
		},
	)

	// SessionsClosed counts session teardowns by reason.
	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "sessions_closed_total",
			Help:      "Closed WebSocket sessions, by reason",
		},
		[]string{"reason"},
	)

	// DeliveryFailures counts messages that could not be queued for a session.
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "delivery_failures_total",
			Help:      "Fan-out deliveries that failed, by message type",
		},
		[]string{"type"},
	)

	// LivenessChecks counts out-of-band pings sent to sessions whose event
	// queue overflowed.
	LivenessChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "liveness_checks_total",
			Help:      "Liveness pings triggered by a full session queue",
		},
	)

	// ResyncNotices counts resync messages sent in place of dropped alert
	// events.
	ResyncNotices = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "resync_notices_total",
			Help:      "Resync notices queued after alert events were dropped",
		},
	)

	// Relay

	// RelayEvents counts events handed to outbound sinks.
	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Events relayed to external sinks, by sink and result",
		},
		[]string{"sink", "result"}, // result: sent, failed, dropped
	)

	// Command surface

	// RequestDuration tracks REST and gRPC command latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Command request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"surface", "route", "code"},
	)
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteText gathers g and writes every family in the text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
