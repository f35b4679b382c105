package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	ReportsTotal        *prometheus.CounterVec
	ClassifierFallbacks prometheus.Counter
	FollowUpsTotal      prometheus.Counter
	OutbreakAlertsTotal prometheus.Counter
	USSDSessionsTotal   *prometheus.CounterVec

	BroadcastEvents  *prometheus.CounterVec
	BroadcastDropped prometheus.Counter
	WSConnections    prometheus.Gauge

	DBConnections prometheus.Gauge
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		ReportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "reports_total",
			Help:      "Health reports processed by assigned category.",
		}, []string{"category"}),

		ClassifierFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "classifier_fallbacks_total",
			Help:      "Submissions that received the RED safety fallback because the AI service was unavailable. Alert if rising.",
		}),

		FollowUpsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "follow_ups_total",
			Help:      "Submissions merged into an existing unresolved session.",
		}),

		OutbreakAlertsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "outbreak_alerts_total",
			Help:      "Outbreak alerts raised by the RED cluster heuristic.",
		}),

		USSDSessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "ussd_sessions_total",
			Help:      "USSD sessions by final state.",
		}, []string{"state"}),

		BroadcastEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events published to the dashboard channel.",
		}, []string{"event"}),

		BroadcastDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "realtime",
			Name:      "dropped_total",
			Help:      "Events dropped because a client send buffer was full.",
		}),

		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Current number of connected dashboard clients.",
		}),

		DBConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Current number of open database connections.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
