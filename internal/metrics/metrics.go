package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "onchain_alerts"

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Scheduler metrics ──────────────────────────────────────────────────

var (
	SchedulerPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "passes_total",
		Help:      "Total number of evaluation passes by outcome.",
	}, []string{"status"})

	SchedulerPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "pass_duration_seconds",
		Help:      "Duration of one evaluation pass in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	SchedulerTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ticks_skipped_total",
		Help:      "Ticks skipped because the previous pass was still running.",
	})

	SchedulerLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last completed pass.",
	})
)

// ── Provider metrics ───────────────────────────────────────────────────

var (
	ProviderFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "fetch_total",
		Help:      "Total number of provider lookups by kind and outcome.",
	}, []string{"kind", "status"})

	ProviderFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of provider lookups in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})
)

// ── Alert delivery metrics ─────────────────────────────────────────────

var (
	AlertsEvaluatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "evaluated_total",
		Help:      "Total alerts evaluated against a live value.",
	}, []string{"kind"})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts successfully delivered.",
	}, []string{"kind"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alert delivery failures.",
	}, []string{"kind"})

	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "suppressed_total",
		Help:      "Total triggered alerts suppressed before delivery.",
	}, []string{"kind", "reason"})

	AlertsMalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "malformed_total",
		Help:      "Total alerts excluded from a pass because they failed validation.",
	}, []string{"kind"})
)

// ── Business metrics ───────────────────────────────────────────────────

var (
	AlertsEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "business",
		Name:      "alerts_enabled",
		Help:      "Number of enabled alerts loaded by the last pass.",
	})

	TelegramUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "business",
		Name:      "telegram_users",
		Help:      "Total number of registered Telegram users.",
	})
)
