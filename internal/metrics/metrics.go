// Package metrics holds the Prometheus collectors exported on the admin
// server's /metrics endpoint. Collectors register with the default
// registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memu"

var (
	// MessagesTotal counts inbound chat events by routing outcome
	// (self, stale, mode_off, not_addressed, command, intent).
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound chat messages by routing outcome.",
		},
		[]string{"outcome"},
	)

	// CommandsTotal counts handler invocations by command and result.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command handler invocations.",
		},
		[]string{"command", "result"},
	)

	// ModelRequests counts language model calls by purpose and result.
	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "brain",
			Name:      "requests_total",
			Help:      "Language model requests.",
		},
		[]string{"purpose", "result"},
	)

	// JSONParseStage counts which tolerant-JSON stage produced a result.
	JSONParseStage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "brain",
			Name:      "json_parse_total",
			Help:      "Model JSON parse outcomes by stage (direct, extracted, fallback).",
		},
		[]string{"stage"},
	)

	// SiloDuration observes recall fan-out latency per silo.
	SiloDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recall",
			Name:      "silo_duration_seconds",
			Help:      "Recall query latency per silo.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"silo"},
	)

	// SiloErrors counts failed or timed-out silo queries.
	SiloErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recall",
			Name:      "silo_errors_total",
			Help:      "Recall silo queries that failed or timed out.",
		},
		[]string{"silo"},
	)

	// RemindersSent counts delivered reminder alerts.
	RemindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminder alerts delivered.",
		},
	)

	// BackupHealth is 0 healthy, 1 warning, 2 critical.
	BackupHealth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "health",
			Help:      "Backup health verdict (0 healthy, 1 warning, 2 critical).",
		},
	)

	// ServiceUp is 1 when a watched dependency answers its probe.
	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_up",
			Help:      "Dependency reachability as seen by the connection watcher.",
		},
		[]string{"service"},
	)
)

// Result labels shared by the counters above.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultEmpty = "empty"
)
