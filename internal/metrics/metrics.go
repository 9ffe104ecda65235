// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package metrics holds the Prometheus collectors for Aegis. Collectors are
// registered on the default registry through promauto and exposed at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request scoring
	RequestsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threat_requests_evaluated_total",
			Help: "Total number of requests scored, by decided action",
		},
		[]string{"action"},
	)

	ThreatScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threat_score",
			Help:    "Distribution of request threat scores",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threat_evaluation_duration_seconds",
			Help:    "Synchronous time spent scoring a request",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	PatternMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threat_pattern_matches_total",
			Help: "Total number of attack pattern matches, by category",
		},
		[]string{"category"},
	)

	EnforcementHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threat_enforcement_hits_total",
			Help: "Requests refused or flagged by active enforcement state",
		},
		[]string{"reason"}, // blocked_ip, suspended_user, force_mfa
	)

	// Detectors
	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detector_duration_seconds",
			Help:    "Duration of individual anomaly detector runs",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"detector"},
	)

	DetectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_failures_total",
			Help: "Detector runs that produced no result",
		},
		[]string{"detector", "reason"}, // reason: error, panic, timeout
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Total number of anomalies raised",
		},
		[]string{"type", "severity"},
	)

	ProfilesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "behavioral_profiles",
			Help: "Current number of behavioral profiles held in memory",
		},
	)

	// Incident response
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidents_created_total",
			Help: "Total number of incidents opened",
		},
		[]string{"type", "severity"},
	)

	IncidentsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incidents_resolved_total",
			Help: "Total number of incidents resolved",
		},
	)

	ResponseActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_actions_total",
			Help: "Remediation actions executed",
		},
		[]string{"action", "result"}, // result: success, noop, failure
	)

	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_deliveries_total",
			Help: "Alert delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"}, // status: sent, failed
	)

	AlertDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_delivery_duration_seconds",
			Help:    "Duration of alert deliveries by channel",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// Async work and scheduling
	AsyncTasksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_tasks_dropped_total",
			Help: "Fire-and-forget tasks dropped because the queue was full",
		},
		[]string{"task"},
	)

	AsyncTaskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_task_failures_total",
			Help: "Fire-and-forget tasks that returned an error or panicked",
		},
		[]string{"task"},
	)

	AsyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "async_queue_depth",
			Help: "Current number of queued fire-and-forget tasks",
		},
	)

	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_task_runs_total",
			Help: "Scheduled task executions by outcome",
		},
		[]string{"task", "result"}, // result: success, error, panic
	)

	// Database
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of store query errors",
		},
		[]string{"operation", "table"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of admin API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight admin API requests",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Event bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Events published to the event bus",
		},
		[]string{"topic", "result"},
	)

	// Circuit Breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordEvaluation records one scored request.
func RecordEvaluation(action string, score float64, duration time.Duration) {
	RequestsEvaluated.WithLabelValues(action).Inc()
	ThreatScore.Observe(score)
	EvaluationDuration.Observe(duration.Seconds())
}

// RecordDetector records a detector run. reason is empty on success.
func RecordDetector(detector string, duration time.Duration, reason string) {
	DetectorDuration.WithLabelValues(detector).Observe(duration.Seconds())
	if reason != "" {
		DetectorFailures.WithLabelValues(detector, reason).Inc()
	}
}

// RecordDBQuery records a store query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an admin API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight admin API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAlertDelivery records one channel delivery attempt.
func RecordAlertDelivery(channel string, sent bool, duration time.Duration) {
	status := "failed"
	if sent {
		status = "sent"
	}
	AlertDeliveries.WithLabelValues(channel, status).Inc()
	AlertDeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}
