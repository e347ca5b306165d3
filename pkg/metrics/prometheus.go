// Package metrics provides Prometheus metrics for the classpulse hub.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the hub.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	enabled        bool
	registry       prometheus.Registerer

	// Connection metrics
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec

	// Message metrics
	messagesReceived *prometheus.CounterVec
	messageErrors    *prometheus.CounterVec

	// Fan-out metrics
	broadcasts   *prometheus.CounterVec
	deliveries   prometheus.Counter
	drops        prometheus.Counter
	groupsActive prometheus.Gauge

	// Session lifecycle metrics
	sessionsStarted prometheus.Counter
	sessionsEnded   prometheus.Counter
	statsLatency    prometheus.Histogram

	// Store metrics
	storeWriteLatency *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var (
	mu             sync.RWMutex
	configured     bool
	customRegistry = prometheus.NewRegistry()
	globalManager  = NewManager(WithPrometheusRegistry(customRegistry))
)

// Configure replaces the global manager with one built from opts on a fresh registry.
// It may be called once, at startup, before any handler records metrics.
func Configure(opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	if configured {
		return ErrAlreadyConfigured
	}

	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
	configured = true
	return nil
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "classpulse",
		subsystem:      "hub",
		latencyBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		enabled:        true,
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.connectionsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections_active",
		Help:      "Number of WebSocket connections currently joined to a session group",
	})

	m.connectionsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections_total",
		Help:      "WebSocket connection attempts by outcome",
	}, []string{"outcome"})

	m.messagesReceived = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "messages_received_total",
		Help:      "Inbound frames by message kind",
	}, []string{"kind"})

	m.messageErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "message_errors_total",
		Help:      "Inbound frames answered with an error event",
	}, []string{"kind", "reason"})

	m.broadcasts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcasts_total",
		Help:      "Group broadcasts by event type",
	}, []string{"event"})

	m.deliveries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "deliveries_total",
		Help:      "Frames queued for individual members during broadcasts",
	})

	m.drops = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "delivery_drops_total",
		Help:      "Broadcast frames dropped because a member could not accept them",
	})

	m.groupsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "groups_active",
		Help:      "Number of session groups with at least one member",
	})

	m.sessionsStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_started_total",
		Help:      "Sessions started",
	})

	m.sessionsEnded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_ended_total",
		Help:      "Sessions ended",
	})

	m.statsLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stats_computation_latency_ms",
		Help:      "Time spent computing session statistics in milliseconds",
		Buckets:   m.latencyBuckets,
	})

	m.storeWriteLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "write_latency_ms",
		Help:      "Store write latency in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"operation"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Store operations that failed",
	}, []string{"operation"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

func current() *Manager {
	mu.RLock()
	defer mu.RUnlock()
	return globalManager
}

func record(fn func(m *Manager)) {
	m := current()
	if !m.enabled {
		return
	}
	fn(m)
}

// RecordConnection counts a connection attempt and its outcome.
func RecordConnection(outcome string) {
	record(func(m *Manager) { m.connectionsTotal.WithLabelValues(outcome).Inc() })
}

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened() {
	record(func(m *Manager) { m.connectionsActive.Inc() })
}

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed() {
	record(func(m *Manager) { m.connectionsActive.Dec() })
}

// RecordMessage counts an inbound frame.
func RecordMessage(kind string) {
	record(func(m *Manager) { m.messagesReceived.WithLabelValues(kind).Inc() })
}

// RecordMessageError counts an inbound frame answered with an error.
func RecordMessageError(kind, reason string) {
	record(func(m *Manager) { m.messageErrors.WithLabelValues(kind, reason).Inc() })
}

// RecordBroadcast counts one broadcast with its delivered and dropped recipients.
func RecordBroadcast(eventType string, delivered, dropped int) {
	record(func(m *Manager) {
		m.broadcasts.WithLabelValues(eventType).Inc()
		m.deliveries.Add(float64(delivered))
		m.drops.Add(float64(dropped))
	})
}

// UpdateGroupsActive sets the number of non-empty session groups.
func UpdateGroupsActive(count int) {
	record(func(m *Manager) { m.groupsActive.Set(float64(count)) })
}

// RecordSessionStarted increments the sessions started counter.
func RecordSessionStarted() {
	record(func(m *Manager) { m.sessionsStarted.Inc() })
}

// RecordSessionEnded increments the sessions ended counter.
func RecordSessionEnded() {
	record(func(m *Manager) { m.sessionsEnded.Inc() })
}

// RecordStatsLatency records stats computation latency in milliseconds.
func RecordStatsLatency(latencyMs float64) {
	record(func(m *Manager) { m.statsLatency.Observe(latencyMs) })
}

// RecordStoreWrite records the latency of one store write in milliseconds.
func RecordStoreWrite(operation string, latencyMs float64) {
	record(func(m *Manager) { m.storeWriteLatency.WithLabelValues(operation).Observe(latencyMs) })
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(operation string) {
	record(func(m *Manager) { m.storeErrors.WithLabelValues(operation).Inc() })
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	record(func(m *Manager) { m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc() })
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	record(func(m *Manager) {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	})
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return customRegistry
}
