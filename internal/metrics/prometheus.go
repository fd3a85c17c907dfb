package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the mint listener
type PrometheusMetrics struct {
	// Log feed metrics
	LogRecordsReceivedTotal prometheus.Counter
	SubscriptionsTotal      *prometheus.CounterVec
	SubscriptionActive      prometheus.Gauge

	// Detection and enrichment metrics
	MintsDetectedTotal  prometheus.Counter
	RecordsSkippedTotal *prometheus.CounterVec
	ProcessingDuration  prometheus.Histogram
	EnrichmentsTotal    *prometheus.CounterVec
	EnrichmentDuration  prometheus.Histogram

	// Connection and error metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Broadcast metrics
	EventsPublishedTotal prometheus.Counter
	EventsDroppedTotal   prometheus.Counter
	SubscribersActive    prometheus.Gauge

	// Relay metrics
	RelayDeliveriesTotal *prometheus.CounterVec
	RelayDuration        *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Log feed metrics
		LogRecordsReceivedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mint_listener_log_records_received_total",
				Help: "Total number of program log records received from the feed",
			},
		),

		SubscriptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_subscriptions_total",
				Help: "Total number of log subscription attempts",
			},
			[]string{"status"},
		),

		SubscriptionActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mint_listener_subscription_active",
				Help: "Whether the log subscription is currently open (1) or not (0)",
			},
		),

		// Detection and enrichment metrics
		MintsDetectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mint_listener_mints_detected_total",
				Help: "Total number of mint creations detected",
			},
		),

		RecordsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_records_skipped_total",
				Help: "Total number of log records that produced no event",
			},
			[]string{"reason"},
		),

		ProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mint_listener_record_processing_duration_seconds",
				Help:    "Time spent turning a log record into a published event",
				Buckets: prometheus.DefBuckets,
			},
		),

		EnrichmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_enrichments_total",
				Help: "Total number of metadata lookups",
			},
			[]string{"status"},
		),

		EnrichmentDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mint_listener_enrichment_duration_seconds",
				Help:    "Duration of metadata lookups",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Connection and error metrics
		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_connection_errors_total",
				Help: "Total number of connection errors to the Solana provider",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_rpc_requests_total",
				Help: "Total number of RPC requests made to the Solana provider",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mint_listener_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to the Solana provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		// Broadcast metrics
		EventsPublishedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mint_listener_events_published_total",
				Help: "Total number of enriched events published to the hub",
			},
		),

		EventsDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mint_listener_events_dropped_total",
				Help: "Total number of per-subscriber deliveries dropped on a full buffer",
			},
		),

		SubscribersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mint_listener_subscribers_active",
				Help: "Number of currently registered stream subscribers",
			},
		),

		// Relay metrics
		RelayDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_relay_deliveries_total",
				Help: "Total number of relay deliveries",
			},
			[]string{"sink", "status"},
		),

		RelayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mint_listener_relay_duration_seconds",
				Help:    "Duration of relay deliveries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		// API metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_listener_http_requests_total",
				Help: "Total number of HTTP requests to the API",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mint_listener_http_request_duration_seconds",
				Help:    "Duration of HTTP requests to the API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mint_listener_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mint_listener_component_health",
				Help: "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mint_listener_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mint_listener_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// Helper methods for recording metrics

func (m *PrometheusMetrics) RecordLogRecordReceived() {
	m.LogRecordsReceivedTotal.Inc()
}

func (m *PrometheusMetrics) RecordSubscription(status string) {
	m.SubscriptionsTotal.WithLabelValues(status).Inc()
}

func (m *PrometheusMetrics) UpdateSubscriptionActive(active bool) {
	if active {
		m.SubscriptionActive.Set(1)
	} else {
		m.SubscriptionActive.Set(0)
	}
}

func (m *PrometheusMetrics) RecordMintDetected() {
	m.MintsDetectedTotal.Inc()
}

func (m *PrometheusMetrics) RecordRecordSkipped(reason string) {
	m.RecordsSkippedTotal.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordProcessingDuration(duration time.Duration) {
	m.ProcessingDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordEnrichment(status string, duration time.Duration) {
	m.EnrichmentsTotal.WithLabelValues(status).Inc()
	m.EnrichmentDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordEventPublished() {
	m.EventsPublishedTotal.Inc()
}

func (m *PrometheusMetrics) RecordEventDropped() {
	m.EventsDroppedTotal.Inc()
}

func (m *PrometheusMetrics) UpdateSubscribers(count int) {
	m.SubscribersActive.Set(float64(count))
}

func (m *PrometheusMetrics) RecordRelayDelivery(sink, status string, duration time.Duration) {
	m.RelayDeliveriesTotal.WithLabelValues(sink, status).Inc()
	m.RelayDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
