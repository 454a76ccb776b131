package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageq_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageq_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	// Upload metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_uploads_total",
			Help: "Total number of uploads by result",
		},
		[]string{"status"}, // status: queued, rejected, store_failed, publish_failed
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imageq_upload_size_bytes",
			Help:    "Size of accepted uploads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// Task metrics
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_tasks_total",
			Help: "Total number of deliveries handled by workers",
		},
		[]string{"outcome"}, // outcome: acked, dropped
	)

	TaskFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_task_faults_total",
			Help: "Total number of dropped tasks by fault kind",
		},
		[]string{"kind"},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imageq_task_duration_seconds",
			Help:    "Time from delivery to acknowledgment",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageq_tasks_in_flight",
			Help: "Unacknowledged deliveries held by this worker",
		},
	)

	// Broker metrics
	BrokerConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_broker_connect_attempts_total",
			Help: "Total number of broker dial attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageq_broker_connected",
			Help: "1 while a broker connection is up",
		},
	)

	BrokerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageq_broker_reconnects_total",
			Help: "Total number of connections re-established after a drop",
		},
	)

	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_publish_total",
			Help: "Total number of envelopes published",
		},
		[]string{"status"},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imageq_publish_duration_seconds",
			Help:    "Time taken to publish and confirm an envelope",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Drop journal metrics
	JournalPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_journal_publish_total",
			Help: "Total number of drop records written to Kafka",
		},
		[]string{"status"},
	)

	JournalPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageq_journal_publish_retries_total",
			Help: "Total number of drop journal publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageq_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
