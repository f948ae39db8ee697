package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job lifecycle metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_jobs_total",
			Help: "Job lifecycle transitions by resulting status",
		},
		[]string{"status"}, // submitted, completed, failed, retried
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcoder_job_duration_seconds",
			Help:    "Wall time spent processing a job, by outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"outcome"},
	)
)

// FilesExpired counts files removed by the retention sweep.
var FilesExpired = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "transcoder_files_expired_total",
		Help: "Files removed after their retention period",
	},
)

// Queue transport metrics
var (
	QueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcoder_queue_enqueued_total",
			Help: "Payloads accepted by the queue transport",
		},
	)

	QueueDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_queue_deliveries_total",
			Help: "Delivery outcomes reported by consumers",
		},
		[]string{"result"}, // ack, retry, dead, panic
	)

	QueueInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcoder_queue_inflight",
			Help: "Deliveries currently being handled by this process",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_http_requests_total",
			Help: "HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)
)

// Job status labels
const (
	StatusSubmitted = "submitted"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRetried   = "retried"
)

// Delivery result labels
const (
	DeliveryAck   = "ack"
	DeliveryRetry = "retry"
	DeliveryDead  = "dead"
	DeliveryPanic = "panic"
)
