package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements hookq.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal    *prometheus.CounterVec
	webhookErrorsTotal    *prometheus.CounterVec
	jobsCompletedTotal    *prometheus.CounterVec
	jobProcessingDuration *prometheus.HistogramVec
	jobsFailedTotal       *prometheus.CounterVec
	queueDepth            *prometheus.GaugeVec
	heapBytes             prometheus.Gauge
}

// NewMetrics creates a Prometheus metrics implementation for the pipeline.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of webhook events received, by provider and outcome.",
		}, []string{"provider", "event_type", "status"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "errors_total",
			Help:      "Total number of webhook rejections by reason.",
		}, []string{"provider", "reason"}),

		jobsCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs completed successfully.",
		}, []string{"queue", "job_name"}),

		jobProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processing_duration_seconds",
			Help:      "Duration of job processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "job_name"}),

		jobsFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of failed job attempts.",
		}, []string{"queue", "job_name"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of immediately runnable jobs per queue.",
		}, []string{"queue"}),

		heapBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "heap_bytes",
			Help:      "Heap allocation sampled by the supervisor health check.",
		}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookError(provider, reason string) {
	m.webhookErrorsTotal.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) RecordJobCompleted(queue, jobName string, duration time.Duration) {
	m.jobsCompletedTotal.WithLabelValues(queue, jobName).Inc()
	m.jobProcessingDuration.WithLabelValues(queue, jobName).Observe(duration.Seconds())
}

func (m *Metrics) RecordJobFailed(queue, jobName string) {
	m.jobsFailedTotal.WithLabelValues(queue, jobName).Inc()
}

func (m *Metrics) RecordQueueDepth(queue string, depth int64) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) RecordHeapUsage(bytes uint64) {
	m.heapBytes.Set(float64(bytes))
}
