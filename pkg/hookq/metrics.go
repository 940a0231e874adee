package hookq

import "time"

// Metrics defines the interface for tracking pipeline operations.
type Metrics interface {
	// RecordWebhookEvent records an inbound webhook and its outcome.
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookError records a webhook rejection reason.
	RecordWebhookError(provider, reason string)

	// RecordJobCompleted records a successful job and its processing time.
	RecordJobCompleted(queue, jobName string, duration time.Duration)

	// RecordJobFailed records a failed job attempt.
	RecordJobFailed(queue, jobName string)

	// RecordQueueDepth records the number of runnable jobs on a queue.
	RecordQueueDepth(queue string, depth int64)

	// RecordHeapUsage records the sampled heap allocation in bytes.
	RecordHeapUsage(bytes uint64)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(provider, eventType, status string)           {}
func (n *NoopMetrics) RecordWebhookError(provider, reason string)                      {}
func (n *NoopMetrics) RecordJobCompleted(queue, jobName string, duration time.Duration) {}
func (n *NoopMetrics) RecordJobFailed(queue, jobName string)                           {}
func (n *NoopMetrics) RecordQueueDepth(queue string, depth int64)                      {}
func (n *NoopMetrics) RecordHeapUsage(bytes uint64)                                    {}
