package hookq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Emitter converts verified webhooks (or internal triggers) into durable
// jobs on the workflow queue. Safe for concurrent use; the queue backend
// owns its own concurrency safety.
type Emitter struct {
	queue  Queue
	logger Logger
}

// NewEmitter creates an Emitter producing onto the given queue.
func NewEmitter(queue Queue, logger Logger) (*Emitter, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Emitter{queue: queue, logger: logger}, nil
}

// Emit builds the NormalizedEvent and enqueues it with default options,
// returning the queue-assigned job handle once the enqueue I/O completed.
func (e *Emitter) Emit(
	ctx context.Context,
	organizationID string,
	provider Provider,
	eventType string,
	payload map[string]any,
	headers map[string]string,
) (*Job, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	event := NormalizedEvent{
		OrganizationID: organizationID,
		Provider:       provider,
		EventType:      eventType,
		Payload:        payload,
		Headers:        headers,
		ReceivedAt:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	job, err := e.queue.Enqueue(ctx, JobEvaluateEvent, data)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue event: %w", err)
	}

	e.logger.Debug("event enqueued",
		Field{Key: "job_id", Value: job.ID},
		Field{Key: "organization_id", Value: organizationID},
		Field{Key: "provider", Value: string(provider)},
		Field{Key: "event_type", Value: eventType},
	)

	return job, nil
}
