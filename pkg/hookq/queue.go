package hookq

import (
	"context"
	"time"
)

// DefaultMaxAttempts is the attempt ceiling applied when an enqueue call
// does not override it. After the ceiling the job moves to the dead set.
const DefaultMaxAttempts = 5

// maxRetryBackoff caps the exponential retry delay.
const maxRetryBackoff = 5 * time.Minute

// Queue is a durable, named job queue. Implementations must be safe for
// concurrent use; the same queue handle is shared by producers and exactly
// one worker in this deployment.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue adds a job and returns its handle once the enqueue I/O
	// completed.
	Enqueue(ctx context.Context, name string, payload []byte, opts ...EnqueueOption) (*Job, error)

	// Dequeue claims the next runnable job. It returns (nil, nil) when no
	// job is due; callers poll.
	Dequeue(ctx context.Context) (*Job, error)

	// Complete commits a claimed job as done and removes it.
	Complete(ctx context.Context, job *Job) error

	// Fail records a failed attempt. The job is rescheduled with backoff
	// while attempts remain, otherwise it moves to the dead set.
	Fail(ctx context.Context, job *Job, jobErr error) error

	// RegisterSchedule registers a repeating job. Registration is
	// idempotent by Schedule.JobID: re-registering an identical schedule
	// across process restarts keeps exactly one recurring entry.
	RegisterSchedule(ctx context.Context, s Schedule) error

	// Schedules lists the registered repeating jobs.
	Schedules(ctx context.Context) ([]Schedule, error)

	// Depth returns the number of immediately runnable jobs.
	Depth(ctx context.Context) (int64, error)

	// Close releases queue resources. The backend connection is owned by
	// the caller and survives Close.
	Close() error
}

// Schedule is a declarative repeating-job descriptor. The full set of
// recurring obligations is registered in one pass at startup so it stays
// auditable in one place.
type Schedule struct {
	// JobID is the stable identity used for deduplication across restarts.
	JobID string

	// JobName is the handler dispatch name for fired instances.
	JobName string

	// Pattern is a standard 5-field cron expression, evaluated in UTC.
	Pattern string

	// Payload is attached to every fired instance.
	Payload []byte
}

// EnqueueOptions control a single enqueue call.
type EnqueueOptions struct {
	JobID       string
	Delay       time.Duration
	MaxAttempts int
}

// EnqueueOption mutates EnqueueOptions.
type EnqueueOption func(*EnqueueOptions)

// WithJobID pins the job id instead of generating one. Backends dedupe by
// id, so callers can use this for their own idempotency keys.
func WithJobID(id string) EnqueueOption {
	return func(o *EnqueueOptions) { o.JobID = id }
}

// WithDelay schedules the job to become runnable after d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

// WithMaxAttempts overrides DefaultMaxAttempts for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.MaxAttempts = n }
}

// ApplyEnqueueOptions resolves options with defaults filled in.
func ApplyEnqueueOptions(opts []EnqueueOption) EnqueueOptions {
	o := EnqueueOptions{MaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// RetryBackoff returns the delay before the next attempt: exponential from
// one second, capped at five minutes. attempts counts attempts already made.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Second << uint(attempts-1)
	if d > maxRetryBackoff || d <= 0 {
		return maxRetryBackoff
	}
	return d
}
