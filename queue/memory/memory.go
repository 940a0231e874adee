// Package memory provides an in-process implementation of hookq.Queue for
// tests and local development. Jobs do not survive process restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

type delayedEntry struct {
	job   *hookq.Job
	runAt time.Time
}

type scheduleEntry struct {
	schedule hookq.Schedule
	spec     cron.Schedule
	next     time.Time
}

// Queue implements hookq.Queue in memory.
type Queue struct {
	name string
	now  func() time.Time

	mu        sync.Mutex
	pending   []*hookq.Job
	delayed   []delayedEntry
	dead      []*hookq.Job
	schedules map[string]*scheduleEntry
	closed    bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithNowFunc overrides the time source, for deterministic tests.
func WithNowFunc(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an in-memory queue with the given name.
func New(name string, opts ...Option) *Queue {
	q := &Queue{
		name:      name,
		now:       time.Now,
		schedules: make(map[string]*scheduleEntry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Enqueue(ctx context.Context, name string, payload []byte, opts ...hookq.EnqueueOption) (*hookq.Job, error) {
	o := hookq.ApplyEnqueueOptions(opts)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, hookq.ErrQueueClosed
	}

	id := o.JobID
	if id == "" {
		id = uuid.NewString()
	}

	now := q.now().UTC()
	job := &hookq.Job{
		ID:          id,
		Queue:       q.name,
		Name:        name,
		Payload:     payload,
		MaxAttempts: o.MaxAttempts,
		CreatedAt:   now,
	}

	if o.Delay > 0 {
		job.ScheduledFor = now.Add(o.Delay)
		q.delayed = append(q.delayed, delayedEntry{job: job, runAt: job.ScheduledFor})
	} else {
		q.pending = append(q.pending, job)
	}
	return job, nil
}

func (q *Queue) Dequeue(ctx context.Context) (*hookq.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, hookq.ErrQueueClosed
	}

	q.promoteLocked()

	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.AttemptsMade++
	return job, nil
}

func (q *Queue) Complete(ctx context.Context, job *hookq.Job) error {
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *hookq.Job, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return hookq.ErrQueueClosed
	}

	if jobErr != nil {
		job.LastError = jobErr.Error()
	}
	if job.AttemptsMade >= job.MaxAttempts {
		q.dead = append(q.dead, job)
		return nil
	}
	runAt := q.now().UTC().Add(hookq.RetryBackoff(job.AttemptsMade))
	job.ScheduledFor = runAt
	q.delayed = append(q.delayed, delayedEntry{job: job, runAt: runAt})
	return nil
}

func (q *Queue) RegisterSchedule(ctx context.Context, s hookq.Schedule) error {
	if s.JobID == "" {
		return fmt.Errorf("schedule job id is required")
	}
	spec, err := cron.ParseStandard(s.Pattern)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", hookq.ErrInvalidSchedule, s.Pattern, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return hookq.ErrQueueClosed
	}

	if existing, ok := q.schedules[s.JobID]; ok {
		// Re-registration keeps the pending fire time unless the pattern
		// changed.
		if existing.schedule.Pattern != s.Pattern {
			existing.next = spec.Next(q.now().UTC())
		}
		existing.schedule = s
		existing.spec = spec
		return nil
	}

	q.schedules[s.JobID] = &scheduleEntry{
		schedule: s,
		spec:     spec,
		next:     spec.Next(q.now().UTC()),
	}
	return nil
}

func (q *Queue) Schedules(ctx context.Context) ([]hookq.Schedule, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]hookq.Schedule, 0, len(q.schedules))
	for _, entry := range q.schedules {
		out = append(out, entry.schedule)
	}
	return out, nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Dead returns jobs that exhausted their attempts. Test helper.
func (q *Queue) Dead() []*hookq.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*hookq.Job, len(q.dead))
	copy(out, q.dead)
	return out
}

// promoteLocked moves due delayed jobs to pending and fires due schedules.
func (q *Queue) promoteLocked() {
	now := q.now().UTC()

	remaining := q.delayed[:0]
	for _, entry := range q.delayed {
		if !entry.runAt.After(now) {
			q.pending = append(q.pending, entry.job)
		} else {
			remaining = append(remaining, entry)
		}
	}
	q.delayed = remaining

	for _, entry := range q.schedules {
		for !entry.next.After(now) {
			fireAt := entry.next
			q.pending = append(q.pending, &hookq.Job{
				ID:           fmt.Sprintf("%s@%d", entry.schedule.JobID, fireAt.Unix()),
				Queue:        q.name,
				Name:         entry.schedule.JobName,
				Payload:      entry.schedule.Payload,
				MaxAttempts:  hookq.DefaultMaxAttempts,
				CreatedAt:    now,
				ScheduledFor: fireAt,
			})
			entry.next = entry.spec.Next(fireAt)
		}
	}
}
