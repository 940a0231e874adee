package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test database
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		queueName string
		client    redis.UniversalClient
		wantErr   bool
	}{
		{"valid", "workflow", redis.NewClient(&redis.Options{}), false},
		{"missing name", "", redis.NewClient(&redis.Options{}), true},
		{"missing client", "workflow", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(tt.queueName, tt.client, Config{})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if q.config.KeyPrefix != "hookq:" {
				t.Errorf("expected default key prefix, got %q", q.config.KeyPrefix)
			}
			if q.config.LeaseTimeout != 60*time.Second {
				t.Errorf("expected default lease timeout, got %v", q.config.LeaseTimeout)
			}
		})
	}
}

func TestQueue_EnqueueDequeueComplete(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("workflow", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	job, err := q.Enqueue(ctx, hookq.JobEvaluateEvent, []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a generated job id")
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected depth 1, got %d", depth)
	}

	claimed, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a job")
	}
	if claimed.ID != job.ID {
		t.Errorf("expected job %s, got %s", job.ID, claimed.ID)
	}
	if claimed.AttemptsMade != 1 {
		t.Errorf("expected 1 attempt, got %d", claimed.AttemptsMade)
	}
	if string(claimed.Payload) != `{"k":"v"}` {
		t.Errorf("payload mismatch: %q", claimed.Payload)
	}

	if err := q.Complete(ctx, claimed); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// Completed jobs leave no record behind.
	exists, err := client.Exists(ctx, q.jobKey(job.ID)).Result()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists != 0 {
		t.Error("job record should be deleted after completion")
	}

	next, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if next != nil {
		t.Errorf("expected empty queue, got job %s", next.ID)
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("workflow", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(ctx, "step", nil)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	for i, want := range ids {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if job == nil {
			t.Fatalf("expected job at position %d", i)
		}
		if job.ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, job.ID)
		}
	}
}

func TestQueue_EnqueueDeduplicatesByID(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("workflow", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "once", nil, hookq.WithJobID("idem-1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "once", nil, hookq.WithJobID("idem-1")); err != nil {
		t.Fatalf("duplicate Enqueue failed: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected duplicate to be dropped, depth = %d", depth)
	}
}

func TestQueue_FailRetriesThenDead(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("workflow", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "flaky", nil, hookq.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimed, err := q.Dequeue(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := q.Fail(ctx, claimed, errors.New("attempt 1 failed")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	// Attempt 1 of 2: the job is rescheduled, not dead.
	deadLen, err := client.LLen(ctx, q.key("dead")).Result()
	if err != nil {
		t.Fatalf("LLen failed: %v", err)
	}
	if deadLen != 0 {
		t.Fatal("job should be retrying, not dead")
	}
	delayed, err := client.ZCard(ctx, q.key("delayed")).Result()
	if err != nil {
		t.Fatalf("ZCard failed: %v", err)
	}
	if delayed != 1 {
		t.Fatalf("expected 1 delayed job, got %d", delayed)
	}

	// Make the retry due now and claim the final attempt.
	if err := client.ZAdd(ctx, q.key("delayed"), redis.Z{Score: 0, Member: job.ID}).Err(); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}
	claimed, err = q.Dequeue(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Dequeue of retry failed: %v", err)
	}
	if claimed.AttemptsMade != 2 {
		t.Errorf("expected attempt 2, got %d", claimed.AttemptsMade)
	}
	if claimed.LastError != "attempt 1 failed" {
		t.Errorf("expected recorded error, got %q", claimed.LastError)
	}

	if err := q.Fail(ctx, claimed, errors.New("attempt 2 failed")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	deadLen, err = client.LLen(ctx, q.key("dead")).Result()
	if err != nil {
		t.Fatalf("LLen failed: %v", err)
	}
	if deadLen != 1 {
		t.Errorf("expected job on dead list after exhausting attempts, got %d", deadLen)
	}
}

func TestQueue_StalledJobRedelivered(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cfg := DefaultConfig()
	cfg.LeaseTimeout = time.Second
	q, err := New("workflow", client, cfg)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "sticky", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := q.Dequeue(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	// Simulate a worker that claimed the job and died: backdate the lease
	// past its expiry instead of waiting it out.
	if err := client.ZAdd(ctx, q.key("active"), redis.Z{
		Score:  float64(time.Now().Add(-time.Minute).Unix()),
		Member: job.ID,
	}).Err(); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}

	redelivered, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if redelivered == nil {
		t.Fatal("stalled job was not redelivered")
	}
	if redelivered.ID != job.ID {
		t.Errorf("expected %s, got %s", job.ID, redelivered.ID)
	}
	if redelivered.AttemptsMade != 2 {
		t.Errorf("redelivery should count an attempt, got %d", redelivered.AttemptsMade)
	}
}

func TestQueue_DelayedJob(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("workflow", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "later", nil, hookq.WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimed, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if claimed != nil {
		t.Fatal("delayed job must not be runnable before its time")
	}

	// Backdate the delay and confirm promotion.
	if err := client.ZAdd(ctx, q.key("delayed"), redis.Z{Score: 0, Member: job.ID}).Err(); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}
	claimed, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatal("delayed job was not promoted")
	}
}

func TestQueue_RegisterScheduleIdempotent(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("maintenance", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	s := hookq.Schedule{
		JobID:   "purge-automation-logs",
		JobName: hookq.JobPurgeAutomationLogs,
		Pattern: "0 3 * * *",
	}
	if err := q.RegisterSchedule(ctx, s); err != nil {
		t.Fatalf("RegisterSchedule failed: %v", err)
	}

	first, err := client.ZScore(ctx, q.key("repeat"), s.JobID).Result()
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}

	// Re-registering the same descriptor keeps the pending fire time.
	if err := q.RegisterSchedule(ctx, s); err != nil {
		t.Fatalf("re-RegisterSchedule failed: %v", err)
	}
	second, err := client.ZScore(ctx, q.key("repeat"), s.JobID).Result()
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	if first != second {
		t.Errorf("fire time changed on idempotent re-registration: %v -> %v", first, second)
	}

	schedules, err := q.Schedules(ctx)
	if err != nil {
		t.Fatalf("Schedules failed: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(schedules))
	}
	if schedules[0].Pattern != "0 3 * * *" {
		t.Errorf("pattern mismatch: %q", schedules[0].Pattern)
	}
}

func TestQueue_ScheduleFiresOnce(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	q, err := New("maintenance", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	ctx := context.Background()

	s := hookq.Schedule{
		JobID:   "purge-automation-logs",
		JobName: hookq.JobPurgeAutomationLogs,
		Pattern: "0 3 * * *",
	}
	if err := q.RegisterSchedule(ctx, s); err != nil {
		t.Fatalf("RegisterSchedule failed: %v", err)
	}

	// Force the schedule due.
	if err := client.ZAdd(ctx, q.key("repeat"), redis.Z{Score: 0, Member: s.JobID}).Err(); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if job == nil {
		t.Fatal("due schedule did not fire")
	}
	if job.Name != hookq.JobPurgeAutomationLogs {
		t.Errorf("expected %s, got %s", hookq.JobPurgeAutomationLogs, job.Name)
	}

	// The schedule advanced; a second pass fires nothing.
	next, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if next != nil {
		t.Errorf("schedule double-fired: %s", next.ID)
	}
}

func TestQueue_InvalidSchedulePattern(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	q, err := New("maintenance", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	err = q.RegisterSchedule(context.Background(), hookq.Schedule{
		JobID:   "x",
		JobName: "x",
		Pattern: "not-a-cron",
	})
	if !errors.Is(err, hookq.ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestQueue_ClosedRejectsOperations(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	q, err := New("workflow", client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := q.Enqueue(context.Background(), "x", nil); !errors.Is(err, hookq.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, hookq.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}
