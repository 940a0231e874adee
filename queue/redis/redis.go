// Package redis provides a durable Redis implementation of hookq.Queue.
// State transitions run through Lua scripts so concurrent producers,
// workers, and restarts observe atomic moves between the pending list, the
// delayed/repeat sorted sets, the active lease set, and the dead list.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// Config holds Redis queue configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "hookq:")
	KeyPrefix string

	// LeaseTimeout is how long a claimed job may run before it is
	// considered stalled and re-delivered (default: 60s).
	LeaseTimeout time.Duration

	// RepeatBatch caps how many due schedules fire per dequeue pass
	// (default: 10).
	RepeatBatch int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:    "hookq:",
		LeaseTimeout: 60 * time.Second,
		RepeatBatch:  10,
	}
}

// Queue implements hookq.Queue on Redis. The client is shared with other
// queues and owned by the caller; Close does not close it.
type Queue struct {
	name    string
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
	closed  atomic.Bool
}

// New creates a Redis-backed queue. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(name string, client redis.UniversalClient, config Config) (*Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "hookq:"
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 60 * time.Second
	}
	if config.RepeatBatch <= 0 {
		config.RepeatBatch = 10
	}

	q := &Queue{
		name:    name,
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	q.loadScripts()
	return q, nil
}

func (q *Queue) loadScripts() {
	// Create the job hash and make it runnable, deduplicating by job id.
	q.scripts["enqueue"] = redis.NewScript(`
		local jobKey = KEYS[1]
		local pendingKey = KEYS[2]
		local delayedKey = KEYS[3]
		local id = ARGV[1]
		local runAt = tonumber(ARGV[2])

		if redis.call('EXISTS', jobKey) == 1 then
			return 0
		end

		redis.call('HSET', jobKey,
			'queue', ARGV[3],
			'name', ARGV[4],
			'payload', ARGV[5],
			'attempts', 0,
			'max_attempts', ARGV[6],
			'created_at', ARGV[7],
			'scheduled_for', ARGV[8])

		if runAt > 0 then
			redis.call('ZADD', delayedKey, runAt, id)
		else
			redis.call('RPUSH', pendingKey, id)
		end
		return 1
	`)

	// Promote due delayed jobs and expired active leases back to pending.
	q.scripts["promote"] = redis.NewScript(`
		local pendingKey = KEYS[1]
		local delayedKey = KEYS[2]
		local activeKey = KEYS[3]
		local now = ARGV[1]

		local due = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', now, 'LIMIT', 0, 100)
		for _, id in ipairs(due) do
			redis.call('ZREM', delayedKey, id)
			redis.call('RPUSH', pendingKey, id)
		end

		local stalled = redis.call('ZRANGEBYSCORE', activeKey, '-inf', now, 'LIMIT', 0, 100)
		for _, id in ipairs(stalled) do
			redis.call('ZREM', activeKey, id)
			redis.call('RPUSH', pendingKey, id)
		end

		return #due + #stalled
	`)

	// Claim the head of pending under a lease and count the attempt.
	q.scripts["dequeue"] = redis.NewScript(`
		local pendingKey = KEYS[1]
		local activeKey = KEYS[2]
		local jobPrefix = ARGV[1]
		local leaseUntil = ARGV[2]

		local id = redis.call('LPOP', pendingKey)
		if not id then
			return false
		end
		redis.call('ZADD', activeKey, leaseUntil, id)
		local attempts = redis.call('HINCRBY', jobPrefix .. id, 'attempts', 1)
		return {id, attempts}
	`)

	// Commit completion: drop the lease and the job record.
	q.scripts["complete"] = redis.NewScript(`
		local activeKey = KEYS[1]
		local jobKey = KEYS[2]
		local id = ARGV[1]

		redis.call('ZREM', activeKey, id)
		redis.call('DEL', jobKey)
		return 1
	`)

	// Record a failed attempt: reschedule with backoff while attempts
	// remain, otherwise park the job on the dead list for inspection.
	q.scripts["fail"] = redis.NewScript(`
		local activeKey = KEYS[1]
		local delayedKey = KEYS[2]
		local deadKey = KEYS[3]
		local jobKey = KEYS[4]
		local id = ARGV[1]
		local retryAt = tonumber(ARGV[2])
		local errMsg = ARGV[3]

		redis.call('ZREM', activeKey, id)
		redis.call('HSET', jobKey, 'error', errMsg)

		local attempts = tonumber(redis.call('HGET', jobKey, 'attempts') or '0')
		local max = tonumber(redis.call('HGET', jobKey, 'max_attempts') or '1')
		if attempts >= max then
			redis.call('RPUSH', deadKey, id)
			return 'dead'
		end

		redis.call('HSET', jobKey, 'scheduled_for', ARGV[2])
		redis.call('ZADD', delayedKey, retryAt, id)
		return 'retry'
	`)

	// Fire one due repeating schedule. The due-score guard makes this safe
	// when several processes race on the same tick, and the deterministic
	// instance id dedupes the fired job itself.
	q.scripts["fireRepeat"] = redis.NewScript(`
		local repeatKey = KEYS[1]
		local pendingKey = KEYS[2]
		local jobKey = KEYS[3]
		local scheduleID = ARGV[1]
		local dueScore = ARGV[2]
		local nextScore = ARGV[3]
		local instanceID = ARGV[4]

		local current = redis.call('ZSCORE', repeatKey, scheduleID)
		if not current or current ~= dueScore then
			return 0
		end
		redis.call('ZADD', repeatKey, nextScore, scheduleID)

		if redis.call('EXISTS', jobKey) == 1 then
			return 0
		end
		redis.call('HSET', jobKey,
			'queue', ARGV[5],
			'name', ARGV[6],
			'payload', ARGV[7],
			'attempts', 0,
			'max_attempts', ARGV[8],
			'created_at', ARGV[9],
			'scheduled_for', dueScore)
		redis.call('RPUSH', pendingKey, instanceID)
		return 1
	`)

	// Register a repeating schedule idempotently by its stable id: the
	// pending fire time survives re-registration unless the pattern changed.
	q.scripts["registerSchedule"] = redis.NewScript(`
		local scheduleKey = KEYS[1]
		local repeatKey = KEYS[2]
		local id = ARGV[1]
		local pattern = ARGV[2]
		local firstFire = ARGV[3]

		local existing = redis.call('HGET', scheduleKey, 'pattern')
		redis.call('HSET', scheduleKey, 'name', ARGV[4], 'pattern', pattern, 'payload', ARGV[5])

		if existing and existing == pattern then
			redis.call('ZADD', repeatKey, 'NX', firstFire, id)
		else
			redis.call('ZADD', repeatKey, firstFire, id)
		end
		return 1
	`)
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string {
	return q.config.KeyPrefix + q.name + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.config.KeyPrefix + "job:" + id
}

func (q *Queue) Enqueue(ctx context.Context, name string, payload []byte, opts ...hookq.EnqueueOption) (*hookq.Job, error) {
	if q.closed.Load() {
		return nil, hookq.ErrQueueClosed
	}
	o := hookq.ApplyEnqueueOptions(opts)

	id := o.JobID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	job := &hookq.Job{
		ID:          id,
		Queue:       q.name,
		Name:        name,
		Payload:     payload,
		MaxAttempts: o.MaxAttempts,
		CreatedAt:   now,
	}

	var runAt int64
	if o.Delay > 0 {
		job.ScheduledFor = now.Add(o.Delay)
		runAt = job.ScheduledFor.Unix()
	}

	err := q.scripts["enqueue"].Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("pending"), q.key("delayed")},
		id, runAt, q.name, name, payload, o.MaxAttempts, now.Unix(), runAt,
	).Err()
	if err != nil {
		return nil, fmt.Errorf("enqueue failed: %w", err)
	}
	return job, nil
}

func (q *Queue) Dequeue(ctx context.Context) (*hookq.Job, error) {
	if q.closed.Load() {
		return nil, hookq.ErrQueueClosed
	}
	now := time.Now().UTC()

	if err := q.scripts["promote"].Run(ctx, q.client,
		[]string{q.key("pending"), q.key("delayed"), q.key("active")},
		now.Unix(),
	).Err(); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("promote failed: %w", err)
	}

	if err := q.fireDueSchedules(ctx, now); err != nil {
		return nil, err
	}

	res, err := q.scripts["dequeue"].Run(ctx, q.client,
		[]string{q.key("pending"), q.key("active")},
		q.config.KeyPrefix+"job:", now.Add(q.config.LeaseTimeout).Unix(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}

	claim, ok := res.([]interface{})
	if !ok || len(claim) != 2 {
		return nil, nil
	}
	id, _ := claim[0].(string)
	attempts, _ := claim[1].(int64)

	return q.loadJob(ctx, id, int(attempts))
}

func (q *Queue) loadJob(ctx context.Context, id string, attempts int) (*hookq.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", hookq.ErrJobNotFound, id)
	}

	job := &hookq.Job{
		ID:           id,
		Queue:        q.name,
		Name:         fields["name"],
		Payload:      []byte(fields["payload"]),
		AttemptsMade: attempts,
		LastError:    fields["error"],
	}
	if v, err := strconv.Atoi(fields["max_attempts"]); err == nil {
		job.MaxAttempts = v
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.Unix(v, 0).UTC()
	}
	if v, err := strconv.ParseInt(fields["scheduled_for"], 10, 64); err == nil && v > 0 {
		job.ScheduledFor = time.Unix(v, 0).UTC()
	}
	return job, nil
}

func (q *Queue) fireDueSchedules(ctx context.Context, now time.Time) error {
	due, err := q.client.ZRangeByScoreWithScores(ctx, q.key("repeat"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(q.config.RepeatBatch),
	}).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read due schedules: %w", err)
	}

	for _, member := range due {
		scheduleID, ok := member.Member.(string)
		if !ok {
			continue
		}
		fields, err := q.client.HGetAll(ctx, q.key("schedule:"+scheduleID)).Result()
		if err != nil || len(fields) == 0 {
			// Orphaned zset entry; drop it.
			q.client.ZRem(ctx, q.key("repeat"), scheduleID)
			continue
		}

		spec, err := cron.ParseStandard(fields["pattern"])
		if err != nil {
			q.client.ZRem(ctx, q.key("repeat"), scheduleID)
			continue
		}

		fireAt := time.Unix(int64(member.Score), 0).UTC()
		next := spec.Next(now)
		instanceID := fmt.Sprintf("%s@%d", scheduleID, fireAt.Unix())

		err = q.scripts["fireRepeat"].Run(ctx, q.client,
			[]string{q.key("repeat"), q.key("pending"), q.jobKey(instanceID)},
			scheduleID,
			strconv.FormatInt(int64(member.Score), 10),
			next.Unix(),
			instanceID,
			q.name,
			fields["name"],
			fields["payload"],
			hookq.DefaultMaxAttempts,
			now.Unix(),
		).Err()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to fire schedule %s: %w", scheduleID, err)
		}
	}
	return nil
}

func (q *Queue) Complete(ctx context.Context, job *hookq.Job) error {
	err := q.scripts["complete"].Run(ctx, q.client,
		[]string{q.key("active"), q.jobKey(job.ID)},
		job.ID,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("complete failed: %w", err)
	}
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *hookq.Job, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	retryAt := time.Now().UTC().Add(hookq.RetryBackoff(job.AttemptsMade)).Unix()

	err := q.scripts["fail"].Run(ctx, q.client,
		[]string{q.key("active"), q.key("delayed"), q.key("dead"), q.jobKey(job.ID)},
		job.ID, retryAt, msg,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("fail failed: %w", err)
	}
	job.LastError = msg
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

	firstFire := spec.Next(time.Now().UTC()).Unix()
	err = q.scripts["registerSchedule"].Run(ctx, q.client,
		[]string{q.key("schedule:" + s.JobID), q.key("repeat")},
		s.JobID, s.Pattern, firstFire, s.JobName, s.Payload,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to register schedule %s: %w", s.JobID, err)
	}
	return nil
}

func (q *Queue) Schedules(ctx context.Context) ([]hookq.Schedule, error) {
	ids, err := q.client.ZRange(ctx, q.key("repeat"), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	out := make([]hookq.Schedule, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.key("schedule:"+id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, hookq.Schedule{
			JobID:   id,
			JobName: fields["name"],
			Pattern: fields["pattern"],
			Payload: []byte(fields["payload"]),
		})
	}
	return out, nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key("pending")).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read depth: %w", err)
	}
	return n, nil
}

// Close marks the queue closed. The shared client is owned by the caller
// and is not closed here.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
