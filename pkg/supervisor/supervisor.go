// Package supervisor owns the pipeline process lifecycle: the shared queue
// backend connection, repeat-schedule registration, worker startup order,
// periodic health checks, and coordinated graceful shutdown.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/hookq/pkg/hookq"
	"github.com/mihaimyh/hookq/pkg/jobs"
	redisqueue "github.com/mihaimyh/hookq/queue/redis"
)

// State is the supervisor lifecycle state. Running is the only state in
// which new jobs are accepted; everywhere else workers are paused or gone.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Default supervisor tunables.
const (
	DefaultWorkflowConcurrency = 5
	DefaultHealthInterval      = 3 * time.Minute
	DefaultHeapWarnBytes       = 512 << 20
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultGCInterval          = 100
)

// The full set of recurring obligations, registered in one idempotent pass
// before any worker starts. Patterns are UTC.
var repeatingJobs = []struct {
	queue    string
	schedule hookq.Schedule
}{
	{hookq.QueueMaintenance, hookq.Schedule{JobID: "purge-automation-logs", JobName: hookq.JobPurgeAutomationLogs, Pattern: "0 3 * * *"}},
	{hookq.QueueDeletion, hookq.Schedule{JobID: "process-deletions", JobName: hookq.JobProcessDeletions, Pattern: "0 4 * * *"}},
	{hookq.QueueDeletion, hookq.Schedule{JobID: "send-reminders", JobName: hookq.JobSendReminders, Pattern: "0 9 * * *"}},
}

// QueueFactory builds the named queue. Overridable for tests.
type QueueFactory func(name string) (hookq.Queue, error)

// Config configures a Supervisor.
type Config struct {
	// Redis is the shared backend connection reused by every queue and
	// worker (one connection, many logical queues). Required unless
	// QueueFactory is set.
	Redis redis.UniversalClient

	// QueueConfig tunes the redis queues.
	QueueConfig redisqueue.Config

	// QueueFactory replaces the redis queues, mainly for tests.
	QueueFactory QueueFactory

	// Store is the persistence collaborator (required).
	Store hookq.Store

	// Engine evaluates workflow events (required).
	Engine jobs.RulesEngine

	// Email is nil when no API key is configured.
	Email jobs.EmailSender

	AppBaseURL string

	// WorkflowConcurrency bounds the workflow worker (default 5). The
	// maintenance and deletion workers are fixed at 1: their jobs mutate
	// shared tables in bulk and must not run concurrently with themselves.
	WorkflowConcurrency int

	// GCInterval is passed to the workflow handler (default 100).
	GCInterval int

	// HeartbeatURL receives a liveness ping each health tick. Empty makes
	// the ping a no-op.
	HeartbeatURL string

	HealthInterval  time.Duration
	HeapWarnBytes   uint64
	ShutdownTimeout time.Duration

	// HTTPClient is used for heartbeat pings. If nil, a default client
	// with a 10s timeout is used.
	HTTPClient *http.Client

	Logger  hookq.Logger
	Metrics hookq.Metrics
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis == nil && c.QueueFactory == nil {
		return fmt.Errorf("redis client is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("rules engine is required")
	}
	return nil
}

// Supervisor owns all queue and worker handles and passes them down; there
// is no ambient module-level state, so tests can substitute every
// collaborator.
type Supervisor struct {
	cfg     Config
	queues  map[string]hookq.Queue
	workers []*hookq.Worker

	state      atomic.Int32
	critical   chan struct{}
	criticOnce sync.Once
	drainOnce  sync.Once
	drainDone  chan struct{}
	drainErr   error
	stopHealth context.CancelFunc
}

// New builds the supervisor: queues over the shared connection, handlers,
// and workers. Nothing consumes until Run.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WorkflowConcurrency <= 0 {
		cfg.WorkflowConcurrency = DefaultWorkflowConcurrency
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.HeapWarnBytes == 0 {
		cfg.HeapWarnBytes = DefaultHeapWarnBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = &hookq.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &hookq.NoopMetrics{}
	}

	s := &Supervisor{
		cfg:       cfg,
		queues:    make(map[string]hookq.Queue, 3),
		critical:  make(chan struct{}),
		drainDone: make(chan struct{}),
	}

	factory := cfg.QueueFactory
	if factory == nil {
		factory = func(name string) (hookq.Queue, error) {
			return redisqueue.New(name, cfg.Redis, cfg.QueueConfig)
		}
	}
	for _, name := range []string{hookq.QueueWorkflow, hookq.QueueMaintenance, hookq.QueueDeletion} {
		q, err := factory(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create queue %s: %w", name, err)
		}
		s.queues[name] = q
	}

	if err := s.buildWorkers(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) buildWorkers() error {
	workflow, err := jobs.NewWorkflowHandler(jobs.WorkflowConfig{
		Engine:     s.cfg.Engine,
		GCInterval: s.cfg.GCInterval,
		Logger:     s.cfg.Logger,
	})
	if err != nil {
		return err
	}
	maintenance, err := jobs.NewMaintenanceHandler(jobs.MaintenanceConfig{
		Store:  s.cfg.Store,
		Logger: s.cfg.Logger,
	})
	if err != nil {
		return err
	}
	deletion, err := jobs.NewDeletionHandler(jobs.DeletionConfig{
		Store:      s.cfg.Store,
		Email:      s.cfg.Email,
		AppBaseURL: s.cfg.AppBaseURL,
		Logger:     s.cfg.Logger,
	})
	if err != nil {
		return err
	}

	// Start order: maintenance, deletion, workflow.
	specs := []struct {
		queue       string
		handler     hookq.JobHandler
		concurrency int
	}{
		{hookq.QueueMaintenance, maintenance.Handle, 1},
		{hookq.QueueDeletion, deletion.Handle, 1},
		{hookq.QueueWorkflow, workflow.Handle, s.cfg.WorkflowConcurrency},
	}
	for _, spec := range specs {
		w, err := hookq.NewWorker(hookq.WorkerConfig{
			Queue:       s.queues[spec.queue],
			Handler:     spec.handler,
			Concurrency: spec.concurrency,
			OnCompleted: s.logCompleted,
			Logger:      s.cfg.Logger,
			Metrics:     s.cfg.Metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s worker: %w", spec.queue, err)
		}
		s.workers = append(s.workers, w)
	}
	return nil
}

// logCompleted is purely observational.
func (s *Supervisor) logCompleted(job *hookq.Job, result any) {
	s.cfg.Logger.Info("job completed",
		hookq.Field{Key: "queue", Value: job.Queue},
		hookq.Field{Key: "job_id", Value: job.ID},
		hookq.Field{Key: "job_name", Value: job.Name},
		hookq.Field{Key: "result", Value: result},
	)
}

// Queue exposes a queue handle, e.g. the workflow queue for the emitter.
func (s *Supervisor) Queue(name string) hookq.Queue {
	return s.queues[name]
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Run registers all repeat schedules, starts the workers, and blocks until
// the context is cancelled or a memory-critical condition triggers the same
// drain path. It returns nil on a clean drain and ErrShutdownTimeout when
// in-flight work outlived the shutdown budget.
func (s *Supervisor) Run(ctx context.Context) error {
	// Schedules are registered before any worker's first poll so no tick
	// is missed. Registration is idempotent by stable job id.
	for _, r := range repeatingJobs {
		if err := s.queues[r.queue].RegisterSchedule(ctx, r.schedule); err != nil {
			return fmt.Errorf("failed to register schedule %s: %w", r.schedule.JobID, err)
		}
	}

	for _, w := range s.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	s.stopHealth = cancelHealth
	go s.healthLoop(healthCtx)

	s.state.Store(int32(StateRunning))
	s.cfg.Logger.Info("supervisor running",
		hookq.Field{Key: "workflow_concurrency", Value: s.cfg.WorkflowConcurrency},
		hookq.Field{Key: "schedules", Value: len(repeatingJobs)},
	)

	select {
	case <-ctx.Done():
		s.cfg.Logger.Info("shutdown signal received")
	case <-s.critical:
	case <-s.drainDone:
		// Shutdown was called out of band.
	}

	s.drain()
	return s.drainErr
}

// Shutdown triggers the graceful drain out of band (tests, admin surface).
// Safe to call concurrently with signals; the drain runs once.
func (s *Supervisor) Shutdown() {
	s.drain()
}

// drain pauses every worker first, then waits for in-flight jobs bounded by
// the shutdown timeout, then closes queues. Guarded so concurrent signals
// don't double-run it.
func (s *Supervisor) drain() {
	s.drainOnce.Do(func() {
		s.state.Store(int32(StateDraining))
		s.cfg.Logger.Info("draining workers",
			hookq.Field{Key: "timeout", Value: s.cfg.ShutdownTimeout.String()},
		)
		if s.stopHealth != nil {
			s.stopHealth()
		}

		for _, w := range s.workers {
			w.Pause()
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		for _, w := range s.workers {
			if err := w.Close(drainCtx); err != nil {
				s.cfg.Logger.Error("worker drain failed",
					hookq.Field{Key: "error", Value: err.Error()},
				)
				if s.drainErr == nil {
					s.drainErr = err
				}
			}
		}

		for name, q := range s.queues {
			if err := q.Close(); err != nil {
				s.cfg.Logger.Error("queue close failed",
					hookq.Field{Key: "queue", Value: name},
					hookq.Field{Key: "error", Value: err.Error()},
				)
			}
		}

		s.state.Store(int32(StateClosed))
		s.cfg.Logger.Info("supervisor closed")
		close(s.drainDone)
	})
	<-s.drainDone
}
