package hookq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// JobHandler executes one job and returns its typed result. A returned
// error (or a panic, which is recovered into one) marks the attempt failed
// and hands the job back to the queue's retry policy.
type JobHandler func(ctx context.Context, job *Job) (any, error)

// WorkerConfig configures a queue consumer.
type WorkerConfig struct {
	// Queue is the queue this worker drains (required).
	Queue Queue

	// Handler processes each claimed job (required).
	Handler JobHandler

	// Concurrency bounds the number of jobs in flight (default 1).
	Concurrency int

	// PollInterval is the sleep between empty polls (default 500ms).
	PollInterval time.Duration

	// OnCompleted is observational only. Panics inside it are recovered
	// and never mark a successful job as failed.
	OnCompleted func(job *Job, result any)

	// OnFailed observes failed attempts. Same panic isolation applies.
	OnFailed func(job *Job, err error)

	Logger  Logger
	Metrics Metrics
}

// Validate checks that the configuration is valid.
func (c *WorkerConfig) Validate() error {
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Handler == nil {
		return fmt.Errorf("handler is required")
	}
	return nil
}

// Worker is an asynchronous consumer loop pulling jobs from one queue with
// bounded internal concurrency. Lifecycle: Start -> (Pause/Resume)* -> Close.
type Worker struct {
	cfg      WorkerConfig
	sem      *semaphore.Weighted
	paused   atomic.Bool
	started  atomic.Bool
	closed   atomic.Bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// NewWorker creates a worker; call Start to begin consuming.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	return &Worker{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		loopDone: make(chan struct{}),
	}, nil
}

// Start launches the consumer loop. The context bounds the worker's
// lifetime; in-flight jobs are not cancelled mid-handler (there is no
// mid-job cancellation, only drain).
func (w *Worker) Start(ctx context.Context) error {
	if w.closed.Load() {
		return ErrWorkerClosed
	}
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(loopCtx)
	return nil
}

// Pause stops claiming new jobs. In-flight jobs continue.
func (w *Worker) Pause() {
	w.paused.Store(true)
}

// Resume re-enables job intake after Pause.
func (w *Worker) Resume() {
	w.paused.Store(false)
}

// Close stops intake and waits for in-flight jobs, bounded by ctx. A job
// exceeding the deadline is abandoned to the backend's stall detection and
// ErrShutdownTimeout is returned.
func (w *Worker) Close(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return ErrWorkerClosed
	}
	w.Pause()
	if w.cancel != nil {
		w.cancel()
	}
	if !w.started.Load() {
		return nil
	}

	select {
	case <-w.loopDone:
	case <-ctx.Done():
		return fmt.Errorf("%w: consumer loop still running", ErrShutdownTimeout)
	}

	drained := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: jobs still in flight on queue %q", ErrShutdownTimeout, w.cfg.Queue.Name())
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.loopDone)
	for {
		if ctx.Err() != nil {
			return
		}
		if w.paused.Load() {
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := w.cfg.Queue.Dequeue(ctx)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			w.cfg.Logger.Error("dequeue failed",
				Field{Key: "queue", Value: w.cfg.Queue.Name()},
				Field{Key: "error", Value: err.Error()},
			)
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if job == nil {
			w.sem.Release(1)
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		w.inflight.Add(1)
		// Handlers run on a context detached from the loop so a drain
		// never cancels work mid-job.
		jobCtx := context.WithoutCancel(ctx)
		go func(job *Job) {
			defer w.inflight.Done()
			defer w.sem.Release(1)
			w.process(jobCtx, job)
		}(job)
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-time.After(w.cfg.PollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	result, err := w.invokeHandler(ctx, job)
	if err != nil {
		if failErr := w.cfg.Queue.Fail(ctx, job, err); failErr != nil {
			w.cfg.Logger.Error("failed to record job failure",
				Field{Key: "queue", Value: job.Queue},
				Field{Key: "job_id", Value: job.ID},
				Field{Key: "error", Value: failErr.Error()},
			)
		}
		w.cfg.Metrics.RecordJobFailed(w.cfg.Queue.Name(), job.Name)
		w.cfg.Logger.Error("job failed",
			Field{Key: "queue", Value: w.cfg.Queue.Name()},
			Field{Key: "job_id", Value: job.ID},
			Field{Key: "job_name", Value: job.Name},
			Field{Key: "attempts", Value: job.AttemptsMade},
			Field{Key: "error", Value: err.Error()},
		)
		if w.cfg.OnFailed != nil {
			w.observe(func() { w.cfg.OnFailed(job, err) }, "on_failed")
		}
		return
	}

	if completeErr := w.cfg.Queue.Complete(ctx, job); completeErr != nil {
		w.cfg.Logger.Error("failed to commit job completion",
			Field{Key: "queue", Value: job.Queue},
			Field{Key: "job_id", Value: job.ID},
			Field{Key: "error", Value: completeErr.Error()},
		)
	}
	w.cfg.Metrics.RecordJobCompleted(w.cfg.Queue.Name(), job.Name, time.Since(start))
	if w.cfg.OnCompleted != nil {
		w.observe(func() { w.cfg.OnCompleted(job, result) }, "on_completed")
	}
}

// invokeHandler runs the handler and converts panics into failed attempts.
func (w *Worker) invokeHandler(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return w.cfg.Handler(ctx, job)
}

// observe runs a completion/failure callback, swallowing panics so an
// observational hook can never change a job's outcome.
func (w *Worker) observe(fn func(), hook string) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error("callback panic",
				Field{Key: "hook", Value: hook},
				Field{Key: "queue", Value: w.cfg.Queue.Name()},
				Field{Key: "panic", Value: fmt.Sprintf("%v", r)},
			)
		}
	}()
	fn()
}
