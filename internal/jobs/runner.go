package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codeoverlay/internal/errors"
)

// Func is the work a job performs. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

type task struct {
	job *Job
	ctx context.Context
	fn  Func
}

// Runner manages background job execution.
type Runner struct {
	logger *slog.Logger

	queue       chan *task
	queueSize   int
	workerCount int

	// Control channels
	done   chan struct{}
	cancel map[string]context.CancelFunc

	mu      sync.RWMutex
	wg      sync.WaitGroup
	started bool
	stopped bool

	// Metrics
	pending        int
	processedCount int64
	failedCount    int64
	cancelledCount int64

	observer func(*Job)
}

// RunnerConfig contains configuration for the job runner.
type RunnerConfig struct {
	QueueSize   int
	WorkerCount int
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		QueueSize:   256,
		WorkerCount: 4,
	}
}

// NewRunner creates a new job runner.
func NewRunner(logger *slog.Logger, config RunnerConfig) *Runner {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		logger:      logger,
		queue:       make(chan *task, config.QueueSize),
		queueSize:   config.QueueSize,
		workerCount: config.WorkerCount,
		done:        make(chan struct{}),
		cancel:      make(map[string]context.CancelFunc),
	}
}

// SetObserver registers a callback invoked with every job that reaches a
// terminal state. It must be set before Start.
func (r *Runner) SetObserver(fn func(*Job)) {
	r.observer = fn
}

// Start begins processing jobs.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.logger.Debug("Starting job runner",
		"workers", r.workerCount,
		"queueSize", r.queueSize,
	)
	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
}

// Stop cancels every queued and running job and waits for workers to exit.
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.done)
	for id, cancel := range r.cancel {
		r.logger.Debug("Cancelling job", "jobId", id)
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Debug("Job runner stopped cleanly")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job runner shutdown timed out after %v", timeout)
	}
}

// Submit queues fn as a job. The job's context derives from ctx, so
// cancelling ctx cancels the job whether it is queued or running. Submit
// never blocks: a full queue is reported as QueueFull.
func (r *Runner) Submit(ctx context.Context, jobType JobType, id, key string, fn Func) (*Job, error) {
	job := NewJob(jobType, id, key)
	jobCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return nil, errors.New(errors.InternalError, "job runner is shutting down")
	}
	select {
	case r.queue <- &task{job: job, ctx: jobCtx, fn: fn}:
		r.cancel[job.ID] = cancel
		r.pending++
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		cancel()
		r.logger.Warn("Job queue full, dropping job", "jobId", job.ID, "type", job.Type)
		return nil, errors.Newf(errors.QueueFull, "job queue full (%d)", r.queueSize)
	}

	r.logger.Debug("Job queued", "jobId", job.ID, "type", job.Type, "key", key)
	return job, nil
}

// Cancel cancels a queued or running job. It reports whether the job was known.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancel[jobID]
	if ok {
		cancel()
	}
	return ok
}

// WaitIdle blocks until no job is queued or running, or ctx is done.
func (r *Runner) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		r.mu.RLock()
		pending := r.pending
		r.mu.RUnlock()
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// worker processes jobs from the queue.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	for {
		select {
		case t := <-r.queue:
			r.processJob(t)
		case <-r.done:
			r.drain()
			r.logger.Debug("Job worker stopping", "workerId", id)
			return
		}
	}
}

// drain marks whatever is left in the queue as cancelled.
func (r *Runner) drain() {
	for {
		select {
		case t := <-r.queue:
			t.job.MarkCancelled()
			r.finish(t)
		default:
			return
		}
	}
}

// processJob executes a single job.
func (r *Runner) processJob(t *task) {
	job := t.job
	if t.ctx.Err() != nil {
		job.MarkCancelled()
		r.finish(t)
		return
	}

	job.MarkStarted()
	err := r.run(t)

	switch {
	case err == nil:
		job.MarkCompleted()
	case t.ctx.Err() != nil || stderrors.Is(err, context.Canceled):
		job.MarkCancelled()
		r.logger.Debug("Job cancelled", "jobId", job.ID, "duration", job.Duration().String())
	default:
		job.MarkFailed(err)
		r.logger.Warn("Job failed", "jobId", job.ID, "type", job.Type, "error", err.Error())
	}
	r.finish(t)
}

// run invokes the job function, converting a panic into a failure so one
// bad analysis cannot take down a worker.
func (r *Runner) run(t *task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf(errors.InternalError, "job panicked: %v", p)
		}
	}()
	return t.fn(t.ctx)
}

func (r *Runner) finish(t *task) {
	if r.observer != nil {
		r.observer(t.job)
	}

	r.mu.Lock()
	if cancel, ok := r.cancel[t.job.ID]; ok {
		cancel()
		delete(r.cancel, t.job.ID)
	}
	switch t.job.Status {
	case JobCompleted:
		r.processedCount++
	case JobFailed:
		r.failedCount++
	case JobCancelled:
		r.cancelledCount++
	}
	r.pending--
	r.mu.Unlock()
}

// Stats is a point-in-time view of runner counters.
type Stats struct {
	QueueLength    int   `json:"queueLength"`
	QueueCapacity  int   `json:"queueCapacity"`
	Pending        int   `json:"pending"`
	ProcessedTotal int64 `json:"processedTotal"`
	FailedTotal    int64 `json:"failedTotal"`
	CancelledTotal int64 `json:"cancelledTotal"`
	WorkerCount    int   `json:"workerCount"`
}

// Stats returns runner statistics.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		QueueLength:    len(r.queue),
		QueueCapacity:  r.queueSize,
		Pending:        r.pending,
		ProcessedTotal: r.processedCount,
		FailedTotal:    r.failedCount,
		CancelledTotal: r.cancelledCount,
		WorkerCount:    r.workerCount,
	}
}

// IsRunning returns true if the runner is active.
func (r *Runner) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
