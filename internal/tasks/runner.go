package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Task is a unit of background work. The context passed to the task is
// detached from the request that submitted it; tasks that need a deadline
// derive their own.
type Task func(ctx context.Context)

// Submitter schedules background work. Fire-and-forget side effects
// (generation crossovers, sliding-session extensions, archive exports) go
// through this interface so tests can await completion via Shutdown.
type Submitter interface {
	Submit(ctx context.Context, name string, task Task) error
}

// Config controls the concurrency characteristics of the runner.
type Config struct {
	QueueSize int
	Workers   int
}

// Runner executes submitted tasks on a bounded worker pool.
type Runner struct {
	logger *slog.Logger

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed and every send on jobs, so Shutdown never closes
	// the channel while a Submit is mid-send.
	mu     sync.Mutex
	closed bool
}

type job struct {
	name string
	task Task
}

// ErrRunnerClosed is returned by Submit after Shutdown has begun.
var ErrRunnerClosed = errors.New("task runner closed")

// NewRunner constructs a runner and starts its workers.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
		quit:   make(chan struct{}),
	}

	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.worker()
	}

	return r
}

// Submit schedules the task. It blocks only while the queue is full and
// returns ErrRunnerClosed once shutdown has started.
func (r *Runner) Submit(ctx context.Context, name string, task Task) error {
	if task == nil {
		return errors.New("task must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.quit:
		return ErrRunnerClosed
	case r.jobs <- job{name: name, task: task}:
		return nil
	}
}

// Shutdown stops accepting work and waits for queued tasks to drain. Closing
// quit first unblocks any Submit waiting on a full queue before the jobs
// channel is closed under the lock.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		close(r.quit)
		r.mu.Lock()
		r.closed = true
		close(r.jobs)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()

	for j := range r.jobs {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("background task panicked", "task", j.name, "panic", rec)
		}
	}()

	j.task(context.Background())
}
