// Package worker runs webhook jobs on a fixed set of goroutines fed by a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull  = errors.New("job queue is full")
	ErrNotRunning = errors.New("worker pool is not running")
)

// Job is one unit of background work. Its context is the pool's context.
type Job struct {
	ID         string
	Kind       string
	ChatID     int64
	EnqueuedAt time.Time
	Run        func(ctx context.Context) error
}

const defaultDrainTimeout = 30 * time.Second

type Pool struct {
	workers      int
	jobs         chan Job
	logger       *slog.Logger
	startOnce    sync.Once
	drainTimeout time.Duration

	mu       sync.RWMutex
	running  bool
	leftover []Job
}

func New(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers:      workers,
		jobs:         make(chan Job, queueSize),
		logger:       logger.With("component", "worker"),
		drainTimeout: defaultDrainTimeout,
	}
}

// Start runs the workers until ctx is done, waits for in-flight jobs and then
// runs whatever is still queued under a detached, time-bounded context.
func (p *Pool) Start(ctx context.Context) error {
	var workers sync.WaitGroup
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.running = true
		p.mu.Unlock()
		for index := 0; index < p.workers; index++ {
			workers.Add(1)
			go func(workerID int) {
				defer workers.Done()
				p.worker(ctx, workerID)
			}(index + 1)
		}
	})

	<-ctx.Done()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	workers.Wait()
	p.drain(ctx)
	return nil
}

// drain runs the jobs left in the queue after shutdown. Jobs that do not fit
// in the drain window are logged as dropped.
func (p *Pool) drain(ctx context.Context) {
	p.mu.Lock()
	pending := p.leftover
	p.leftover = nil
	p.mu.Unlock()
	for len(p.jobs) > 0 {
		pending = append(pending, <-p.jobs)
	}
	if len(pending) == 0 {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.drainTimeout)
	defer cancel()
	p.logger.Info("draining queued jobs", "pending", len(pending), "timeout", p.drainTimeout.String())
	for _, job := range pending {
		if drainCtx.Err() != nil {
			p.logger.Error("job dropped on shutdown", "job_id", job.ID, "kind", job.Kind, "chat_id", job.ChatID)
			continue
		}
		p.Run(drainCtx, 0, job)
	}
}

// Enqueue never blocks. A full queue returns ErrQueueFull.
func (p *Pool) Enqueue(job Job) (Job, error) {
	if job.Run == nil {
		return Job{}, fmt.Errorf("job has no run function")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return Job{}, ErrNotRunning
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("job queued", "job_id", job.ID, "kind", job.Kind, "chat_id", job.ChatID)
		return job, nil
	default:
		return Job{}, ErrQueueFull
	}
}

// Submit queues the job, or runs it on the caller's goroutine when it cannot be
// queued. It reports whether the job was queued.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	_, err := p.Enqueue(job)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrQueueFull) && !errors.Is(err, ErrNotRunning) {
		p.logger.Error("job rejected", "kind", job.Kind, "chat_id", job.ChatID, "error", err)
		return false
	}
	p.logger.Warn("running job inline", "kind", job.Kind, "chat_id", job.ChatID, "reason", err)
	p.Run(ctx, 0, job)
	return false
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	p.logger.Info("worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopped", "worker_id", workerID)
			return
		case job := <-p.jobs:
			if ctx.Err() != nil {
				p.mu.Lock()
				p.leftover = append(p.leftover, job)
				p.mu.Unlock()
				p.logger.Info("worker stopped", "worker_id", workerID)
				return
			}
			p.Run(ctx, workerID, job)
		}
	}
}

// Run executes one job, recovering panics. Worker id 0 means the caller's goroutine.
func (p *Pool) Run(ctx context.Context, workerID int, job Job) {
	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("job panicked",
				"worker_id", workerID,
				"job_id", job.ID,
				"kind", job.Kind,
				"chat_id", job.ChatID,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()
	if job.Run == nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		p.logger.Warn("job failed", "worker_id", workerID, "job_id", job.ID, "kind", job.Kind, "chat_id", job.ChatID, "error", err)
		return
	}
	p.logger.Debug("job completed", "worker_id", workerID, "job_id", job.ID, "kind", job.Kind, "duration_ms", time.Since(started).Milliseconds())
}

// Pending reports the number of queued jobs.
func (p *Pool) Pending() int {
	return len(p.jobs)
}
