// Package scheduler provides the delayed, retryable job queue that drives
// payment state transitions over time.
//
// Delivery is at-least-once: every handler must be idempotent and re-check
// current state before acting. Retryable failures reschedule with exponential
// backoff up to the job's attempt ceiling; errors wrapped with
// retry.Permanent fail immediately. A job that exhausts its attempts is
// marked failed and surfaced through logs and metrics - never dropped, never
// reported as success.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
)

var (
	ErrJobNotFound       = errors.New("scheduler: job not found")
	ErrUnknownJobType    = errors.New("scheduler: no handler registered for job type")
	ErrAttemptsExhausted = errors.New("scheduler: attempt ceiling reached")
)

// Status is the logical state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Default attempt ceilings per the retry policy: cheap condition checks get
// few attempts, chain-propagation waits get many.
const (
	DefaultMaxAttempts      = 3
	DeliveryProofAttempts   = 10
	TxConfirmationAttempts  = 60
	DefaultBackoff          = 5 * time.Second
	TxConfirmationBackoff   = 10 * time.Second
)

// Job is a unit of delayed work.
type Job struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	TargetID    string            `json:"targetId"`
	Payload     map[string]string `json:"payload,omitempty"`
	RunAt       time.Time         `json:"runAt"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
	Backoff     time.Duration     `json:"backoff"`
	Status      Status            `json:"status"`
	LastError   string            `json:"lastError,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// NewJob creates a pending job with default retry policy.
func NewJob(jobType, targetID string, runAt time.Time) *Job {
	now := time.Now()
	return &Job{
		ID:          idgen.WithPrefix("job_"),
		Type:        jobType,
		TargetID:    targetID,
		RunAt:       runAt,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithAttempts overrides the attempt ceiling.
func (j *Job) WithAttempts(max int) *Job {
	j.MaxAttempts = max
	return j
}

// WithBackoff overrides the base backoff.
func (j *Job) WithBackoff(d time.Duration) *Job {
	j.Backoff = d
	return j
}

// WithPayload attaches key/value parameters.
func (j *Job) WithPayload(payload map[string]string) *Job {
	j.Payload = payload
	return j
}

// Handler executes one job attempt. A nil return completes the job; an error
// wrapped with retry.Permanent fails it; any other error reschedules it.
type Handler func(ctx context.Context, job *Job) error

// Queue persists jobs. ClaimDue must transition pending jobs to running so
// that concurrent runners never double-claim.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	Complete(ctx context.Context, job *Job) error
	Reschedule(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
}

// Runner polls the queue and executes due jobs on a worker pool.
type Runner struct {
	queue    Queue
	handlers map[string]Handler
	mu       sync.RWMutex
	workers  int
	poll     time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewRunner creates a new job runner.
func NewRunner(queue Queue, workers int, poll time.Duration, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Runner{
		queue:    queue,
		handlers: make(map[string]Handler),
		workers:  workers,
		poll:     poll,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (r *Runner) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Enqueue persists a job for later execution. Errors are propagated to the
// caller: a silently-lost schedule would strand funds.
func (r *Runner) Enqueue(ctx context.Context, job *Job) error {
	if job.RunAt.IsZero() {
		job.RunAt = time.Now()
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("scheduler: enqueue %s: %w", job.Type, err)
	}
	enqueuedTotal.WithLabelValues(job.Type).Inc()
	return nil
}

// Running reports whether the runner loop is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Start begins the poll/dispatch loop. Call in a goroutine; blocks until ctx
// is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	jobs := make(chan *Job)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				r.process(ctx, job)
			}
		}()
	}

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-r.stop:
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			claimed, err := r.queue.ClaimDue(ctx, time.Now(), r.workers*4)
			if err != nil {
				r.logger.Warn("failed to claim due jobs", "error", err)
				continue
			}
			for _, job := range claimed {
				select {
				case jobs <- job:
				case <-ctx.Done():
					close(jobs)
					wg.Wait()
					return
				}
			}
		}
	}
}

// Stop signals the runner to stop. The signal is buffered, so it is kept
// even when the loop is mid-dispatch or Start has not been called yet.
func (r *Runner) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

// RunOnce claims and processes all currently-due jobs synchronously.
// Used by tests and by callers that want deterministic draining.
func (r *Runner) RunOnce(ctx context.Context) int {
	claimed, err := r.queue.ClaimDue(ctx, time.Now(), 100)
	if err != nil {
		r.logger.Warn("failed to claim due jobs", "error", err)
		return 0
	}
	for _, job := range claimed {
		r.process(ctx, job)
	}
	return len(claimed)
}

func (r *Runner) process(ctx context.Context, job *Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in job handler", "job", job.ID, "type", job.Type, "panic", fmt.Sprint(rec))
			job.LastError = fmt.Sprintf("panic: %v", rec)
			_ = r.queue.Fail(ctx, job)
			failedTotal.WithLabelValues(job.Type, "panic").Inc()
		}
	}()

	r.mu.RLock()
	handler, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		job.LastError = ErrUnknownJobType.Error()
		_ = r.queue.Fail(ctx, job)
		failedTotal.WithLabelValues(job.Type, "no_handler").Inc()
		r.logger.Error("no handler for job type", "job", job.ID, "type", job.Type)
		return
	}

	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		if cErr := r.queue.Complete(ctx, job); cErr != nil {
			r.logger.Warn("failed to mark job completed", "job", job.ID, "error", cErr)
		}
		processedTotal.WithLabelValues(job.Type).Inc()
		return
	}

	if retry.IsPermanent(err) {
		job.LastError = err.Error()
		if fErr := r.queue.Fail(ctx, job); fErr != nil {
			r.logger.Warn("failed to mark job failed", "job", job.ID, "error", fErr)
		}
		failedTotal.WithLabelValues(job.Type, "permanent").Inc()
		r.logger.Error("job failed permanently", "job", job.ID, "type", job.Type,
			"target", job.TargetID, "error", err)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		job.LastError = fmt.Sprintf("%v: %v", ErrAttemptsExhausted, err)
		if fErr := r.queue.Fail(ctx, job); fErr != nil {
			r.logger.Warn("failed to mark job failed", "job", job.ID, "error", fErr)
		}
		failedTotal.WithLabelValues(job.Type, "exhausted").Inc()
		r.logger.Error("job exhausted attempts, requires manual resolution",
			"job", job.ID, "type", job.Type, "target", job.TargetID,
			"attempts", job.Attempts, "error", err)
		return
	}

	job.LastError = err.Error()
	job.RunAt = time.Now().Add(retry.Backoff(job.Backoff, job.Attempts-1))
	if rErr := r.queue.Reschedule(ctx, job); rErr != nil {
		r.logger.Error("failed to reschedule job", "job", job.ID, "error", rErr)
		return
	}
	retriedTotal.WithLabelValues(job.Type).Inc()
	r.logger.Debug("job rescheduled", "job", job.ID, "type", job.Type,
		"attempt", job.Attempts, "next_run", job.RunAt, "error", err)
}
