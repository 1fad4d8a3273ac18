package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-memory job queue for demo/development mode.
type MemoryQueue struct {
	jobs map[string]*Job
	mu   sync.Mutex
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*Job)}
}

func (m *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *job
	cp.Status = StatusPending
	cp.UpdatedAt = time.Now()
	m.jobs[cp.ID] = &cp
	return nil
}

func (m *MemoryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Job
	for _, j := range m.jobs {
		if j.Status == StatusPending && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))
	for _, j := range due {
		j.Status = StatusRunning
		j.UpdatedAt = now
		cp := *j
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *MemoryQueue) Complete(ctx context.Context, job *Job) error {
	return m.setState(job, StatusCompleted)
}

func (m *MemoryQueue) Reschedule(ctx context.Context, job *Job) error {
	return m.setState(job, StatusPending)
}

func (m *MemoryQueue) Fail(ctx context.Context, job *Job) error {
	return m.setState(job, StatusFailed)
}

func (m *MemoryQueue) setState(job *Job, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	stored.Status = status
	stored.Attempts = job.Attempts
	stored.RunAt = job.RunAt
	stored.LastError = job.LastError
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryQueue) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// PendingByTarget returns pending jobs for a target, ordered by run time.
func (m *MemoryQueue) PendingByTarget(targetID string) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Job
	for _, j := range m.jobs {
		if j.TargetID == targetID && j.Status == StatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RunAt.Before(out[k].RunAt) })
	return out
}
