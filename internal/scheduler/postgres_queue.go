package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresQueue implements Queue with PostgreSQL. Claiming uses
// FOR UPDATE SKIP LOCKED so that multiple runner instances can poll the
// same table without double-claiming.
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue creates a new PostgreSQL-backed queue.
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (p *PostgresQueue) Enqueue(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, type, target_id, payload, run_at, attempts, max_attempts, backoff_ms, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', NOW(), NOW())
	`, job.ID, job.Type, job.TargetID, payload, job.RunAt, job.Attempts, job.MaxAttempts, job.Backoff.Milliseconds())
	return err
}

func (p *PostgresQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE scheduled_jobs SET status = 'running', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = 'pending' AND run_at <= $1
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, target_id, payload, run_at, attempts, max_attempts, backoff_ms, status, COALESCE(last_error, ''), created_at, updated_at
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (p *PostgresQueue) Complete(ctx context.Context, job *Job) error {
	return p.setState(ctx, job, StatusCompleted)
}

func (p *PostgresQueue) Reschedule(ctx context.Context, job *Job) error {
	return p.setState(ctx, job, StatusPending)
}

func (p *PostgresQueue) Fail(ctx context.Context, job *Job) error {
	return p.setState(ctx, job, StatusFailed)
}

func (p *PostgresQueue) setState(ctx context.Context, job *Job, status Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET
			status = $2, attempts = $3, run_at = $4, last_error = NULLIF($5, ''), updated_at = NOW()
		WHERE id = $1
	`, job.ID, string(status), job.Attempts, job.RunAt, job.LastError)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (p *PostgresQueue) Get(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, type, target_id, payload, run_at, attempts, max_attempts, backoff_ms, status, COALESCE(last_error, ''), created_at, updated_at
		FROM scheduled_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var payload []byte
	var backoffMS int64
	err := row.Scan(&job.ID, &job.Type, &job.TargetID, &payload, &job.RunAt,
		&job.Attempts, &job.MaxAttempts, &backoffMS, &job.Status,
		&job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Backoff = time.Duration(backoffMS) * time.Millisecond
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return job, nil
}
