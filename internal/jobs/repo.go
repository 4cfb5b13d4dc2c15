package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Enqueue(ctx context.Context, jobType string, data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal job data: %w", err)
	}
	id := uuid.NewString()
	_, err = r.DB.Exec(ctx, `
		INSERT INTO background_jobs(id, job_type, job_data, status, attempts, max_attempts, priority, scheduled_at, timeout_seconds)
		VALUES ($1, $2, $3, 'pending', 0, $4, 0, now(), $5)`,
		id, jobType, b, DefaultMaxAttempts, DefaultTimeoutSeconds)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// EnqueueIfNone inserts a maintenance job only when no pending/processing job
// of the same type exists, so the periodic scheduler can fire blindly.
func (r *Repo) EnqueueIfNone(ctx context.Context, jobType string, data any) (string, bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM background_jobs WHERE job_type=$1 AND status IN ('pending','processing'))`,
		jobType).Scan(&exists)
	if err != nil {
		return "", false, err
	}
	if exists {
		return "", false, nil
	}
	id, err := r.Enqueue(ctx, jobType, data)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ClaimBatch marks up to limit due jobs as processing for this worker,
// bumping attempts in the same statement. SKIP LOCKED keeps two runners from
// claiming the same row; the guard on status='pending' makes the claim
// optimistic.
func (r *Repo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.DB.Query(ctx, `
		UPDATE background_jobs
		SET status='processing', worker_id=$1, attempts=attempts+1, updated_at=now()
		WHERE id IN (
			SELECT id FROM background_jobs
			WHERE status='pending' AND scheduled_at <= now()
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, job_data, attempts, max_attempts, priority, scheduled_at, timeout_seconds`,
		workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j := Job{Status: StatusProcessing, WorkerID: workerID}
		if err := rows.Scan(&j.ID, &j.Type, &j.Data, &j.Attempts, &j.MaxAttempts, &j.Priority, &j.ScheduledAt, &j.TimeoutSeconds); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *Repo) Complete(ctx context.Context, jobID string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = r.DB.Exec(ctx, `
		UPDATE background_jobs SET status='completed', result_data=$2, error_message=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'`, jobID, b)
	return err
}

func (r *Repo) Reschedule(ctx context.Context, jobID string, runAt time.Time, errMsg string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE background_jobs SET status='pending', scheduled_at=$2, error_message=$3, worker_id=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'`, jobID, runAt, errMsg)
	return err
}

func (r *Repo) Fail(ctx context.Context, jobID, errMsg string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE background_jobs SET status='failed', error_message=$2, updated_at=now()
		WHERE id=$1 AND status='processing'`, jobID, errMsg)
	return err
}
