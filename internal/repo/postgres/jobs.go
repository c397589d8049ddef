package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

// claimLease is how long a dequeued job stays invisible to other workers.
// A worker that dies mid-job releases it implicitly once the lease expires.
const claimLease = 30 * time.Second

type DispatchQueueStore struct {
	db DB
}

func NewDispatchQueueStore(db DB) *DispatchQueueStore {
	if db == nil {
		return nil
	}
	return &DispatchQueueStore{db: db}
}

func (s *DispatchQueueStore) Enqueue(ctx context.Context, job repo.DispatchJob) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dispatch queue not initialized")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(job.ExecutionID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if strings.TrimSpace(job.Kind) == "" {
		return fmt.Errorf("job kind is required")
	}
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO dispatch_jobs (
			job_id,
			execution_id,
			kind,
			attempts,
			run_after,
			created_at,
			last_error,
			done
		) VALUES ($1,$2,$3,$4,$5,$6,$7,false)`,
		strings.TrimSpace(job.ID),
		strings.TrimSpace(job.ExecutionID),
		strings.TrimSpace(job.Kind),
		job.Attempts,
		runAfter.UTC(),
		normalizeTime(job.CreatedAt),
		nullIfEmpty(job.LastError),
	)
	if err != nil {
		return fmt.Errorf("enqueue dispatch job: %w", err)
	}
	return nil
}

// DequeueDue claims up to limit due jobs in one statement. SKIP LOCKED keeps
// concurrent workers from blocking each other on the same rows, and the
// claimed jobs' run_after is pushed out by the lease so no other worker sees
// them while they are being processed.
func (s *DispatchQueueStore) DequeueDue(ctx context.Context, limit int) ([]repo.DispatchJob, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dispatch queue not initialized")
	}
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(
		ctx,
		`UPDATE dispatch_jobs SET run_after = $1
		 WHERE job_id IN (
			SELECT job_id FROM dispatch_jobs
			WHERE done = false AND run_after <= $2
			ORDER BY run_after ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING job_id, execution_id, kind, attempts, run_after, created_at, last_error`,
		now.Add(claimLease),
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue dispatch jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]repo.DispatchJob, 0, limit)
	for rows.Next() {
		var job repo.DispatchJob
		var lastError sql.NullString
		if err := rows.Scan(&job.ID, &job.ExecutionID, &job.Kind, &job.Attempts, &job.RunAfter, &job.CreatedAt, &lastError); err != nil {
			return nil, fmt.Errorf("scan dispatch job: %w", err)
		}
		if lastError.Valid {
			job.LastError = lastError.String
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue dispatch jobs: %w", err)
	}
	return jobs, nil
}

func (s *DispatchQueueStore) MarkDone(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dispatch queue not initialized")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE dispatch_jobs SET done = true WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark dispatch job done: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dispatch job done: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *DispatchQueueStore) MarkFailed(ctx context.Context, jobID string, attempt int, retryAt time.Time, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dispatch queue not initialized")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE dispatch_jobs SET attempts = $1, run_after = $2, last_error = $3 WHERE job_id = $4`,
		attempt,
		retryAt.UTC(),
		nullIfEmpty(reason),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark dispatch job failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dispatch job failed: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
