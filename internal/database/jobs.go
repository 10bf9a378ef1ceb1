package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-node/internal/models"
)

var (
	// ErrNotFound is returned when a job is not found
	ErrNotFound = errors.New("job not found")
	// ErrNotCancelable is returned when a job already left the queue
	ErrNotCancelable = errors.New("job cannot be canceled (already processing or completed)")
)

const jobColumns = `
	id, status, request_key, response_key, request_size, image_count,
	total_processed, total_errors, error, worker_id, created_at, updated_at,
	started_at, completed_at, processing_time_ms, delete_at`

// JobRepository handles batch job database operations
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job into the database
func (r *JobRepository) Create(ctx context.Context, job *models.BatchJob) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	defer func(start time.Time) { r.db.observe("create_job", start, err) }(time.Now())

	query := `
		INSERT INTO batch_jobs (id, status, request_key, request_size, image_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.RequestKey,
		job.RequestSize,
		job.ImageCount,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	r.db.observe("get_job", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List retrieves a page of jobs, newest first
func (r *JobRepository) List(ctx context.Context, page, pageSize int) ([]*models.BatchJob, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM batch_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	jobs, err := r.query(ctx, "list_jobs", query, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// UpdateStatus updates the status of a job
func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return expectRow(result)
}

// StartProcessing marks a job as processing and records the worker ID
func (r *JobRepository) StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error {
	now := time.Now()
	query := `
		UPDATE batch_jobs
		SET status = $1, worker_id = $2, started_at = $3, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.JobStatusProcessing, workerID, now, id)
	return err
}

// CompleteJob records the response document and batch totals and schedules
// the job for deletion after retention
func (r *JobRepository) CompleteJob(ctx context.Context, id uuid.UUID, responseKey string, processed, failed int, retention time.Duration) error {
	now := time.Now()

	var startedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT started_at FROM batch_jobs WHERE id = $1`, id).Scan(&startedAt)
	if err != nil {
		return fmt.Errorf("failed to get started_at: %w", err)
	}

	var processingTime int64
	if startedAt.Valid {
		processingTime = now.Sub(startedAt.Time).Milliseconds()
	}

	query := `
		UPDATE batch_jobs
		SET status = $1, response_key = $2, total_processed = $3, total_errors = $4,
		    completed_at = $5, updated_at = $5, processing_time_ms = $6, delete_at = $7
		WHERE id = $8
	`
	_, err = r.db.ExecContext(ctx, query,
		models.JobStatusCompleted, responseKey, processed, failed,
		now, processingTime, now.Add(retention), id)
	return err
}

// FailJob marks a job as failed with an error message
func (r *JobRepository) FailJob(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error {
	now := time.Now()
	query := `
		UPDATE batch_jobs
		SET status = $1, error = $2, completed_at = $3, updated_at = $3, delete_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.JobStatusFailed, errorMsg, now, now.Add(retention), id)
	return err
}

// CancelJob marks a queued job as canceled
func (r *JobRepository) CancelJob(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE batch_jobs
		SET status = $1, updated_at = $2, delete_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusCancelled,
		time.Now(),
		id,
		models.JobStatusPending,
		models.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if err := expectRow(result); err != nil {
		return ErrNotCancelable
	}
	return nil
}

// GetPendingJobsCount returns the count of jobs waiting for a worker
func (r *JobRepository) GetPendingJobsCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM batch_jobs WHERE status IN ($1, $2)`
	err := r.db.QueryRowContext(ctx, query, models.JobStatusPending, models.JobStatusQueued).Scan(&count)
	return count, err
}

// GetJobsToCleanup returns jobs whose retention has expired
func (r *JobRepository) GetJobsToCleanup(ctx context.Context, limit int) ([]*models.BatchJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM batch_jobs
		WHERE delete_at IS NOT NULL AND delete_at < NOW()
		ORDER BY delete_at ASC
		LIMIT $1`
	jobs, err := r.query(ctx, "cleanup_jobs", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs to cleanup: %w", err)
	}
	return jobs, nil
}

// DeleteJob permanently deletes a job from the database
func (r *JobRepository) DeleteJob(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM batch_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectRow(result)
}

func (r *JobRepository) query(ctx context.Context, operation, query string, args ...any) (jobs []*models.BatchJob, err error) {
	defer func(start time.Time) { r.db.observe(operation, start, err) }(time.Now())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.BatchJob, error) {
	job := &models.BatchJob{}
	var responseKey, errorMsg, workerID sql.NullString
	var startedAt, completedAt, deleteAt sql.NullTime
	var processingTime sql.NullInt64

	err := s.Scan(
		&job.ID,
		&job.Status,
		&job.RequestKey,
		&responseKey,
		&job.RequestSize,
		&job.ImageCount,
		&job.TotalProcessed,
		&job.TotalErrors,
		&errorMsg,
		&workerID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&processingTime,
		&deleteAt,
	)
	if err != nil {
		return nil, err
	}

	job.ResponseKey = responseKey.String
	job.Error = errorMsg.String
	job.WorkerID = workerID.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if processingTime.Valid {
		job.ProcessingTime = &processingTime.Int64
	}
	if deleteAt.Valid {
		job.DeleteAt = &deleteAt.Time
	}
	return job, nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
