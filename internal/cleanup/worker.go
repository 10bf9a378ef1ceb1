// Package cleanup removes asynchronous batch jobs once their retention expires.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-node/internal/models"
)

// JobStore is the part of the job repository the worker needs
type JobStore interface {
	GetJobsToCleanup(ctx context.Context, limit int) ([]*models.BatchJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// ObjectStore deletes stored documents
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
}

// Worker handles periodic cleanup of expired jobs and their documents
type Worker struct {
	jobs      JobStore
	storage   ObjectStore
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Config holds cleanup worker configuration
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// NewWorker creates a new cleanup worker
func NewWorker(jobs JobStore, storage ObjectStore, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		jobs:      jobs,
		storage:   storage,
		logger:    logger.With("component", "cleanup"),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Start runs cleanup cycles until ctx is canceled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("cleanup worker started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			if _, err := w.cleanup(ctx); err != nil {
				w.logger.Error("cleanup failed", "error", err)
			}
		}
	}
}

// cleanup performs a single cleanup cycle and returns the number of jobs removed
func (w *Worker) cleanup(ctx context.Context) (int, error) {
	start := time.Now()

	jobs, err := w.jobs.GetJobsToCleanup(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		w.logger.Debug("no jobs to cleanup")
		return 0, nil
	}

	cleaned, failed := 0, 0
	for _, job := range jobs {
		if err := w.cleanupJob(ctx, job); err != nil {
			w.logger.Error("failed to cleanup job", "job_id", job.ID, "error", err)
			failed++
			continue
		}
		cleaned++
	}

	w.logger.Info("cleanup cycle completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"cleaned", cleaned,
		"errors", failed,
		"total", len(jobs),
	)
	return cleaned, nil
}

// cleanupJob removes a job's documents and then its row. Missing documents
// are logged and do not keep the row alive.
func (w *Worker) cleanupJob(ctx context.Context, job *models.BatchJob) error {
	logger := w.logger.With("job_id", job.ID)

	for _, key := range []string{job.RequestKey, job.ResponseKey} {
		if key == "" {
			continue
		}
		if err := w.storage.Delete(ctx, key); err != nil {
			logger.Warn("failed to delete document", "key", key, "error", err)
		}
	}

	if err := w.jobs.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	logger.Debug("job cleaned up")
	return nil
}
