package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-node/internal/batch"
	"github.com/timkrebs/image-node/internal/database"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/queue"
	"github.com/timkrebs/image-node/internal/storage"
	"github.com/timkrebs/image-node/internal/wire"
)

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error
	CompleteJob(ctx context.Context, id uuid.UUID, responseKey string, processed, failed int, retention time.Duration) error
	FailJob(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error
}

type documentStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) (int64, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

type messageSource interface {
	Consume(ctx context.Context) (*queue.Message, error)
	Acknowledge(ctx context.Context, messageID string) error
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context, tasks []models.ImageTask) ([]models.ImageResult, error)
}

// errRetry leaves the message pending so it is redelivered
var errRetry = errors.New("job deferred")

// Worker turns queued batch jobs into stored response documents
type Worker struct {
	id          string
	jobs        jobStore
	documents   documentStore
	messages    messageSource
	coordinator batchProcessor
	logger      *slog.Logger
	wireOpts    wire.Options
	retention   time.Duration
	retryDelay  time.Duration
}

func (w *Worker) run(ctx context.Context, workerNum int) {
	logger := w.logger.With("goroutine", workerNum)

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker goroutine stopping")
			return
		default:
		}

		msg, err := w.messages.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("failed to consume message", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		if err := w.processJob(ctx, msg); err != nil {
			if errors.Is(err, errRetry) {
				logger.Warn("job left pending", "job_id", msg.Batch.JobID, "error", err)
				sleep(ctx, w.retryDelay)
				continue
			}
			logger.Error("failed to process job", "job_id", msg.Batch.JobID, "error", err)
		}

		if err := w.messages.Acknowledge(ctx, msg.ID); err != nil {
			logger.Error("failed to acknowledge message", "error", err)
		}
	}
}

// processJob runs one job. Any error other than errRetry means the message
// is done with and should be acknowledged.
func (w *Worker) processJob(ctx context.Context, msg *queue.Message) error {
	jobID := msg.Batch.JobID
	logger := w.logger.With("job_id", jobID)

	job, err := w.jobs.GetByID(ctx, jobID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("job not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to get job: %v", errRetry, err)
	}
	if job.Status.Terminal() {
		logger.Info("job already finished, skipping", "status", job.Status)
		return nil
	}

	if err := w.jobs.StartProcessing(ctx, jobID, w.id); err != nil {
		return fmt.Errorf("%w: failed to start processing: %v", errRetry, err)
	}

	tasks, err := w.loadRequest(ctx, job.RequestKey)
	if err != nil {
		return w.fail(ctx, jobID, err)
	}

	logger.Info("processing batch", "images", len(tasks))
	results, err := w.coordinator.ProcessBatch(ctx, tasks)
	if errors.Is(err, batch.ErrAdmissionRejected) || errors.Is(err, batch.ErrCoordinatorClosed) {
		if updateErr := w.jobs.UpdateStatus(ctx, jobID, models.JobStatusQueued); updateErr != nil {
			logger.Error("failed to requeue job", "error", updateErr)
		}
		return fmt.Errorf("%w: %v", errRetry, err)
	}
	if err != nil {
		return w.fail(ctx, jobID, err)
	}

	key := storage.ResponseKey(jobID)
	if err := w.storeResponse(ctx, key, results, msg.Batch.Conversion); err != nil {
		return w.fail(ctx, jobID, err)
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	if err := w.jobs.CompleteJob(ctx, jobID, key, len(results)-failed, failed, w.retention); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	logger.Info("job completed", "processed", len(results)-failed, "failed", failed)
	return nil
}

func (w *Worker) loadRequest(ctx context.Context, key string) ([]models.ImageTask, error) {
	reader, err := w.documents.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download request: %w", err)
	}
	defer reader.Close()

	return wire.ParseBatch(reader)
}

// storeResponse encodes results straight into the object store upload
func (w *Worker) storeResponse(ctx context.Context, key string, results []models.ImageResult, conversion bool) error {
	pr, pw := io.Pipe()

	go func() {
		rw := wire.NewResponseWriter(pw, w.wireOpts)
		var err error
		if conversion && len(results) == 1 {
			err = rw.WriteConversion(results[0])
		} else {
			err = rw.WriteBatch(results)
		}
		pw.CloseWithError(err)
	}()

	if _, err := w.documents.Upload(ctx, key, pr, -1); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("failed to upload response: %w", err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	if err := w.jobs.FailJob(ctx, jobID, cause.Error(), w.retention); err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", jobID, "error", err)
	}
	return cause
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
