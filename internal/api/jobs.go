package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timkrebs/image-node/internal/database"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/storage"
	"github.com/timkrebs/image-node/internal/wire"
)

// JobStore persists asynchronous batch jobs
type JobStore interface {
	Create(ctx context.Context, job *models.BatchJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
	List(ctx context.Context, page, pageSize int) ([]*models.BatchJob, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	CancelJob(ctx context.Context, id uuid.UUID) error
}

// DocumentStore keeps request and response documents
type DocumentStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) (int64, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// JobQueue hands jobs to workers
type JobQueue interface {
	Enqueue(ctx context.Context, msg *models.BatchMessage) error
	GetStats(ctx context.Context, consumerGroup string) (*models.QueueStats, error)
}

type asyncDeps struct {
	jobs      JobStore
	documents DocumentStore
	queue     JobQueue
	groupName string
}

// EnableAsync turns on the /jobs endpoints
func (h *Handlers) EnableAsync(jobs JobStore, documents DocumentStore, queue JobQueue, groupName string) {
	h.async = &asyncDeps{
		jobs:      jobs,
		documents: documents,
		queue:     queue,
		groupName: groupName,
	}
}

// AsyncEnabled reports whether the /jobs endpoints are served
func (h *Handlers) AsyncEnabled() bool {
	return h.async != nil
}

// CreateJob handles POST /api/v1/jobs. The document is validated, stored and
// queued; processing happens on a worker.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	tasks, err := wire.ParseBatch(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to rewind request body")
		return
	}

	job := models.NewBatchJob("", body.Size(), len(tasks))
	job.RequestKey = storage.RequestKey(job.ID)

	if _, err := h.async.documents.Upload(ctx, job.RequestKey, body, body.Size()); err != nil {
		h.logger.Error("failed to store request document", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to store request")
		return
	}

	if err := h.async.jobs.Create(ctx, job); err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.async.jobs.UpdateStatus(ctx, job.ID, models.JobStatusQueued); err != nil {
		h.logger.Error("failed to update job status", "error", err)
	}
	job.Status = models.JobStatusQueued

	msg := &models.BatchMessage{
		JobID:      job.ID,
		RequestKey: job.RequestKey,
		Conversion: wire.IsConversion(tasks),
	}
	if err := h.async.queue.Enqueue(ctx, msg); err != nil {
		h.logger.Error("failed to enqueue job", "error", err)
		if updateErr := h.async.jobs.UpdateStatus(ctx, job.ID, models.JobStatusPending); updateErr != nil {
			h.logger.Error("failed to update job status", "error", updateErr)
		}
		h.writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	h.logger.Info("job created", "job_id", job.ID, "images", job.ImageCount)
	h.writeJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	jobs, total, err := h.async.jobs.List(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.writeJSON(w, http.StatusOK, models.JobListResponse{
		Jobs:       jobs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

// GetJobResult handles GET /api/v1/jobs/{id}/result
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != models.JobStatusCompleted || job.ResponseKey == "" {
		h.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}

	reader, err := h.async.documents.Download(r.Context(), job.ResponseKey)
	if err != nil {
		h.logger.Error("failed to download response document", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to download result")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/xml")
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Error("failed to stream result", "error", err)
	}
}

// CancelJob handles DELETE /api/v1/jobs/{id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	if err := h.async.jobs.CancelJob(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, database.ErrNotCancelable):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, database.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "job not found")
		default:
			h.logger.Error("failed to cancel job", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// StreamJobStatus handles GET /api/v1/jobs/{id}/stream with Server-Sent
// Events until the job reaches a terminal state
func (h *Handlers) StreamJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(job *models.BatchJob) {
		data, _ := json.Marshal(job)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	send(job)
	if job.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := h.async.jobs.GetByID(ctx, job.ID)
			if err != nil {
				if !errors.Is(err, database.ErrNotFound) {
					h.logger.Error("failed to get job during stream", "error", err)
				}
				return
			}
			send(job)
			if job.Status.Terminal() {
				return
			}
		}
	}
}

// GetQueueStats handles GET /api/v1/stats/queue
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.async.queue.GetStats(r.Context(), h.async.groupName)
	if err != nil {
		h.logger.Error("failed to get queue stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// lookupJob resolves the {id} URL parameter, writing the error response
// when it fails
func (h *Handlers) lookupJob(w http.ResponseWriter, r *http.Request) (*models.BatchJob, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job ID")
		return nil, false
	}

	job, err := h.async.jobs.GetByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get job", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return job, true
}

func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
