package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of an asynchronous batch job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// BatchJob is an XML batch submitted for asynchronous processing
type BatchJob struct {
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ProcessingTime *int64     `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	DeleteAt       *time.Time `json:"delete_at,omitempty" db:"delete_at"`
	RequestKey     string     `json:"request_key" db:"request_key"`
	ResponseKey    string     `json:"response_key,omitempty" db:"response_key"`
	Error          string     `json:"error,omitempty" db:"error"`
	WorkerID       string     `json:"worker_id,omitempty" db:"worker_id"`
	ID             uuid.UUID  `json:"id" db:"id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	RequestSize    int64      `json:"request_size" db:"request_size"`
	Status         JobStatus  `json:"status" db:"status"`
	ImageCount     int        `json:"image_count" db:"image_count"`
	TotalProcessed int        `json:"total_processed" db:"total_processed"`
	TotalErrors    int        `json:"total_errors" db:"total_errors"`
}

// NewBatchJob creates a pending job for a stored request document
func NewBatchJob(requestKey string, requestSize int64, imageCount int) *BatchJob {
	now := time.Now()
	return &BatchJob{
		ID:          uuid.New(),
		Status:      JobStatusPending,
		RequestKey:  requestKey,
		RequestSize: requestSize,
		ImageCount:  imageCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// BatchMessage is the queue payload for an asynchronous batch
type BatchMessage struct {
	JobID      uuid.UUID `json:"job_id"`
	RequestKey string    `json:"request_key"`
	Conversion bool      `json:"conversion,omitempty"`
}

// JobListResponse represents a paginated list of jobs
type JobListResponse struct {
	Jobs       []*BatchJob `json:"jobs"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	StreamLength    int64 `json:"stream_length"`
	PendingMessages int64 `json:"pending_messages"`
	ConsumerCount   int64 `json:"consumer_count"`
}
