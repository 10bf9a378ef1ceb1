package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-node/internal/models"
)

func setupRepository(t *testing.T) (*JobRepository, *DB) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := New(dbURL, 5)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewJobRepository(db), db
}

func createJob(t *testing.T, repo *JobRepository) *models.BatchJob {
	t.Helper()
	job := models.NewBatchJob("requests/"+uuid.NewString()+".xml", 2048, 3)
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.DeleteJob(context.Background(), job.ID) })
	return job
}

func TestJobRepository_Lifecycle(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	job := createJob(t, repo)

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.JobStatusPending || got.ImageCount != 3 || got.RequestKey != job.RequestKey {
		t.Errorf("GetByID() = %+v", got)
	}

	if err := repo.UpdateStatus(ctx, job.ID, models.JobStatusQueued); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.StartProcessing(ctx, job.ID, "node-1"); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}
	if err := repo.CompleteJob(ctx, job.ID, "responses/x.xml", 2, 1, time.Hour); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	got, err = repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.WorkerID != "node-1" {
		t.Errorf("status/worker = %s/%s", got.Status, got.WorkerID)
	}
	if got.TotalProcessed != 2 || got.TotalErrors != 1 || got.ResponseKey != "responses/x.xml" {
		t.Errorf("totals = %d/%d key %q", got.TotalProcessed, got.TotalErrors, got.ResponseKey)
	}
	if got.DeleteAt == nil || got.ProcessingTime == nil {
		t.Error("completion should set delete_at and processing time")
	}
}

func TestJobRepository_Cancel(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	queued := createJob(t, repo)
	if err := repo.CancelJob(ctx, queued.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}

	running := createJob(t, repo)
	if err := repo.StartProcessing(ctx, running.ID, "node-1"); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}
	if err := repo.CancelJob(ctx, running.ID); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("CancelJob() on running job error = %v, want ErrNotCancelable", err)
	}
}

func TestJobRepository_NotFound(t *testing.T) {
	repo, _ := setupRepository(t)

	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteJob(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteJob() error = %v, want ErrNotFound", err)
	}
}

func TestJobRepository_Cleanup(t *testing.T) {
	repo, db := setupRepository(t)
	ctx := context.Background()
	job := createJob(t, repo)

	if err := repo.FailJob(ctx, job.ID, "malformed input", time.Hour); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "UPDATE batch_jobs SET delete_at = $1 WHERE id = $2", time.Now().Add(-time.Hour), job.ID); err != nil {
		t.Fatalf("failed to set delete_at: %v", err)
	}

	jobs, err := repo.GetJobsToCleanup(ctx, 100)
	if err != nil {
		t.Fatalf("GetJobsToCleanup() error = %v", err)
	}
	found := false
	for _, j := range jobs {
		if j.ID == job.ID {
			found = true
			if j.Status != models.JobStatusFailed || j.Error != "malformed input" {
				t.Errorf("expired job = %+v", j)
			}
		}
	}
	if !found {
		t.Error("expired job not returned for cleanup")
	}
}
