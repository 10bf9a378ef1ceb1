package cleanup

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-node/internal/models"
)

type fakeJobs struct {
	mu      sync.Mutex
	expired []*models.BatchJob
	deleted []uuid.UUID
	failOn  uuid.UUID
	listErr error
}

func (f *fakeJobs) GetJobsToCleanup(_ context.Context, limit int) ([]*models.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.BatchJob
	for _, j := range f.expired {
		if !slices.Contains(f.deleted, j.ID) && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) DeleteJob(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failOn {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeObjects struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return f.err
}

func expiredJob() *models.BatchJob {
	job := models.NewBatchJob("requests/x.xml", 10, 1)
	job.RequestKey = "requests/" + job.ID.String() + ".xml"
	job.ResponseKey = "responses/" + job.ID.String() + ".xml"
	job.Status = models.JobStatusCompleted
	past := time.Now().Add(-time.Hour)
	job.DeleteAt = &past
	return job
}

func TestWorker_CleanupDeletesDocumentsAndRows(t *testing.T) {
	job := expiredJob()
	jobs := &fakeJobs{expired: []*models.BatchJob{job}}
	objects := &fakeObjects{}
	w := NewWorker(jobs, objects, Config{}, nil)

	cleaned, err := w.cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}
	if cleaned != 1 {
		t.Errorf("cleaned = %d, want 1", cleaned)
	}
	if !slices.Equal(objects.deleted, []string{job.RequestKey, job.ResponseKey}) {
		t.Errorf("deleted objects = %v", objects.deleted)
	}
	if !slices.Equal(jobs.deleted, []uuid.UUID{job.ID}) {
		t.Errorf("deleted jobs = %v", jobs.deleted)
	}
}

func TestWorker_CleanupIgnoresStorageErrors(t *testing.T) {
	job := expiredJob()
	job.ResponseKey = ""
	jobs := &fakeJobs{expired: []*models.BatchJob{job}}
	objects := &fakeObjects{err: errors.New("no such key")}
	w := NewWorker(jobs, objects, Config{}, nil)

	if _, err := w.cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}
	if len(objects.deleted) != 1 {
		t.Errorf("deleted objects = %v, want only the request", objects.deleted)
	}
	if len(jobs.deleted) != 1 {
		t.Error("job row should be removed even when its documents are gone")
	}
}

func TestWorker_CleanupBatchSize(t *testing.T) {
	jobs := &fakeJobs{}
	for i := 0; i < 10; i++ {
		jobs.expired = append(jobs.expired, expiredJob())
	}
	failing := jobs.expired[0]
	jobs.failOn = failing.ID
	w := NewWorker(jobs, &fakeObjects{}, Config{BatchSize: 5}, nil)

	cleaned, err := w.cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}
	if cleaned != 4 {
		t.Errorf("cleaned = %d, want 4 (one of five fails)", cleaned)
	}
	remaining, _ := jobs.GetJobsToCleanup(context.Background(), 100)
	if len(remaining) != 6 {
		t.Errorf("remaining = %d, want 6", len(remaining))
	}
}

func TestWorker_CleanupListError(t *testing.T) {
	w := NewWorker(&fakeJobs{listErr: errors.New("db down")}, &fakeObjects{}, Config{}, nil)
	if _, err := w.cleanup(context.Background()); err == nil {
		t.Error("cleanup() should surface repository errors")
	}
}

func TestWorker_StartStopsOnCancel(t *testing.T) {
	jobs := &fakeJobs{expired: []*models.BatchJob{expiredJob()}}
	w := NewWorker(jobs, &fakeObjects{}, Config{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		jobs.mu.Lock()
		n := len(jobs.deleted)
		jobs.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cleanup cycle did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestNewWorker_DefaultConfig(t *testing.T) {
	worker := NewWorker(nil, nil, Config{}, nil)

	if worker.interval != 5*time.Minute {
		t.Errorf("expected default interval 5m, got %v", worker.interval)
	}
	if worker.batchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", worker.batchSize)
	}
}
