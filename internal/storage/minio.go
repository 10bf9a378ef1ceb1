// Package storage keeps batch request and response documents in object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/timkrebs/image-node/internal/metrics"
)

// ContentTypeXML is the content type of stored documents
const ContentTypeXML = "application/xml"

// Storage provides object storage operations
type Storage struct {
	client     *minio.Client
	metrics    *metrics.StorageMetrics
	bucketName string
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New creates a new storage client
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Storage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// RequestKey is the object key of a job's request document
func RequestKey(jobID uuid.UUID) string {
	return fmt.Sprintf("requests/%s.xml", jobID)
}

// ResponseKey is the object key of a job's response document
func ResponseKey(jobID uuid.UUID) string {
	return fmt.Sprintf("responses/%s.xml", jobID)
}

// SetMetrics injects metrics collectors into storage client
func (s *Storage) SetMetrics(m *metrics.StorageMetrics) {
	s.metrics = m
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Upload stores a document. size may be -1 when the length is unknown, in
// which case the client streams it in parts.
func (s *Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64) (int64, error) {
	start := time.Now()

	info, err := s.client.PutObject(ctx, s.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: ContentTypeXML,
	})
	s.record("upload", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to upload object: %w", err)
	}
	if s.metrics != nil {
		s.metrics.BytesTransferred.WithLabelValues("upload").Add(float64(info.Size))
	}
	return info.Size, nil
}

// Download opens a stored document
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()

	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	s.record("download", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// Delete removes a stored document
func (s *Storage) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	s.record("delete", start, err)
	return err
}

// Health checks if storage is accessible
func (s *Storage) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func (s *Storage) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.OperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	s.metrics.OperationsTotal.WithLabelValues(operation, status).Inc()
}
