// Package batch runs batches of image tasks through a shared worker pool
// under process-wide admission control.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timkrebs/image-node/internal/metrics"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/processor"
)

var (
	// ErrAdmissionRejected is returned when a batch does not fit into the
	// remaining capacity
	ErrAdmissionRejected = errors.New("maximum capacity exceeded")
	// ErrCoordinatorClosed is returned after Close
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

// Config holds coordinator settings
type Config struct {
	Workers       int
	MaxOperations int
	Capacity      int
	CacheSize     int
}

// Coordinator fans batches out to a fixed worker pool
type Coordinator struct {
	admission *Admission
	pool      *Pool
	pipeline  *processor.Pipeline
	cache     *Cache
	status    *statusTracker
	logger    *slog.Logger
	metrics   *metrics.BatchMetrics
	tracer    trace.Tracer
	cfg       Config
	closed    atomic.Bool
}

// New creates a coordinator and starts its workers. A nil admission is
// replaced by one sized from cfg.Capacity.
func New(cfg Config, admission *Admission, pipeline *processor.Pipeline, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = pipeline.MaxOperations()
	}
	if admission == nil {
		admission = NewAdmission(cfg.Capacity)
	}
	cache, err := NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		admission: admission,
		pool:      NewPool(cfg.Workers),
		pipeline:  pipeline,
		cache:     cache,
		status:    &statusTracker{state: models.StateIdle},
		logger:    logger.With("component", "coordinator"),
		tracer:    otel.Tracer("github.com/timkrebs/image-node/internal/batch"),
		cfg:       cfg,
	}, nil
}

// SetMetrics sets the metrics collector for the coordinator and its pipeline
func (c *Coordinator) SetMetrics(m *metrics.BatchMetrics) {
	c.metrics = m
	c.pipeline.SetMetrics(m)
}

// ProcessBatch admits the whole batch or rejects it, processes every task,
// and returns one result per task ordered by original index. Failures of
// individual images never fail the batch.
func (c *Coordinator) ProcessBatch(ctx context.Context, tasks []models.ImageTask) ([]models.ImageResult, error) {
	if c.closed.Load() {
		return nil, ErrCoordinatorClosed
	}
	n := len(tasks)
	if n == 0 {
		return []models.ImageResult{}, nil
	}
	if c.metrics != nil {
		c.metrics.BatchSize.Observe(float64(n))
	}

	if !c.admission.Admit(n) {
		c.recordBatch("rejected")
		c.logger.Warn("batch rejected",
			"images", n,
			"in_flight", c.admission.InFlight(),
			"capacity", c.admission.Capacity(),
		)
		return nil, fmt.Errorf("%w: %d images requested, %d of %d in use",
			ErrAdmissionRejected, n, c.admission.InFlight(), c.admission.Capacity())
	}
	defer c.release(n)
	if c.metrics != nil {
		c.metrics.ImagesInFlight.Add(float64(n))
	}

	// admitted work runs to completion even if the caller goes away
	ctx, span := c.tracer.Start(context.WithoutCancel(ctx), "batch.process", trace.WithAttributes(
		attribute.Int("batch.size", n),
		attribute.Int("batch.max_operations", c.cfg.MaxOperations),
	))
	defer span.End()

	start := time.Now()
	c.status.begin(n)
	c.logger.Info("batch admitted", "images", n, "in_flight", c.admission.InFlight())

	results := make([]models.ImageResult, n)
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			results[i] = c.processOne(ctx, task)
		})
		if err != nil {
			wg.Done()
			results[i] = models.Failure(task.Index, err.Error())
			c.status.progress(results[i])
		}
	}
	wg.Wait()
	c.status.end(n)

	slices.SortStableFunc(results, func(a, b models.ImageResult) int {
		return a.Index - b.Index
	})

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("batch.failed", failed))
	if c.metrics != nil {
		c.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}
	c.recordBatch("completed")
	c.logger.Info("batch completed",
		"images", n,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (c *Coordinator) release(n int) {
	c.admission.Release(n)
	if c.metrics != nil {
		c.metrics.ImagesInFlight.Sub(float64(n))
	}
}

func (c *Coordinator) processOne(ctx context.Context, task models.ImageTask) (res models.ImageResult) {
	ctx, span := c.tracer.Start(ctx, "image.process", trace.WithAttributes(
		attribute.Int("image.index", task.Index),
		attribute.Int("image.operations", len(task.Operations)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing image", "index", task.Index, "panic", r)
			res = models.Failure(task.Index, fmt.Sprintf("internal error: %v", r))
		}
		if !res.OK {
			span.SetStatus(codes.Error, res.Error)
			c.logger.Warn("image failed", "index", task.Index, "error", res.Error)
		}
		if c.metrics != nil {
			c.metrics.RecordImage(res.OK)
		}
		c.status.progress(res)
	}()

	var key uint64
	if c.cache != nil && task.PayloadError == "" {
		key = Fingerprint(task, c.cfg.MaxOperations)
		if cached, ok := c.cache.Get(key, task.Index); ok {
			if c.metrics != nil {
				c.metrics.RecordCache(true)
			}
			span.SetAttributes(attribute.Bool("image.cache_hit", true))
			return cached
		}
		if c.metrics != nil {
			c.metrics.RecordCache(false)
		}
	}

	res = c.pipeline.Apply(ctx, task, c.cfg.MaxOperations)
	if c.cache != nil && res.OK {
		c.cache.Add(key, res)
	}
	return res
}

func (c *Coordinator) recordBatch(outcome string) {
	if c.metrics != nil {
		c.metrics.BatchesTotal.WithLabelValues(outcome).Inc()
	}
}

// Snapshot returns the current node status
func (c *Coordinator) Snapshot() models.Status {
	s := c.status.snapshot()
	s.InFlight = c.admission.InFlight()
	s.Capacity = c.admission.Capacity()
	return s
}

// Receiving marks that a request is being read and parsed
func (c *Coordinator) Receiving() {
	c.status.receiving()
}

// Fail records a request-level error such as malformed input
func (c *Coordinator) Fail(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrAdmissionRejected) {
		c.status.note(err.Error())
		return
	}
	c.recordBatch("malformed")
	c.status.fail(err.Error())
}

// Close stops the workers after in-progress work completes
func (c *Coordinator) Close() {
	c.closed.Store(true)
	c.pool.Stop()
}
