package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/timkrebs/image-node/internal/metrics"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/transform"
)

// MaxOperationsLimit is the highest accepted per-image operation cap
const MaxOperationsLimit = 20

// PipelineConfig controls single-image processing
type PipelineConfig struct {
	Formats         []models.Format
	MaxOperations   int
	DefaultQuality  int
	GroupByCategory bool
}

// Pipeline runs one image through decode, operations and encode
type Pipeline struct {
	codec   Codec
	logger  *slog.Logger
	metrics *metrics.BatchMetrics
	allowed map[models.Format]bool
	cfg     PipelineConfig
}

// NewPipeline creates a pipeline over codec
func NewPipeline(codec Codec, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = 5
	}
	cfg.MaxOperations = min(cfg.MaxOperations, MaxOperationsLimit)
	if cfg.DefaultQuality <= 0 || cfg.DefaultQuality > 100 {
		cfg.DefaultQuality = 85
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []models.Format{models.FormatJPEG, models.FormatPNG, models.FormatWEBP, models.FormatTIFF}
	}
	allowed := make(map[models.Format]bool, len(cfg.Formats))
	for _, f := range cfg.Formats {
		allowed[f] = true
	}
	return &Pipeline{
		codec:   codec,
		logger:  logger.With("component", "pipeline"),
		allowed: allowed,
		cfg:     cfg,
	}
}

// SetMetrics sets the metrics collector for the pipeline
func (p *Pipeline) SetMetrics(m *metrics.BatchMetrics) {
	p.metrics = m
}

// MaxOperations returns the configured operation cap
func (p *Pipeline) MaxOperations() int {
	return p.cfg.MaxOperations
}

// Apply processes one task. maxOps <= 0 uses the configured cap. Failures
// are reported in the result, never as a panic or error. Once started, Apply
// runs to completion regardless of ctx; ctx only carries trace data.
func (p *Pipeline) Apply(ctx context.Context, task models.ImageTask, maxOps int) models.ImageResult {
	if task.PayloadError != "" {
		return models.Failure(task.Index, task.PayloadError)
	}
	if maxOps <= 0 {
		maxOps = p.cfg.MaxOperations
	}
	maxOps = min(maxOps, MaxOperationsLimit)

	img, err := p.codec.Decode(task.Data)
	if err != nil {
		return models.Failure(task.Index, err.Error())
	}
	origW, origH := img.Width(), img.Height()

	format := p.initialFormat(task, img.Native)
	quality := p.cfg.DefaultQuality
	if task.Quality > 0 {
		quality = min(task.Quality, 100)
	}

	applied := make([]string, 0, min(len(task.Operations), maxOps))
	for _, op := range p.order(task.Operations) {
		if len(applied) >= maxOps {
			p.logger.Debug("operation cap reached", "index", task.Index, "max", maxOps)
			break
		}
		if !transform.Known(op.Kind) {
			p.logger.Debug("ignoring unknown operation", "index", task.Index, "kind", op.Kind)
			continue
		}

		start := time.Now()
		next, err := p.codec.Apply(img, op)
		if p.metrics != nil {
			p.metrics.RecordOperation(string(op.Kind), time.Since(start), err)
		}
		if err != nil {
			p.logger.Debug("operation skipped", "index", task.Index, "kind", op.Kind, "error", err)
			continue
		}
		img = next

		if f, q, ok := ConvertTarget(op); ok {
			format = f
			if q > 0 {
				quality = q
			}
		}
		applied = append(applied, transform.EncodeToken(op))
	}

	if !p.allowed[format] {
		return models.Failure(task.Index, fmt.Sprintf("%v: format %s is not enabled", ErrEncode, format))
	}
	data, err := p.codec.Encode(img, format, quality)
	if err != nil {
		if !errors.Is(err, ErrEncode) {
			err = fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return models.Failure(task.Index, err.Error())
	}

	res := models.Success(task.Index, data, format, quality, applied)
	res.Width, res.Height = img.Width(), img.Height()
	res.OriginalWidth, res.OriginalHeight = origW, origH
	return res
}

// initialFormat picks the requested format, or the native one. Natives that
// are not enabled for output fall back to PNG.
func (p *Pipeline) initialFormat(task models.ImageTask, native models.Format) models.Format {
	if task.Format != "" {
		return task.Format
	}
	if p.allowed[native] {
		return native
	}
	return models.FormatPNG
}

// order returns ops in client order, or grouped by category when enabled
func (p *Pipeline) order(ops []models.Operation) []models.Operation {
	if !p.cfg.GroupByCategory {
		return ops
	}
	out := slices.Clone(ops)
	slices.SortStableFunc(out, func(a, b models.Operation) int {
		return int(transform.CategoryOf(a.Kind)) - int(transform.CategoryOf(b.Kind))
	})
	return out
}
