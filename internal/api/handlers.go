// Package api exposes the processing node over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/timkrebs/image-node/internal/batch"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/wire"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers
type Handlers struct {
	coordinator *batch.Coordinator
	async       *asyncDeps
	logger      *slog.Logger
	checks      map[string]HealthCheck
	wireOpts    wire.Options
}

// NewHandlers creates a new handlers instance
func NewHandlers(coordinator *batch.Coordinator, wireOpts wire.Options, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		coordinator: coordinator,
		wireOpts:    wireOpts,
		logger:      logger,
		checks:      make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a dependency check reported by Health
func (h *Handlers) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeXMLError writes an XML error document
func (h *Handlers) writeXMLError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if err := wire.NewResponseWriter(w, h.wireOpts).WriteError(status, message); err != nil {
		h.logger.Error("failed to write error document", "error", err)
	}
}

// ProcessBatch handles POST /api/v1/batches
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Receiving()

	tasks, err := wire.ParseBatch(r.Body)
	if err != nil {
		h.rejectInput(w, err)
		return
	}
	h.process(w, r, tasks, wire.IsConversion(tasks))
}

// Convert handles POST /api/v1/convert. The document must hold exactly one
// image; format and quality query parameters replace its operations with a
// single conversion.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Receiving()

	tasks, err := wire.ParseBatch(r.Body)
	if err != nil {
		h.rejectInput(w, err)
		return
	}
	if len(tasks) != 1 {
		h.rejectInput(w, fmt.Errorf("%w: conversion takes exactly one image, got %d", wire.ErrMalformedInput, len(tasks)))
		return
	}

	task := tasks[0]
	params := map[string]models.Value{}
	query := r.URL.Query()
	if name := query.Get("format"); name != "" {
		format, ok := models.ParseFormat(name)
		if !ok {
			h.rejectInput(w, fmt.Errorf("%w: unknown format %q", wire.ErrMalformedInput, name))
			return
		}
		params["format"] = models.StringValue(string(format))
	} else if task.Format != "" {
		params["format"] = models.StringValue(string(task.Format))
	} else {
		h.rejectInput(w, fmt.Errorf("%w: target format is required", wire.ErrMalformedInput))
		return
	}
	if q := query.Get("quality"); q != "" {
		quality, err := strconv.Atoi(q)
		if err != nil || quality < 1 || quality > 100 {
			h.rejectInput(w, fmt.Errorf("%w: quality must be 1..100", wire.ErrMalformedInput))
			return
		}
		params["quality"] = models.IntValue(int64(quality))
	}
	task.Operations = []models.Operation{models.NewOperation(models.OperationConvert, params)}

	h.process(w, r, []models.ImageTask{task}, true)
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request, tasks []models.ImageTask, conversion bool) {
	results, err := h.coordinator.ProcessBatch(r.Context(), tasks)
	if err != nil {
		h.coordinator.Fail(err)
		if errors.Is(err, batch.ErrAdmissionRejected) || errors.Is(err, batch.ErrCoordinatorClosed) {
			w.Header().Set("Retry-After", "1")
			h.writeXMLError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error("batch failed", "error", err)
		h.writeXMLError(w, http.StatusInternalServerError, "failed to process batch")
		return
	}

	if conversion && !results[0].OK {
		h.writeXMLError(w, http.StatusUnprocessableEntity, results[0].Error)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	rw := wire.NewResponseWriter(w, h.wireOpts)
	if conversion {
		err = rw.WriteConversion(results[0])
	} else {
		err = rw.WriteBatch(results)
	}
	if err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// rejectInput reports a request-level input error
func (h *Handlers) rejectInput(w http.ResponseWriter, err error) {
	h.coordinator.Fail(err)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeXMLError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	h.writeXMLError(w, http.StatusBadRequest, err.Error())
}

// Status handles GET /api/v1/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coordinator.Snapshot())
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]interface{}, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "unhealthy"
			checks[name] = map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			}
			continue
		}
		checks[name] = map[string]string{"status": "healthy"}
	}

	snapshot := h.coordinator.Snapshot()
	response := map[string]interface{}{
		"status":    status,
		"node":      snapshot.State,
		"in_flight": snapshot.InFlight,
		"capacity":  snapshot.Capacity,
		"checks":    checks,
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, statusCode, response)
}

// readBody buffers a request body
func readBody(r *http.Request) (*bytes.Reader, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
