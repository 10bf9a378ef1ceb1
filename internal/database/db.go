// Package database persists asynchronous batch jobs in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/timkrebs/image-node/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id                 UUID PRIMARY KEY,
	status             TEXT NOT NULL,
	request_key        TEXT NOT NULL,
	response_key       TEXT,
	request_size       BIGINT NOT NULL DEFAULT 0,
	image_count        INTEGER NOT NULL DEFAULT 0,
	total_processed    INTEGER NOT NULL DEFAULT 0,
	total_errors       INTEGER NOT NULL DEFAULT 0,
	error              TEXT,
	worker_id          TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	processing_time_ms BIGINT,
	delete_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS batch_jobs_status_idx ON batch_jobs (status);
CREATE INDEX IF NOT EXISTS batch_jobs_delete_at_idx ON batch_jobs (delete_at) WHERE delete_at IS NOT NULL;
`

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
	metrics *metrics.DatabaseMetrics
}

// New creates a new database connection
func New(databaseURL string, maxConns int) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates the job table when it does not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SetMetrics injects metrics collectors and samples pool usage until ctx ends
func (db *DB) SetMetrics(ctx context.Context, m *metrics.DatabaseMetrics) {
	db.metrics = m

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.metrics.ConnectionsActive.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

// observe records the outcome of one query
func (db *DB) observe(operation string, start time.Time, err error) {
	if db.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	db.metrics.QueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	db.metrics.QueriesTotal.WithLabelValues(operation, status).Inc()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
