package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-node/internal/api"
	"github.com/timkrebs/image-node/internal/batch"
	"github.com/timkrebs/image-node/internal/cleanup"
	"github.com/timkrebs/image-node/internal/config"
	"github.com/timkrebs/image-node/internal/database"
	"github.com/timkrebs/image-node/internal/logging"
	"github.com/timkrebs/image-node/internal/metrics"
	"github.com/timkrebs/image-node/internal/processor"
	"github.com/timkrebs/image-node/internal/queue"
	"github.com/timkrebs/image-node/internal/storage"
	"github.com/timkrebs/image-node/internal/telemetry"
)

const metricsNamespace = "image_node"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "image-node",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TraceSample,
	}, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	if err := processor.Startup(); err != nil {
		logger.Error("failed to start image library", "error", err)
		os.Exit(1)
	}
	defer processor.Shutdown()

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTPMetrics(reg, metricsNamespace)
	batchMetrics := metrics.NewBatchMetrics(reg, metricsNamespace)

	// Create the batch coordinator
	codec := processor.New(cfg.WatermarkFontPath)
	if err := codec.FontError(); err != nil {
		logger.Warn("watermark font unavailable, using built-in face", "error", err)
	}
	pipeline := processor.NewPipeline(codec, cfg.Pipeline(), logger)
	coordinator, err := batch.New(cfg.Batch(), nil, pipeline, logger)
	if err != nil {
		logger.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}
	defer coordinator.Close()
	coordinator.SetMetrics(batchMetrics)

	handlers := api.NewHandlers(coordinator, cfg.Wire(), logger)

	if cfg.AsyncEnabled {
		closeAsync, err := enableAsync(ctx, cfg, handlers, reg, logger)
		if err != nil {
			logger.Error("failed to enable asynchronous jobs", "error", err)
			os.Exit(1)
		}
		defer closeAsync()
	}

	// Create router
	router := api.NewRouter(handlers, httpMetrics, reg, cfg.MaxUploadSize, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting node",
			"port", cfg.HTTPPort,
			"capacity", cfg.NodeCapacity,
			"workers", cfg.WorkerPoolSize,
			"async", cfg.AsyncEnabled,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// enableAsync connects the job database, queue and object store, registers
// the /jobs endpoints and starts the cleanup worker
func enableAsync(ctx context.Context, cfg *config.Config, handlers *api.Handlers, reg prometheus.Registerer, logger *slog.Logger) (func(), error) {
	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
	defer migrateCancel()
	if err := db.Migrate(migrateCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	db.SetMetrics(ctx, metrics.NewDatabaseMetrics(reg, metricsNamespace))
	logger.Info("connected to database")

	jobRepo := database.NewJobRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	closeAll := func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("connected to redis")

	producer := queue.NewProducer(redisClient, cfg.QueueStreamName)
	producer.SetMetrics(metrics.NewQueueMetrics(reg, metricsNamespace))

	// Connect to MinIO
	storageClient, err := storage.New(storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	storageClient.SetMetrics(metrics.NewStorageMetrics(reg, metricsNamespace))

	bucketCtx, bucketCancel := context.WithTimeout(ctx, 10*time.Second)
	defer bucketCancel()
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}
	logger.Info("connected to minio", "bucket", cfg.MinIOBucket)

	handlers.EnableAsync(jobRepo, storageClient, producer, cfg.QueueConsumerGroup)
	handlers.AddHealthCheck("database", db.Health)
	handlers.AddHealthCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	handlers.AddHealthCheck("storage", storageClient.Health)

	cleanupWorker := cleanup.NewWorker(jobRepo, storageClient, cleanup.Config{
		Interval: cfg.CleanupInterval,
	}, logger)
	go cleanupWorker.Start(ctx)

	return closeAll, nil
}
