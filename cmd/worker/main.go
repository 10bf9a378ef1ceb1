package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-node/internal/batch"
	"github.com/timkrebs/image-node/internal/config"
	"github.com/timkrebs/image-node/internal/database"
	"github.com/timkrebs/image-node/internal/logging"
	"github.com/timkrebs/image-node/internal/metrics"
	"github.com/timkrebs/image-node/internal/processor"
	"github.com/timkrebs/image-node/internal/queue"
	"github.com/timkrebs/image-node/internal/storage"
	"github.com/timkrebs/image-node/internal/telemetry"
)

const metricsNamespace = "image_node_worker"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Generate worker ID
	workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("worker_id", workerID)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "image-node-worker",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TraceSample,
		InstanceID:   workerID,
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
	batchMetrics := metrics.NewBatchMetrics(reg, metricsNamespace)
	queueMetrics := metrics.NewQueueMetrics(reg, metricsNamespace)
	storageMetrics := metrics.NewStorageMetrics(reg, metricsNamespace)
	dbMetrics := metrics.NewDatabaseMetrics(reg, metricsNamespace)

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	db.SetMetrics(ctx, dbMetrics)
	logger.Info("connected to database")

	jobRepo := database.NewJobRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	pingCancel()
	logger.Info("connected to redis")

	consumer := queue.NewConsumer(redisClient, queue.ConsumerConfig{
		StreamName:    cfg.QueueStreamName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		ConsumerName:  workerID,
		PollTimeout:   cfg.WorkerPollTimeout,
	}, logger)
	consumer.SetMetrics(queueMetrics)

	groupCtx, groupCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := consumer.EnsureGroup(groupCtx); err != nil {
		groupCancel()
		logger.Error("failed to ensure consumer group", "error", err)
		os.Exit(1)
	}
	groupCancel()

	// Connect to MinIO
	storageClient, err := storage.New(storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		logger.Error("failed to create storage client", "error", err)
		os.Exit(1)
	}
	storageClient.SetMetrics(storageMetrics)
	logger.Info("connected to minio", "bucket", cfg.MinIOBucket)

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

	worker := &Worker{
		id:          workerID,
		jobs:        jobRepo,
		documents:   storageClient,
		messages:    consumer,
		coordinator: coordinator,
		logger:      logger,
		wireOpts:    cfg.Wire(),
		retention:   cfg.ResultRetention,
		retryDelay:  time.Second,
	}

	// Start health check server
	go startHealthServer(cfg.HTTPPort, reg, logger)

	// Setup signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start worker goroutines
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			worker.run(ctx, workerNum)
		}(i)
	}

	logger.Info("worker started", "concurrency", cfg.WorkerConcurrency, "capacity", cfg.NodeCapacity)

	// Wait for shutdown signal
	<-quit
	logger.Info("shutting down worker...")
	cancel()

	// Wait for all workers to finish
	wg.Wait()
	logger.Info("worker stopped")
}

func startHealthServer(port int, gatherer prometheus.Gatherer, logger *slog.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting health server", "addr", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("health server error", "error", err)
	}
}
