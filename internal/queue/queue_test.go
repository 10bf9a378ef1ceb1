package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-node/internal/metrics"
	"github.com/timkrebs/image-node/internal/models"
)

// getTestRedisClient creates a Redis client for testing and skips the test
// when Redis is not available
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

// testStream returns a unique stream name that is deleted after the test
func testStream(t *testing.T, client *redis.Client, prefix string) string {
	t.Helper()
	name := prefix + "-" + uuid.New().String()[:8]
	t.Cleanup(func() { client.Del(context.Background(), name) })
	return name
}

func newTestConsumer(client *redis.Client, stream string, poll time.Duration) *Consumer {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewConsumer(client, ConsumerConfig{
		StreamName:    stream,
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
		PollTimeout:   poll,
	}, logger)
}

func TestNewConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	consumer := newTestConsumer(client, "test-stream", 5*time.Second)
	if consumer.streamName != "test-stream" {
		t.Errorf("streamName = %q, want test-stream", consumer.streamName)
	}
	if consumer.consumerGroup != "test-group" {
		t.Errorf("consumerGroup = %q, want test-group", consumer.consumerGroup)
	}
	if consumer.pollTimeout != 5*time.Second {
		t.Errorf("pollTimeout = %v, want 5s", consumer.pollTimeout)
	}
}

func TestDecodeMessage(t *testing.T) {
	jobID := uuid.New()
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
	}{
		{
			name:   "valid",
			values: map[string]interface{}{"data": `{"job_id":"` + jobID.String() + `","request_key":"requests/a.xml","conversion":true}`},
		},
		{name: "missing data", values: map[string]interface{}{}, wantErr: true},
		{name: "not json", values: map[string]interface{}{"data": "{"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeMessage(redis.XMessage{ID: "1-0", Values: tt.values})
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.ID != "1-0" || msg.Batch.JobID != jobID || !msg.Batch.Conversion {
				t.Errorf("decodeMessage() = %+v / %+v", msg, msg.Batch)
			}
			if msg.Batch.RequestKey != "requests/a.xml" {
				t.Errorf("RequestKey = %q", msg.Batch.RequestKey)
			}
		})
	}
}

func TestProducer_EnqueueAndStats(t *testing.T) {
	client := getTestRedisClient(t)
	stream := testStream(t, client, "test-enqueue")

	m := metrics.NewQueueMetrics(prometheus.NewRegistry(), "test")
	producer := NewProducer(client, stream)
	producer.SetMetrics(m)

	for i := 0; i < 3; i++ {
		msg := &models.BatchMessage{JobID: uuid.New(), RequestKey: "requests/x.xml"}
		if err := producer.Enqueue(context.Background(), msg); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	stats, err := producer.GetStats(context.Background(), "missing-group")
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.StreamLength != 3 || stats.PendingMessages != 0 {
		t.Errorf("stats = %+v, want length 3 and no pending", stats)
	}
	if got := testutil.ToFloat64(m.MessagesProduced); got != 3 {
		t.Errorf("MessagesProduced = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Depth); got != 3 {
		t.Errorf("Depth = %v, want 3", got)
	}
}

func TestConsumer_EnsureGroupTwice(t *testing.T) {
	client := getTestRedisClient(t)
	consumer := newTestConsumer(client, testStream(t, client, "test-group"), time.Second)

	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() first call error = %v", err)
	}
	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() second call error = %v", err)
	}
}

func TestConsumer_Consume_NoMessages(t *testing.T) {
	client := getTestRedisClient(t)
	consumer := newTestConsumer(client, testStream(t, client, "test-empty"), 100*time.Millisecond)

	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	msg, err := consumer.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if msg != nil {
		t.Errorf("Expected nil message from empty stream, got %+v", msg)
	}
}

func TestConsumer_ConsumeRedeliverAck(t *testing.T) {
	client := getTestRedisClient(t)
	stream := testStream(t, client, "test-consume")

	jobID := uuid.New()
	if err := NewProducer(client, stream).Enqueue(context.Background(), &models.BatchMessage{JobID: jobID}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	consumer := newTestConsumer(client, stream, time.Second)
	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	msg, err := consumer.Consume(context.Background())
	if err != nil || msg == nil {
		t.Fatalf("Consume() = %v, %v", msg, err)
	}
	if msg.Batch.JobID != jobID {
		t.Errorf("JobID = %v, want %v", msg.Batch.JobID, jobID)
	}

	// Unacknowledged messages come back first
	again, err := consumer.Consume(context.Background())
	if err != nil || again == nil || again.ID != msg.ID {
		t.Fatalf("redelivery = %v, %v; want message %s", again, err, msg.ID)
	}

	if err := consumer.Acknowledge(context.Background(), msg.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	pending, err := consumer.GetPendingCount(context.Background())
	if err != nil {
		t.Fatalf("GetPendingCount() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("PendingCount = %d, want 0 after ack", pending)
	}
}
