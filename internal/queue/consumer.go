package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-node/internal/metrics"
	"github.com/timkrebs/image-node/internal/models"
)

// Consumer reads batch jobs from the Redis stream
type Consumer struct {
	client        *redis.Client
	logger        *slog.Logger
	metrics       *metrics.QueueMetrics
	streamName    string
	consumerGroup string
	consumerName  string
	pollTimeout   time.Duration
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	PollTimeout   time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(client *redis.Client, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:        client,
		streamName:    cfg.StreamName,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		pollTimeout:   cfg.PollTimeout,
		logger:        logger.With("component", "consumer"),
	}
}

// SetMetrics sets the metrics collector for the consumer
func (c *Consumer) SetMetrics(m *metrics.QueueMetrics) {
	c.metrics = m
}

// EnsureGroup creates the consumer group if it doesn't exist
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.streamName, c.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Message is one delivered batch job
type Message struct {
	Batch *models.BatchMessage
	ID    string
	Data  string
}

// Consume returns the next message, redelivering unacknowledged messages of
// this consumer first. It returns nil when nothing arrives within the poll
// timeout.
func (c *Consumer) Consume(ctx context.Context) (*Message, error) {
	start := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.ConsumeDuration.Observe(time.Since(start).Seconds()) }()
	}

	pendingMessages, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamName, "0"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read pending messages: %w", err)
	}
	if len(pendingMessages) > 0 && len(pendingMessages[0].Messages) > 0 {
		c.logger.Debug("redelivering pending message", "id", pendingMessages[0].Messages[0].ID)
		return c.parseMessage(ctx, pendingMessages[0].Messages[0])
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamName, ">"},
		Count:    1,
		Block:    c.pollTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return c.parseMessage(ctx, streams[0].Messages[0])
}

// parseMessage decodes a stream entry. Entries that cannot be decoded are
// acknowledged so they are not redelivered forever.
func (c *Consumer) parseMessage(ctx context.Context, redisMsg redis.XMessage) (*Message, error) {
	msg, err := decodeMessage(redisMsg)
	if err != nil {
		if c.metrics != nil {
			c.metrics.MessagesFailed.Inc()
		}
		if ackErr := c.Acknowledge(ctx, redisMsg.ID); ackErr != nil {
			c.logger.Error("failed to drop undecodable message", "id", redisMsg.ID, "error", ackErr)
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.MessagesConsumed.Inc()
	}
	return msg, nil
}

func decodeMessage(redisMsg redis.XMessage) (*Message, error) {
	data, ok := redisMsg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing data field")
	}

	var batch models.BatchMessage
	if err := json.Unmarshal([]byte(data), &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch message: %w", err)
	}

	return &Message{
		ID:    redisMsg.ID,
		Batch: &batch,
		Data:  data,
	}, nil
}

// Acknowledge marks a message as processed
func (c *Consumer) Acknowledge(ctx context.Context, messageID string) error {
	_, err := c.client.XAck(ctx, c.streamName, c.consumerGroup, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// GetPendingCount returns the number of pending messages in the consumer group
func (c *Consumer) GetPendingCount(ctx context.Context) (int64, error) {
	pending, err := c.client.XPending(ctx, c.streamName, c.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
