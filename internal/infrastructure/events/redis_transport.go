package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConsumerConfig configures the Redis Streams consumer.
type StreamConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	BatchMax int64
	Block    time.Duration
}

// StreamConsumer consumes envelopes from Redis Streams using a consumer
// group. Redis guarantees per-stream ordering; an entry stays in the pending
// list until XACK, which gives at-least-once delivery with explicit commit.
type StreamConsumer struct {
	client *redis.Client
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates the consumer and ensures the group exists on
// every stream.
func NewStreamConsumer(ctx context.Context, client *redis.Client, config StreamConsumerConfig, logger *zap.Logger) (*StreamConsumer, error) {
	if config.BatchMax <= 0 {
		config.BatchMax = 16
	}
	if config.Block <= 0 {
		config.Block = 2 * time.Second
	}

	for _, stream := range config.Streams {
		err := client.XGroupCreateMkStream(ctx, stream, config.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, err
		}
	}

	return &StreamConsumer{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Fetch returns the next batch of messages across the subscribed streams.
// Pending entries always come back first: both entries left by a crashed
// incarnation and entries this process fetched but did not acknowledge,
// which is how a failed envelope gets retried in order.
func (c *StreamConsumer) Fetch(ctx context.Context) ([]Message, error) {
	// Negative block makes XREADGROUP return immediately; zero would
	// block forever in go-redis.
	msgs, err := c.read(ctx, "0", -1)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs, nil
	}
	return c.read(ctx, ">", c.config.Block)
}

func (c *StreamConsumer) read(ctx context.Context, cursor string, block time.Duration) ([]Message, error) {
	streams := make([]string, 0, len(c.config.Streams)*2)
	streams = append(streams, c.config.Streams...)
	for range c.config.Streams {
		streams = append(streams, cursor)
	}

	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		Streams:  streams,
		Count:    c.config.BatchMax,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			out = append(out, Message{
				Stream:     stream.Stream,
				ID:         entry.ID,
				Envelope:   envelopeFromValues(stream.Stream, entry.Values),
				ReceivedAt: now,
			})
		}
	}
	return out, nil
}

// Ack commits a message by removing it from the pending entries list.
func (c *StreamConsumer) Ack(ctx context.Context, msg Message) error {
	return c.client.XAck(ctx, msg.Stream, c.config.Group, msg.ID).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (c *StreamConsumer) Close() error {
	return nil
}

func envelopeFromValues(stream string, values map[string]interface{}) Envelope {
	env := Envelope{Topic: stream}
	if raw, ok := values["payload"].(string); ok {
		env.Payload = json.RawMessage(raw)
	}
	if ts, ok := values["timestamp"].(string); ok {
		env.Timestamp = ts
	}
	return env
}

// StreamPublisher appends envelopes to the stream named after their topic.
type StreamPublisher struct {
	client *redis.Client
}

// NewStreamPublisher creates a publisher over the given client.
func NewStreamPublisher(client *redis.Client) *StreamPublisher {
	return &StreamPublisher{client: client}
}

// Publish appends the envelope and returns the assigned stream entry ID.
func (p *StreamPublisher) Publish(ctx context.Context, envelope Envelope) (string, error) {
	values := map[string]interface{}{
		"payload": string(envelope.Payload),
	}
	if envelope.Timestamp != "" {
		values["timestamp"] = envelope.Timestamp
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: envelope.Topic,
		Values: values,
	}).Result()
}
