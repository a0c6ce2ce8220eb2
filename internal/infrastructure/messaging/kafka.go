// Package messaging wraps the ordered bus. Topics are partitioned so that
// ordering holds per topic; delivery is at-least-once, which the sequencer's
// uniqueId dedup and the dispatcher's sequenceId dedup both tolerate.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Topic names one bus topic.
type Topic string

const (
	// TopicSequence carries raw, unsequenced events from producers.
	TopicSequence Topic = "to-sequence"
	// TopicTrade carries sequenced events; the dispatcher's only input.
	TopicTrade Topic = "trade"
	// TopicTick carries fills consumed by quotation aggregation.
	TopicTick Topic = "tick"
)

// Config holds the bus connection settings.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
}

// DefaultConfig returns settings for a local single-broker deployment.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		GroupID:      "trading",
		BatchSize:    1000,
		BatchTimeout: 10 * time.Millisecond,
		MaxWait:      100 * time.Millisecond,
	}
}

// Producer publishes JSON messages to one topic.
type Producer struct {
	topic  Topic
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a producer for topic.
func NewProducer(cfg Config, topic Topic, logger *zap.Logger) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        string(topic),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// Send marshals each message to JSON and publishes the batch.
func (p *Producer) Send(ctx context.Context, messages ...any) error {
	if len(messages) == 0 {
		return nil
	}
	kafkaMessages := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		value, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message for topic %s: %w", p.topic, err)
		}
		kafkaMessages = append(kafkaMessages, kafka.Message{Value: value, Time: time.Now()})
	}
	if err := p.writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		return fmt.Errorf("write %d messages to topic %s: %w", len(kafkaMessages), p.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// BatchHandler processes one fetched batch of raw message values. Returning
// an error stops the consumer without committing the batch.
type BatchHandler func(ctx context.Context, values [][]byte) error

// BatchConsumer reads one topic in batches through a consumer group.
type BatchConsumer struct {
	topic     Topic
	reader    *kafka.Reader
	batchSize int
	maxWait   time.Duration
	logger    *zap.Logger
}

// NewBatchConsumer creates a batch consumer on topic for groupID.
func NewBatchConsumer(cfg Config, topic Topic, groupID string, logger *zap.Logger) *BatchConsumer {
	return &BatchConsumer{
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     groupID,
			Topic:       string(topic),
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     cfg.MaxWait,
			StartOffset: kafka.FirstOffset,
		}),
		batchSize: cfg.BatchSize,
		maxWait:   cfg.MaxWait,
		logger:    logger,
	}
}

// Close closes the underlying reader, unblocking a concurrent Run.
func (c *BatchConsumer) Close() error {
	return c.reader.Close()
}

// Run fetches batches and hands them to handler until ctx is cancelled or the
// handler fails. Offsets commit only after the handler returns, so redelivery
// after a crash is possible and downstream dedup is mandatory.
func (c *BatchConsumer) Run(ctx context.Context, handler BatchHandler) error {
	for {
		first, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch from topic %s: %w", c.topic, err)
		}
		batch := []kafka.Message{first}
		// gather whatever else is immediately available, up to the batch size
		gather, cancel := context.WithTimeout(ctx, c.maxWait)
		for len(batch) < c.batchSize {
			m, err := c.reader.FetchMessage(gather)
			if err != nil {
				break
			}
			batch = append(batch, m)
		}
		cancel()

		values := make([][]byte, len(batch))
		for i, m := range batch {
			values[i] = m.Value
		}
		if err := handler(ctx, values); err != nil {
			return fmt.Errorf("handle batch from topic %s: %w", c.topic, err)
		}
		if err := c.reader.CommitMessages(ctx, batch...); err != nil {
			return fmt.Errorf("commit offsets for topic %s: %w", c.topic, err)
		}
	}
}
