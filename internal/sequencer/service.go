// Package sequencer assigns the single global total order. It consumes raw
// events, deduplicates producer retries by uniqueId, chains each event to the
// previous one, durably logs the batch, and only then publishes it to the
// trade topic. Publishing is at-least-once; the dispatcher dedups by
// sequenceId.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helltractor/trading-exchange-system/internal/infrastructure/messaging"
	"github.com/helltractor/trading-exchange-system/internal/trading/event"
)

const groupID = "sequence-group"

// Service runs the sequencing loop. External leader election guarantees at
// most one live instance; a second instance would corrupt the total order.
type Service struct {
	logger   *zap.Logger
	handler  *Handler
	consumer *messaging.BatchConsumer
	producer *messaging.Producer

	// counter is the last issued sequence id. Only the consumer callback
	// touches it, so no atomics are needed.
	counter int64
}

// NewService wires the sequencer onto the bus and the durable store.
func NewService(handler *Handler, kafkaConfig messaging.Config, logger *zap.Logger) *Service {
	return &Service{
		logger:   logger,
		handler:  handler,
		consumer: messaging.NewBatchConsumer(kafkaConfig, messaging.TopicSequence, groupID, logger),
		producer: messaging.NewProducer(kafkaConfig, messaging.TopicTrade, logger),
	}
}

// Run recovers the counter from the log and consumes until ctx is cancelled.
// Any sequencing or durable-write failure aborts the whole batch and returns
// an error; the caller must treat that as fatal and let the operator restart.
func (s *Service) Run(ctx context.Context) error {
	maxSequenceID, err := s.handler.Recover()
	if err != nil {
		return fmt.Errorf("recover sequencer: %w", err)
	}
	s.counter = maxSequenceID
	s.logger.Info("sequencer started", zap.Int64("sequence_id", s.counter))
	defer s.producer.Close()

	return s.consumer.Run(ctx, s.processBatch)
}

func (s *Service) processBatch(ctx context.Context, values [][]byte) error {
	batch := make([]*event.Event, 0, len(values))
	for _, value := range values {
		e, err := event.Unmarshal(value)
		if err != nil {
			// a malformed raw event cannot be sequenced; dropping it keeps
			// the chain intact, unlike aborting mid-batch
			s.logger.Warn("drop undecodable raw event", zap.Error(err))
			continue
		}
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	sequenced, err := s.handler.SequenceBatch(&s.counter, batch)
	if err != nil {
		return err
	}
	s.logger.Info("sequenced batch",
		zap.Int("in", len(batch)),
		zap.Int("out", len(sequenced)),
		zap.Int64("sequence_id", s.counter),
		zap.Duration("took", time.Since(start)))

	if len(sequenced) == 0 {
		return nil
	}
	messages := make([]any, len(sequenced))
	for i, e := range sequenced {
		messages[i] = e
	}
	if err := s.producer.Send(ctx, messages...); err != nil {
		// the batch is already durable; the dispatcher will replay it from
		// the log, but a dead producer still has to stop the process
		return fmt.Errorf("publish sequenced batch: %w", err)
	}
	return nil
}
