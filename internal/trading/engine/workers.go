package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/helltractor/trading-exchange-system/internal/redis"
)

const (
	// drainBatchSize caps one worker drain.
	drainBatchSize = 1000
	// idleSleep is the polling backoff when a queue is empty.
	idleSleep = time.Millisecond
)

// Start launches the background side-effect loops. They only ever read
// immutable snapshot copies from the queues, so they need no coordination
// with the dispatcher beyond the queue hand-off.
func (s *Service) Start(ctx context.Context) {
	go s.runTickLoop(ctx)
	go s.runNotificationLoop(ctx)
	go s.runAPIResultLoop(ctx)
	go s.runOrderBookLoop(ctx)
	go s.runPersistLoop(ctx)
}

func (s *Service) runTickLoop(ctx context.Context) {
	s.logger.Info("start tick publish loop")
	for ctx.Err() == nil {
		batch := s.tickQueue.Drain(drainBatchSize)
		if len(batch) == 0 {
			time.Sleep(idleSleep)
			continue
		}
		messages := make([]any, len(batch))
		for i, m := range batch {
			messages[i] = m
		}
		if err := s.ticks.Send(ctx, messages...); err != nil {
			s.logger.Error("publish tick batch", zap.Int("count", len(batch)), zap.Error(err))
		}
	}
}

func (s *Service) runNotificationLoop(ctx context.Context) {
	s.logger.Info("start notification publish loop")
	for ctx.Err() == nil {
		batch := s.notificationQueue.Drain(drainBatchSize)
		if len(batch) == 0 {
			time.Sleep(idleSleep)
			continue
		}
		for _, n := range batch {
			if err := s.sideChannel.Publish(ctx, redis.ChannelNotification, n); err != nil {
				s.logger.Error("publish notification", zap.Error(err))
			}
		}
	}
}

func (s *Service) runAPIResultLoop(ctx context.Context) {
	s.logger.Info("start api result publish loop")
	for ctx.Err() == nil {
		batch := s.apiResultQueue.Drain(drainBatchSize)
		if len(batch) == 0 {
			time.Sleep(idleSleep)
			continue
		}
		for _, r := range batch {
			if err := s.sideChannel.Publish(ctx, redis.ChannelAPIResult, r); err != nil {
				s.logger.Error("publish api result", zap.String("ref_id", r.RefID), zap.Error(err))
			}
		}
	}
}

func (s *Service) runOrderBookLoop(ctx context.Context) {
	s.logger.Info("start order book snapshot loop")
	var lastPublished int64
	for ctx.Err() == nil {
		snapshot := s.latestOrderBook.Load()
		if snapshot == nil || snapshot.SequenceID <= lastPublished {
			time.Sleep(idleSleep)
			continue
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			s.logger.Error("marshal order book snapshot", zap.Error(err))
			lastPublished = snapshot.SequenceID
			continue
		}
		if _, err := s.sideChannel.UpdateOrderBook(ctx, snapshot.SequenceID, data); err != nil {
			s.logger.Error("update order book cache", zap.Error(err))
			continue
		}
		lastPublished = snapshot.SequenceID
	}
}

// runPersistLoop batches closed orders and match details into the durable
// store. Historical persistence shares the fail-fast policy of the core: a
// durable write failure halts the process.
func (s *Service) runPersistLoop(ctx context.Context) {
	s.logger.Info("start batch persist loop")
	for ctx.Err() == nil {
		details := s.matchDetailQueue.Drain(drainBatchSize)
		if len(details) > 0 {
			if err := s.store.InsertIgnoreMatchDetails(details); err != nil {
				s.fatalf("persist %d match details: %v", len(details), err)
			}
		}
		orders := s.closedOrderQueue.Drain(drainBatchSize)
		if len(orders) > 0 {
			if err := s.store.InsertIgnoreOrders(orders); err != nil {
				s.fatalf("persist %d closed orders: %v", len(orders), err)
			}
		}
		if len(details) == 0 && len(orders) == 0 {
			time.Sleep(idleSleep)
		}
	}
}
