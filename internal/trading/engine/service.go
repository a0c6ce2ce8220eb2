// Package engine is the trading engine dispatcher: the single logical
// consumer of the sequenced event stream. It detects duplicates and gaps,
// replays missing events from the durable log, applies each event to the
// match engine, ledger and clearing exactly once, and fans side effects out
// to background publishers. Everything that could leave the in-memory state
// and the log disagreeing halts the process.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helltractor/trading-exchange-system/internal/store"
	"github.com/helltractor/trading-exchange-system/internal/trading/assets"
	"github.com/helltractor/trading-exchange-system/internal/trading/clearing"
	"github.com/helltractor/trading-exchange-system/internal/trading/event"
	"github.com/helltractor/trading-exchange-system/internal/trading/match"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
	"github.com/helltractor/trading-exchange-system/internal/trading/order"
)

// TickSink publishes tick batches to the bus. *messaging.Producer satisfies it.
type TickSink interface {
	Send(ctx context.Context, messages ...any) error
}

// SideChannel publishes notifications, API results and the order-book
// snapshot cache. *redis.Client satisfies it.
type SideChannel interface {
	Publish(ctx context.Context, channel string, v any) error
	UpdateOrderBook(ctx context.Context, sequenceID int64, snapshot []byte) (bool, error)
}

// Config tunes the dispatcher.
type Config struct {
	OrderBookDepth int
	DebugMode      bool
	FeeRate        decimal.Decimal
}

// Service is the dispatcher plus the core state it owns exclusively.
type Service struct {
	logger *zap.Logger
	cfg    Config

	assets   *assets.Service
	registry *order.Registry
	match    *match.Engine
	clearing *clearing.Service
	store    *store.Store

	ticks       TickSink
	sideChannel SideChannel

	lastSequenceID   int64
	orderBookChanged bool
	latestOrderBook  atomic.Pointer[match.OrderBookSnapshot]

	tickQueue         queue[*TickMessage]
	notificationQueue queue[NotificationMessage]
	apiResultQueue    queue[APIResultMessage]
	closedOrderQueue  queue[*model.Order]
	matchDetailQueue  queue[store.MatchDetailEntity]
}

// NewService builds the core around an initially empty ledger and book.
// State is rebuilt by replaying the durable log through ProcessMessages.
func NewService(cfg Config, s *store.Store, ticks TickSink, sideChannel SideChannel, logger *zap.Logger) *Service {
	assetService := assets.NewService(logger)
	registry := order.NewRegistry(assetService, logger)
	return &Service{
		logger:      logger,
		cfg:         cfg,
		assets:      assetService,
		registry:    registry,
		match:       match.NewEngine(),
		clearing:    clearing.NewService(assetService, registry, cfg.FeeRate, logger),
		store:       s,
		ticks:       ticks,
		sideChannel: sideChannel,
	}
}

// Assets exposes the ledger for validation and tests. Dispatcher goroutine only.
func (s *Service) Assets() *assets.Service { return s.assets }

// Registry exposes the active-order registry.
func (s *Service) Registry() *order.Registry { return s.registry }

// MatchEngine exposes the books. Dispatcher goroutine only.
func (s *Service) MatchEngine() *match.Engine { return s.match }

// LastSequenceID returns the id of the last applied event.
func (s *Service) LastSequenceID() int64 { return s.lastSequenceID }

// Recover replays the whole durable log from a cold start. The log is read
// in batches; replay ends when a batch comes back empty.
func (s *Service) Recover() error {
	total := 0
	for {
		events, err := s.store.LoadEventsAfter(s.lastSequenceID)
		if err != nil {
			return fmt.Errorf("recover from event log: %w", err)
		}
		if len(events) == 0 {
			break
		}
		s.ProcessMessages(events)
		total += len(events)
	}
	if total == 0 {
		s.logger.Info("empty event log, starting fresh")
		return nil
	}
	s.logger.Info("recovered engine state",
		zap.Int("events", total), zap.Int64("sequence_id", s.lastSequenceID))
	return nil
}

// ProcessMessages applies one delivered batch in order and refreshes the
// published order-book snapshot if any book changed.
func (s *Service) ProcessMessages(events []*event.Event) {
	for _, e := range events {
		s.ProcessEvent(e)
	}
	if s.orderBookChanged {
		s.latestOrderBook.Store(s.match.OrderBook(s.cfg.OrderBookDepth))
		s.orderBookChanged = false
	}
}

// ProcessEvent applies one sequenced event exactly once.
func (s *Service) ProcessEvent(e *event.Event) {
	// duplicate delivery from the at-least-once bus
	if e.SequenceID <= s.lastSequenceID {
		s.logger.Warn("skip duplicated event", zap.Int64("sequence_id", e.SequenceID))
		return
	}
	// a gap: events were missed, replay them from the durable log
	if e.PreviousID > s.lastSequenceID {
		events, err := s.store.LoadEventsAfter(s.lastSequenceID)
		if err != nil {
			s.fatalf("load lost events after %d: %v", s.lastSequenceID, err)
		}
		if len(events) == 0 {
			s.fatalf("event %d leaves a gap after %d and the durable log cannot fill it",
				e.SequenceID, s.lastSequenceID)
		}
		for _, le := range events {
			s.ProcessEvent(le)
		}
		return
	}
	if e.PreviousID != s.lastSequenceID {
		s.fatalf("broken event chain: expected previous id %d but got %d for event %d",
			s.lastSequenceID, e.PreviousID, e.SequenceID)
	}
	if ce := s.logger.Check(zap.DebugLevel, "process event"); ce != nil {
		ce.Write(zap.Int64("from", s.lastSequenceID), zap.Int64("to", e.SequenceID), zap.String("type", string(e.Type)))
	}
	switch e.Type {
	case event.TypeOrderRequest:
		s.createOrder(e)
	case event.TypeOrderCancel:
		s.cancelOrder(e)
	case event.TypeTransfer:
		s.transfer(e)
	default:
		s.fatalf("unable to process event type %q at sequence %d", e.Type, e.SequenceID)
	}
	s.lastSequenceID = e.SequenceID
	if s.cfg.DebugMode {
		s.Validate()
	}
}

// orderIDFor derives the order id from the sequence id and the creation
// year/month (UTC), so ids stay monotonic and collision-free across restarts.
func orderIDFor(sequenceID, createTime int64) int64 {
	t := time.UnixMilli(createTime).UTC()
	return sequenceID*10000 + int64(t.Year())*100 + int64(t.Month())
}

func (s *Service) createOrder(e *event.Event) {
	req := e.OrderRequest
	orderID := orderIDFor(e.SequenceID, e.CreateTime)
	o := s.registry.CreateOrder(e.SequenceID, e.CreateTime, orderID, req.UserID, req.Direction, req.Price, req.Quantity)
	if o == nil {
		s.logger.Warn("create order rejected: insufficient funds",
			zap.Int64("user", req.UserID), zap.Int64("sequence_id", e.SequenceID))
		s.apiResultQueue.Push(createOrderFailed(e.RefID, e.CreateTime))
		return
	}
	result := s.match.ProcessOrder(e.SequenceID, o)
	s.clearing.ClearMatchResult(result)
	s.apiResultQueue.Push(orderSuccess(e.RefID, o.Snapshot(), e.CreateTime))
	s.orderBookChanged = true

	notifications := []NotificationMessage{
		{CreateTime: e.CreateTime, Type: "order_matched", UserID: o.UserID, Data: o.Snapshot()},
	}
	if len(result.Details) == 0 {
		return
	}
	var closedOrders []*model.Order
	matchDetails := make([]store.MatchDetailEntity, 0, 2*len(result.Details))
	ticks := make([]Tick, 0, len(result.Details))
	if result.TakerOrder.Status.IsFinal() {
		closedOrders = append(closedOrders, result.TakerOrder.Snapshot())
	}
	for _, detail := range result.Details {
		maker := detail.MakerOrder
		notifications = append(notifications, NotificationMessage{
			CreateTime: e.CreateTime, Type: "order_matched", UserID: maker.UserID, Data: maker.Snapshot(),
		})
		if maker.Status.IsFinal() {
			closedOrders = append(closedOrders, maker.Snapshot())
		}
		matchDetails = append(matchDetails,
			matchDetailEntity(e.SequenceID, e.CreateTime, detail, true),
			matchDetailEntity(e.SequenceID, e.CreateTime, detail, false))
		ticks = append(ticks, Tick{
			SequenceID:   e.SequenceID,
			TakerOrderID: detail.TakerOrder.ID,
			MakerOrderID: maker.ID,
			TakerIsBuyer: detail.TakerOrder.Direction == model.DirectionBuy,
			Price:        detail.Price,
			Quantity:     detail.Quantity,
			CreateTime:   e.CreateTime,
		})
	}
	s.closedOrderQueue.Push(closedOrders...)
	s.matchDetailQueue.Push(matchDetails...)
	s.tickQueue.Push(&TickMessage{SequenceID: e.SequenceID, CreateTime: e.CreateTime, Ticks: ticks})
	s.notificationQueue.Push(notifications...)
}

func (s *Service) cancelOrder(e *event.Event) {
	req := e.OrderCancel
	o := s.registry.GetOrder(req.RefOrderID)
	if o == nil || o.UserID != req.UserID {
		// unknown or foreign order: an ordinary rejection
		s.apiResultQueue.Push(cancelOrderFailed(e.RefID, e.CreateTime))
		return
	}
	s.match.Cancel(e.CreateTime, o)
	s.clearing.ClearCancelOrder(o)
	s.orderBookChanged = true
	snapshot := o.Snapshot()
	s.closedOrderQueue.Push(snapshot)
	s.apiResultQueue.Push(orderSuccess(e.RefID, snapshot, e.CreateTime))
	s.notificationQueue.Push(NotificationMessage{
		CreateTime: e.CreateTime, Type: "order_cancelled", UserID: o.UserID, Data: snapshot,
	})
}

func (s *Service) transfer(e *event.Event) {
	req := e.Transfer
	ok := s.assets.TryTransfer(assets.AvailableToAvailable,
		req.FromUserID, req.ToUserID, req.Asset, req.Amount, req.Sufficient)
	if !ok {
		s.logger.Warn("transfer rejected: insufficient funds",
			zap.Int64("from", req.FromUserID), zap.Int64("to", req.ToUserID),
			zap.String("asset", string(req.Asset)), zap.String("amount", req.Amount.String()))
	}
}

func matchDetailEntity(sequenceID, createTime int64, detail match.Detail, forTaker bool) store.MatchDetailEntity {
	taker, maker := detail.TakerOrder, detail.MakerOrder
	row := store.MatchDetailEntity{
		SequenceID: sequenceID,
		Price:      detail.Price,
		Quantity:   detail.Quantity,
		CreateTime: createTime,
	}
	if forTaker {
		row.OrderID = taker.ID
		row.CounterOrderID = maker.ID
		row.UserID = taker.UserID
		row.CounterUserID = maker.UserID
		row.Direction = string(taker.Direction)
		row.Type = string(model.MatchTypeTaker)
	} else {
		row.OrderID = maker.ID
		row.CounterOrderID = taker.ID
		row.UserID = maker.UserID
		row.CounterUserID = taker.UserID
		row.Direction = string(maker.Direction)
		row.Type = string(model.MatchTypeMaker)
	}
	return row
}

// fatalf logs and halts: continuing after any of these conditions risks the
// in-memory ledger and the durable log drifting apart.
func (s *Service) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Error("trading engine fatal error", zap.String("reason", msg))
	panic("engine: " + msg)
}
