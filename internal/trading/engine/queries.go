package engine

import (
	"github.com/helltractor/trading-exchange-system/internal/trading/match"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// The read-only query surface consumed by the excluded API layer. Everything
// here returns snapshots; nothing blocks the dispatcher.

// GetActiveOrders returns snapshots of the user's active orders.
func (s *Service) GetActiveOrders(userID int64) []*model.Order {
	return s.registry.UserOrderSnapshots(userID)
}

// GetActiveOrder returns a snapshot of one active order owned by userID,
// or nil.
func (s *Service) GetActiveOrder(orderID, userID int64) *model.Order {
	return s.registry.GetOrderSnapshot(orderID, userID)
}

// OrderBook returns the most recently published aggregated snapshot, or nil
// before the first book change.
func (s *Service) OrderBook() *match.OrderBookSnapshot {
	return s.latestOrderBook.Load()
}
