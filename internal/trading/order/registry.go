// Package order tracks active orders by id and by owner. An order is active
// from creation until it is fully filled or cancelled; closed orders live on
// only as history in the durable store.
package order

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helltractor/trading-exchange-system/internal/trading/assets"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// Registry owns the active-order indices. The dispatcher goroutine is the
// only writer; the mutex exists solely so the read-only query surface can
// walk the indices from other goroutines. Queries hand out version-stable
// snapshot copies, never live orders.
type Registry struct {
	logger *zap.Logger
	assets *assets.Service

	mu           sync.RWMutex
	activeOrders map[int64]*model.Order
	userOrders   map[int64]map[int64]*model.Order
}

// NewRegistry creates an empty registry backed by the given ledger.
func NewRegistry(assetService *assets.Service, logger *zap.Logger) *Registry {
	return &Registry{
		logger:       logger,
		assets:       assetService,
		activeOrders: make(map[int64]*model.Order),
		userOrders:   make(map[int64]map[int64]*model.Order),
	}
}

// GetOrder returns the live active order, or nil. Dispatcher goroutine only.
func (r *Registry) GetOrder(orderID int64) *model.Order {
	return r.activeOrders[orderID]
}

// ActiveOrders exposes the live index for validation. Dispatcher goroutine only.
func (r *Registry) ActiveOrders() map[int64]*model.Order {
	return r.activeOrders
}

// GetOrderSnapshot returns a snapshot of an active order if it exists and is
// owned by userID. Safe from any goroutine.
func (r *Registry) GetOrderSnapshot(orderID, userID int64) *model.Order {
	r.mu.RLock()
	o := r.activeOrders[orderID]
	r.mu.RUnlock()
	if o == nil || o.UserID != userID {
		return nil
	}
	return o.Snapshot()
}

// UserOrderSnapshots returns snapshots of the user's active orders sorted by
// order id. Safe from any goroutine.
func (r *Registry) UserOrderSnapshots(userID int64) []*model.Order {
	r.mu.RLock()
	byUser := r.userOrders[userID]
	live := make([]*model.Order, 0, len(byUser))
	for _, o := range byUser {
		live = append(live, o)
	}
	r.mu.RUnlock()

	orders := make([]*model.Order, 0, len(live))
	for _, o := range live {
		orders = append(orders, o.Snapshot())
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// CreateOrder freezes the order's reservation (quote amount for BUY, base
// quantity for SELL) and registers the new order. It returns nil when the
// user lacks funds; that is an ordinary rejection, not an error.
func (r *Registry) CreateOrder(sequenceID, createTime, orderID, userID int64, direction model.Direction, price, quantity decimal.Decimal) *model.Order {
	switch direction {
	case model.DirectionBuy:
		if !r.assets.TryFreeze(userID, model.AssetUSD, price.Mul(quantity)) {
			return nil
		}
	case model.DirectionSell:
		if !r.assets.TryFreeze(userID, model.AssetBTC, quantity) {
			return nil
		}
	default:
		panic(fmt.Sprintf("order: invalid direction %q", direction))
	}
	o := &model.Order{
		ID:               orderID,
		SequenceID:       sequenceID,
		UserID:           userID,
		Direction:        direction,
		Status:           model.OrderStatusPending,
		Price:            price,
		Quantity:         quantity,
		UnfilledQuantity: quantity,
		CreateTime:       createTime,
		UpdateTime:       createTime,
	}
	r.mu.Lock()
	r.activeOrders[o.ID] = o
	byUser, ok := r.userOrders[userID]
	if !ok {
		byUser = make(map[int64]*model.Order)
		r.userOrders[userID] = byUser
	}
	byUser[o.ID] = o
	r.mu.Unlock()
	return o
}

// RemoveOrder drops a closed order from both indices. A missing entry means
// the registry and the books disagree, which is fatal.
func (r *Registry) RemoveOrder(orderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed, ok := r.activeOrders[orderID]
	if !ok {
		panic(fmt.Sprintf("order: order %d not found in active orders", orderID))
	}
	delete(r.activeOrders, orderID)
	byUser, ok := r.userOrders[removed.UserID]
	if !ok {
		panic(fmt.Sprintf("order: user %d has no order index", removed.UserID))
	}
	if _, ok := byUser[orderID]; !ok {
		panic(fmt.Sprintf("order: order %d not found in user %d orders", orderID, removed.UserID))
	}
	delete(byUser, orderID)
}
