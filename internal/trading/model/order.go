package model

import (
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Order is a limit order owned by the order registry and the match engine
// for its active lifetime. The dispatcher goroutine is the only writer; other
// goroutines must read through Snapshot, never through the live pointer.
type Order struct {
	ID         int64 `json:"id"`
	SequenceID int64 `json:"sequence_id"`
	UserID     int64 `json:"user_id"`

	Direction Direction   `json:"direction"`
	Status    OrderStatus `json:"status"`

	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnfilledQuantity decimal.Decimal `json:"unfilled_quantity"`

	CreateTime int64 `json:"create_time"`
	UpdateTime int64 `json:"update_time"`

	// version is bumped twice around every mutation so a concurrent Copy can
	// detect a torn read: an odd value means a write is in progress.
	version atomic.Int64
}

// Update applies the outcome of a match or cancel to the mutable fields.
func (o *Order) Update(unfilled decimal.Decimal, status OrderStatus, updateTime int64) {
	o.version.Add(1)
	o.UnfilledQuantity = unfilled
	o.Status = status
	o.UpdateTime = updateTime
	o.version.Add(1)
}

// Copy returns an immutable copy of the order, or nil when a concurrent
// mutation was observed during the copy.
func (o *Order) Copy() *Order {
	v := o.version.Load()
	if v%2 != 0 {
		return nil
	}
	c := &Order{
		ID:               o.ID,
		SequenceID:       o.SequenceID,
		UserID:           o.UserID,
		Direction:        o.Direction,
		Status:           o.Status,
		Price:            o.Price,
		Quantity:         o.Quantity,
		UnfilledQuantity: o.UnfilledQuantity,
		CreateTime:       o.CreateTime,
		UpdateTime:       o.UpdateTime,
	}
	if o.version.Load() != v {
		return nil
	}
	return c
}

// Snapshot retries Copy until a version-stable copy is observed.
func (o *Order) Snapshot() *Order {
	for {
		if c := o.Copy(); c != nil {
			return c
		}
	}
}

func (o *Order) String() string {
	return fmt.Sprintf("Order{id=%d, seq=%d, user=%d, %s %s x %s, unfilled=%s, status=%s}",
		o.ID, o.SequenceID, o.UserID, o.Direction, o.Price, o.Quantity, o.UnfilledQuantity, o.Status)
}
