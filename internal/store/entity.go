package store

import (
	"github.com/shopspring/decimal"
)

// EventEntity is one row of the durable event log. The log is append-only
// and totally ordered by SequenceID.
type EventEntity struct {
	SequenceID int64  `gorm:"primaryKey;autoIncrement:false"`
	PreviousID int64  `gorm:"not null;uniqueIndex"`
	Data       string `gorm:"type:text;not null"`
	CreateTime int64  `gorm:"not null;index"`
}

// TableName implements the gorm table mapping.
func (EventEntity) TableName() string { return "events" }

// UniqueEventEntity maps a producer-supplied unique id to the sequence id it
// received. Rows are never deleted; they exist solely so an idempotent retry
// of the same raw event is dropped at sequencing time.
type UniqueEventEntity struct {
	UniqueID   string `gorm:"primaryKey;size:64"`
	SequenceID int64  `gorm:"not null"`
	CreateTime int64  `gorm:"not null"`
}

// TableName implements the gorm table mapping.
func (UniqueEventEntity) TableName() string { return "unique_events" }

// OrderEntity is the immutable history row of a closed order.
type OrderEntity struct {
	ID               int64           `gorm:"primaryKey;autoIncrement:false"`
	SequenceID       int64           `gorm:"not null;index"`
	UserID           int64           `gorm:"not null;index"`
	Direction        string          `gorm:"not null;size:8"`
	Status           string          `gorm:"not null;size:32"`
	Price            decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Quantity         decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	UnfilledQuantity decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	CreateTime       int64           `gorm:"not null"`
	UpdateTime       int64           `gorm:"not null"`
}

// TableName implements the gorm table mapping.
func (OrderEntity) TableName() string { return "orders" }

// MatchDetailEntity is one leg of one fill, written in taker/maker pairs and
// never mutated.
type MatchDetailEntity struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	SequenceID     int64           `gorm:"not null;uniqueIndex:uni_seq_order_counter,priority:1"`
	OrderID        int64           `gorm:"not null;uniqueIndex:uni_seq_order_counter,priority:2"`
	CounterOrderID int64           `gorm:"not null;uniqueIndex:uni_seq_order_counter,priority:3"`
	UserID         int64           `gorm:"not null;index"`
	CounterUserID  int64           `gorm:"not null"`
	Direction      string          `gorm:"not null;size:8"`
	Type           string          `gorm:"not null;size:8"`
	Price          decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Quantity       decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	CreateTime     int64           `gorm:"not null"`
}

// TableName implements the gorm table mapping.
func (MatchDetailEntity) TableName() string { return "match_details" }
