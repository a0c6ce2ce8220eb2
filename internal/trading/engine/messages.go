package engine

import (
	"github.com/shopspring/decimal"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// Tick is one executed fill, published for quotation aggregation.
type Tick struct {
	SequenceID   int64           `json:"sequence_id"`
	TakerOrderID int64           `json:"taker_order_id"`
	MakerOrderID int64           `json:"maker_order_id"`
	TakerIsBuyer bool            `json:"taker_is_buyer"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	CreateTime   int64           `json:"create_time"`
}

// TickMessage batches the ticks produced by one event.
type TickMessage struct {
	SequenceID int64  `json:"sequence_id"`
	CreateTime int64  `json:"create_time"`
	Ticks      []Tick `json:"ticks"`
}

// APIResultMessage is the asynchronous answer delivered back to the original
// caller, correlated by the refId it supplied.
type APIResultMessage struct {
	RefID      string       `json:"ref_id"`
	Error      string       `json:"error,omitempty"`
	Order      *model.Order `json:"order,omitempty"`
	CreateTime int64        `json:"create_time"`
}

func orderSuccess(refID string, order *model.Order, createTime int64) APIResultMessage {
	return APIResultMessage{RefID: refID, Order: order, CreateTime: createTime}
}

func createOrderFailed(refID string, createTime int64) APIResultMessage {
	return APIResultMessage{RefID: refID, Error: "insufficient funds", CreateTime: createTime}
}

func cancelOrderFailed(refID string, createTime int64) APIResultMessage {
	return APIResultMessage{RefID: refID, Error: "order not found", CreateTime: createTime}
}

// NotificationMessage is a user-facing push notification.
type NotificationMessage struct {
	CreateTime int64  `json:"create_time"`
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	Data       any    `json:"data"`
}
