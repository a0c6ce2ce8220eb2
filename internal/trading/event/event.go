// Package event defines the sequenced event stream shared by the sequencer
// and the trading engine. Every state transition of the core enters the
// system as one of these events.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// Type tags the payload carried by an Event.
type Type string

const (
	TypeOrderRequest Type = "ORDER_REQUEST"
	TypeOrderCancel  Type = "ORDER_CANCEL"
	TypeTransfer     Type = "TRANSFER"
)

// OrderRequest asks the engine to place a limit order.
type OrderRequest struct {
	UserID    int64           `json:"user_id"`
	Direction model.Direction `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// OrderCancel asks the engine to cancel an active order owned by UserID.
type OrderCancel struct {
	UserID     int64 `json:"user_id"`
	RefOrderID int64 `json:"ref_order_id"`
}

// Transfer moves available funds between two users. When Sufficient is true
// the transfer is rejected if the source lacks funds; deposits from the debt
// account run with Sufficient=false because the debt account goes negative.
type Transfer struct {
	FromUserID int64           `json:"from_user_id"`
	ToUserID   int64           `json:"to_user_id"`
	Asset      model.Asset     `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	Sufficient bool            `json:"sufficient"`
}

// Event is the common envelope plus exactly one payload selected by Type.
// Before sequencing, SequenceID, PreviousID and CreateTime are zero; the
// sequencer assigns them and they never change afterwards. Events form a
// chain: PreviousID equals the SequenceID of the event sequenced just before.
type Event struct {
	SequenceID int64  `json:"sequence_id"`
	PreviousID int64  `json:"previous_id"`
	UniqueID   string `json:"unique_id,omitempty"`
	RefID      string `json:"ref_id,omitempty"`
	CreateTime int64  `json:"create_time"`

	Type         Type          `json:"type"`
	OrderRequest *OrderRequest `json:"order_request,omitempty"`
	OrderCancel  *OrderCancel  `json:"order_cancel,omitempty"`
	Transfer     *Transfer     `json:"transfer,omitempty"`
}

// Validate checks that exactly the payload named by Type is present.
func (e *Event) Validate() error {
	var payloads int
	if e.OrderRequest != nil {
		payloads++
	}
	if e.OrderCancel != nil {
		payloads++
	}
	if e.Transfer != nil {
		payloads++
	}
	if payloads != 1 {
		return fmt.Errorf("event must carry exactly one payload, got %d", payloads)
	}
	switch e.Type {
	case TypeOrderRequest:
		if e.OrderRequest == nil {
			return fmt.Errorf("event type %s without order_request payload", e.Type)
		}
	case TypeOrderCancel:
		if e.OrderCancel == nil {
			return fmt.Errorf("event type %s without order_cancel payload", e.Type)
		}
	case TypeTransfer:
		if e.Transfer == nil {
			return fmt.Errorf("event type %s without transfer payload", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	return nil
}

// Marshal serializes the event for the durable log and the bus.
func Marshal(e *Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal restores an event from its serialized form and validates it.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{seq=%d, prev=%d, type=%s, unique=%q}", e.SequenceID, e.PreviousID, e.Type, e.UniqueID)
}
