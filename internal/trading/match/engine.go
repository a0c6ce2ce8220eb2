// Package match implements the price-time-priority matching engine for one
// instrument pair. It runs exclusively on the dispatcher goroutine.
package match

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// Detail is one fill produced while matching a taker order. The trade price
// is always the maker's resting price.
type Detail struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	TakerOrder *model.Order
	MakerOrder *model.Order
}

// Result is the outcome of matching one taker order.
type Result struct {
	TakerOrder *model.Order
	Details    []Detail
}

func (r *Result) add(price, quantity decimal.Decimal, maker *model.Order) {
	r.Details = append(r.Details, Detail{
		Price:      price,
		Quantity:   quantity,
		TakerOrder: r.TakerOrder,
		MakerOrder: maker,
	})
}

// Engine holds the two books and the last trade price.
type Engine struct {
	BuyBook  *Book
	SellBook *Book

	// MarketPrice is the price of the most recent fill, zero before any trade.
	MarketPrice decimal.Decimal

	sequenceID int64
}

// NewEngine creates an empty match engine.
func NewEngine() *Engine {
	return &Engine{
		BuyBook:     NewBook(model.DirectionBuy),
		SellBook:    NewBook(model.DirectionSell),
		MarketPrice: decimal.Zero,
	}
}

// ProcessOrder matches the taker against the opposite book and rests any
// unfilled remainder on its own book.
func (e *Engine) ProcessOrder(sequenceID int64, takerOrder *model.Order) *Result {
	switch takerOrder.Direction {
	case model.DirectionBuy:
		return e.processOrder(sequenceID, takerOrder, e.SellBook, e.BuyBook)
	case model.DirectionSell:
		return e.processOrder(sequenceID, takerOrder, e.BuyBook, e.SellBook)
	default:
		panic(fmt.Sprintf("match: invalid direction %q", takerOrder.Direction))
	}
}

func (e *Engine) processOrder(sequenceID int64, takerOrder *model.Order, makerBook, anotherBook *Book) *Result {
	e.sequenceID = sequenceID
	ts := takerOrder.CreateTime
	result := &Result{TakerOrder: takerOrder}
	takerUnfilled := takerOrder.Quantity
	for {
		makerOrder := makerBook.First()
		if makerOrder == nil {
			break
		}
		if takerOrder.Direction == model.DirectionBuy && makerOrder.Price.Cmp(takerOrder.Price) > 0 {
			// best ask above the buy limit, no crossing price
			break
		}
		if takerOrder.Direction == model.DirectionSell && makerOrder.Price.Cmp(takerOrder.Price) < 0 {
			// best bid below the sell limit, no crossing price
			break
		}
		e.MarketPrice = makerOrder.Price
		matched := decimal.Min(takerUnfilled, makerOrder.UnfilledQuantity)
		result.add(makerOrder.Price, matched, makerOrder)

		takerUnfilled = takerUnfilled.Sub(matched)
		makerUnfilled := makerOrder.UnfilledQuantity.Sub(matched)
		if makerUnfilled.Sign() == 0 {
			makerOrder.Update(makerUnfilled, model.OrderStatusFullyFilled, ts)
			makerBook.Remove(makerOrder)
		} else {
			makerOrder.Update(makerUnfilled, model.OrderStatusPartialFilled, ts)
		}
		if takerUnfilled.Sign() == 0 {
			takerOrder.Update(takerUnfilled, model.OrderStatusFullyFilled, ts)
			break
		}
	}
	if takerUnfilled.Sign() > 0 {
		status := model.OrderStatusPartialFilled
		if takerUnfilled.Equal(takerOrder.Quantity) {
			status = model.OrderStatusPending
		}
		takerOrder.Update(takerUnfilled, status, ts)
		anotherBook.Add(takerOrder)
	}
	return result
}

// Cancel removes an active order from its book. An order missing from its
// book means the registry and the engine disagree, which is fatal.
func (e *Engine) Cancel(ts int64, o *model.Order) {
	book := e.SellBook
	if o.Direction == model.DirectionBuy {
		book = e.BuyBook
	}
	if !book.Remove(o) {
		panic(fmt.Sprintf("match: order not found in %s book: %s", o.Direction, o))
	}
	status := model.OrderStatusPartialCancelled
	if o.UnfilledQuantity.Equal(o.Quantity) {
		status = model.OrderStatusFullyCancelled
	}
	o.Update(o.UnfilledQuantity, status, ts)
}

// OrderBookSnapshot is an immutable aggregated view of both books, handed to
// background publishers and the read-only query surface.
type OrderBookSnapshot struct {
	SequenceID int64           `json:"sequence_id"`
	Price      decimal.Decimal `json:"price"`
	Buy        []Level         `json:"buy"`
	Sell       []Level         `json:"sell"`
}

// OrderBook aggregates both books to maxDepth levels.
func (e *Engine) OrderBook(maxDepth int) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		SequenceID: e.sequenceID,
		Price:      e.MarketPrice,
		Buy:        e.BuyBook.Levels(maxDepth),
		Sell:       e.SellBook.Levels(maxDepth),
	}
}
