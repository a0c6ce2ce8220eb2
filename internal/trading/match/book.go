package match

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// Level is one aggregated price level of an order book snapshot.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Book is one side of the order book: resting orders in price-time priority.
// The sell side iterates price ascending, the buy side price descending;
// within a price level the earlier sequence id always comes first.
type Book struct {
	direction model.Direction
	tree      *btree.BTreeG[*model.Order]
}

func lessSell(a, b *model.Order) bool {
	cmp := a.Price.Cmp(b.Price)
	if cmp != 0 {
		return cmp < 0
	}
	return a.SequenceID < b.SequenceID
}

func lessBuy(a, b *model.Order) bool {
	cmp := a.Price.Cmp(b.Price)
	if cmp != 0 {
		return cmp > 0
	}
	return a.SequenceID < b.SequenceID
}

// NewBook creates an empty book for one side.
func NewBook(direction model.Direction) *Book {
	less := lessSell
	if direction == model.DirectionBuy {
		less = lessBuy
	}
	return &Book{direction: direction, tree: btree.NewBTreeG(less)}
}

// First returns the book's best resting order, or nil when empty.
func (b *Book) First() *model.Order {
	o, ok := b.tree.Min()
	if !ok {
		return nil
	}
	return o
}

// Add inserts an order; it reports false if an equal key was already present.
func (b *Book) Add(o *model.Order) bool {
	_, replaced := b.tree.Set(o)
	return !replaced
}

// Remove deletes an order from the book and reports whether it was present.
func (b *Book) Remove(o *model.Order) bool {
	_, ok := b.tree.Delete(o)
	return ok
}

// Exists reports whether the order rests in this book.
func (b *Book) Exists(o *model.Order) bool {
	_, ok := b.tree.Get(o)
	return ok
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	return b.tree.Len()
}

// Scan iterates resting orders best-first until iter returns false.
func (b *Book) Scan(iter func(o *model.Order) bool) {
	b.tree.Scan(iter)
}

// Levels aggregates unfilled quantity by price, best price first, truncated
// to maxDepth levels.
func (b *Book) Levels(maxDepth int) []Level {
	levels := make([]Level, 0, maxDepth)
	b.tree.Scan(func(o *model.Order) bool {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Quantity = levels[n-1].Quantity.Add(o.UnfilledQuantity)
			return true
		}
		if len(levels) >= maxDepth {
			return false
		}
		levels = append(levels, Level{Price: o.Price, Quantity: o.UnfilledQuantity})
		return true
	})
	return levels
}
