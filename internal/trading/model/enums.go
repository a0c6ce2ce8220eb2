package model

// Direction is the side of an order.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the matching side.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "PENDING"
	OrderStatusPartialFilled    OrderStatus = "PARTIAL_FILLED"
	OrderStatusFullyFilled      OrderStatus = "FULLY_FILLED"
	OrderStatusPartialCancelled OrderStatus = "PARTIAL_CANCELLED"
	OrderStatusFullyCancelled   OrderStatus = "FULLY_CANCELLED"
)

// IsFinal reports whether the status is terminal. A terminal order never
// re-enters the active registry or the books.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFullyFilled, OrderStatusPartialCancelled, OrderStatusFullyCancelled:
		return true
	}
	return false
}

// Asset identifies one asset type on the ledger. The engine runs a single
// instrument pair, base against quote.
type Asset string

const (
	AssetUSD Asset = "USD"
	AssetBTC Asset = "BTC"
)

// MatchType distinguishes the two legs of one fill.
type MatchType string

const (
	MatchTypeTaker MatchType = "TAKER"
	MatchTypeMaker MatchType = "MAKER"
)

// DebtUserID is the system account mirroring every external deposit and
// withdrawal. Its available balance is always non-positive and its frozen
// balance is always zero.
const DebtUserID int64 = 1
