// Package clearing turns match and cancel outcomes into ledger transfers and
// registry removals. Settlement always releases funds frozen at order
// creation, so every transfer here uses the frozen bucket as its source.
package clearing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helltractor/trading-exchange-system/internal/trading/assets"
	"github.com/helltractor/trading-exchange-system/internal/trading/match"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
	"github.com/helltractor/trading-exchange-system/internal/trading/order"
)

// Service settles match results against the asset ledger.
type Service struct {
	logger   *zap.Logger
	assets   *assets.Service
	registry *order.Registry

	// feeRate is carried for the settlement schema but not charged.
	feeRate decimal.Decimal
}

// NewService creates a clearing service.
func NewService(assetService *assets.Service, registry *order.Registry, feeRate decimal.Decimal, logger *zap.Logger) *Service {
	return &Service{
		logger:   logger,
		assets:   assetService,
		registry: registry,
		feeRate:  feeRate,
	}
}

// ClearMatchResult settles every fill of one match result: quote moves from
// the buyer's frozen funds to the seller, base moves from the seller's frozen
// funds to the buyer. A BUY taker that crossed below its own limit gets the
// overpaid quote reservation unfrozen. Fully filled orders leave the registry.
func (s *Service) ClearMatchResult(result *match.Result) {
	taker := result.TakerOrder
	switch taker.Direction {
	case model.DirectionBuy:
		for _, detail := range result.Details {
			maker := detail.MakerOrder
			matched := detail.Quantity
			if taker.Price.Cmp(maker.Price) > 0 {
				// bought below the limit, release the unused quote reservation
				unfreezeQuote := taker.Price.Sub(maker.Price).Mul(matched)
				if ce := s.logger.Check(zap.DebugLevel, "unfreeze extra quote back to taker"); ce != nil {
					ce.Write(zap.String("amount", unfreezeQuote.String()), zap.Int64("user", taker.UserID))
				}
				s.assets.Unfreeze(taker.UserID, model.AssetUSD, unfreezeQuote)
			}
			s.assets.Transfer(assets.FrozenToAvailable, taker.UserID, maker.UserID, model.AssetUSD, maker.Price.Mul(matched))
			s.assets.Transfer(assets.FrozenToAvailable, maker.UserID, taker.UserID, model.AssetBTC, matched)
			if maker.UnfilledQuantity.Sign() == 0 {
				s.registry.RemoveOrder(maker.ID)
			}
		}
	case model.DirectionSell:
		for _, detail := range result.Details {
			maker := detail.MakerOrder
			matched := detail.Quantity
			s.assets.Transfer(assets.FrozenToAvailable, taker.UserID, maker.UserID, model.AssetBTC, matched)
			s.assets.Transfer(assets.FrozenToAvailable, maker.UserID, taker.UserID, model.AssetUSD, maker.Price.Mul(matched))
			if maker.UnfilledQuantity.Sign() == 0 {
				s.registry.RemoveOrder(maker.ID)
			}
		}
	default:
		panic(fmt.Sprintf("clearing: invalid direction %q", taker.Direction))
	}
	if taker.UnfilledQuantity.Sign() == 0 {
		s.registry.RemoveOrder(taker.ID)
	}
}

// ClearCancelOrder releases the cancelled order's remaining reservation and
// drops it from the registry.
func (s *Service) ClearCancelOrder(o *model.Order) {
	switch o.Direction {
	case model.DirectionBuy:
		s.assets.Unfreeze(o.UserID, model.AssetUSD, o.Price.Mul(o.UnfilledQuantity))
	case model.DirectionSell:
		s.assets.Unfreeze(o.UserID, model.AssetBTC, o.UnfilledQuantity)
	default:
		panic(fmt.Sprintf("clearing: invalid direction %q", o.Direction))
	}
	s.registry.RemoveOrder(o.ID)
}
