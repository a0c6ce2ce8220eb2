package engine

import (
	"github.com/shopspring/decimal"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// Validate runs the full consistency check over the ledger, the registry and
// the books. The matching and clearing algorithms guarantee every one of
// these properties, so a violation is a logic defect and halts the process.
// Runs after every event in debug mode.
func (s *Service) Validate() {
	s.validateAssets()
	s.validateOrders()
	s.validateMatchEngine()
}

func (s *Service) require(condition bool, format string, args ...any) {
	if !condition {
		s.fatalf("validation failed: "+format, args...)
	}
}

// validateAssets checks the sign constraints per account and the zero global
// sum per asset type.
func (s *Service) validateAssets() {
	totals := map[model.Asset]decimal.Decimal{
		model.AssetUSD: decimal.Zero,
		model.AssetBTC: decimal.Zero,
	}
	for userID, userAssets := range s.assets.UserAssets() {
		for assetID, asset := range userAssets {
			if userID == model.DebtUserID {
				s.require(asset.Available.Sign() <= 0, "debt user has positive available: %s", asset)
				s.require(asset.Frozen.Sign() == 0, "debt user has non-zero frozen: %s", asset)
			} else {
				s.require(asset.Available.Sign() >= 0, "user %d has negative available: %s", userID, asset)
				s.require(asset.Frozen.Sign() >= 0, "user %d has negative frozen: %s", userID, asset)
			}
			total, ok := totals[assetID]
			s.require(ok, "unexpected asset type %s", assetID)
			totals[assetID] = total.Add(asset.Total())
		}
	}
	for assetID, total := range totals {
		s.require(total.Sign() == 0, "non-zero global %s balance: %s", assetID, total)
	}
}

// validateOrders checks that every active order rests in its book and that
// the per-user frozen reservations sum exactly to the ledger's frozen values.
func (s *Service) validateOrders() {
	userOrderFrozen := make(map[int64]map[model.Asset]decimal.Decimal)
	addFrozen := func(userID int64, assetID model.Asset, amount decimal.Decimal) {
		byAsset, ok := userOrderFrozen[userID]
		if !ok {
			byAsset = make(map[model.Asset]decimal.Decimal)
			userOrderFrozen[userID] = byAsset
		}
		byAsset[assetID] = byAsset[assetID].Add(amount)
	}
	for _, o := range s.registry.ActiveOrders() {
		s.require(o.UnfilledQuantity.Sign() > 0, "active order has no unfilled quantity: %s", o)
		switch o.Direction {
		case model.DirectionBuy:
			s.require(s.match.BuyBook.Exists(o), "order not found in buy book: %s", o)
			addFrozen(o.UserID, model.AssetUSD, o.Price.Mul(o.UnfilledQuantity))
		case model.DirectionSell:
			s.require(s.match.SellBook.Exists(o), "order not found in sell book: %s", o)
			addFrozen(o.UserID, model.AssetBTC, o.UnfilledQuantity)
		default:
			s.require(false, "unexpected direction: %s", o)
		}
	}
	for userID, userAssets := range s.assets.UserAssets() {
		for assetID, asset := range userAssets {
			if asset.Frozen.Sign() <= 0 {
				continue
			}
			byAsset := userOrderFrozen[userID]
			s.require(byAsset != nil, "no order reservation for user %d, asset %s", userID, assetID)
			frozen, ok := byAsset[assetID]
			s.require(ok, "no order reservation for user %d, asset %s", userID, assetID)
			s.require(frozen.Equal(asset.Frozen),
				"order reservation %s does not equal ledger frozen %s for user %d, asset %s",
				frozen, asset.Frozen, userID, assetID)
			delete(byAsset, assetID)
		}
	}
	for userID, byAsset := range userOrderFrozen {
		for assetID, frozen := range byAsset {
			s.require(frozen.Sign() == 0,
				"user %d has order reservation %s for asset %s with no ledger frozen", userID, frozen, assetID)
		}
	}
}

// validateMatchEngine checks that books and registry hold exactly the same
// set of orders.
func (s *Service) validateMatchEngine() {
	remaining := make(map[int64]*model.Order, len(s.registry.ActiveOrders()))
	for id, o := range s.registry.ActiveOrders() {
		remaining[id] = o
	}
	check := func(o *model.Order) bool {
		found, ok := remaining[o.ID]
		s.require(ok && found == o, "order in book is not in active orders: %s", o)
		delete(remaining, o.ID)
		return true
	}
	s.match.BuyBook.Scan(check)
	s.match.SellBook.Scan(check)
	s.require(len(remaining) == 0, "%d active orders are missing from the books", len(remaining))
}
