// Package assets keeps the in-memory per-user asset ledger. The dispatcher
// goroutine is the only writer, so the maps need no locking; assets never
// appear or disappear, they only move between buckets, which keeps the
// per-asset global sum at zero.
package assets

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// TransferType selects the source and destination buckets of a transfer.
type TransferType int

const (
	AvailableToAvailable TransferType = iota
	AvailableToFrozen
	FrozenToAvailable
)

func (t TransferType) String() string {
	switch t {
	case AvailableToAvailable:
		return "AVAILABLE_TO_AVAILABLE"
	case AvailableToFrozen:
		return "AVAILABLE_TO_FROZEN"
	case FrozenToAvailable:
		return "FROZEN_TO_AVAILABLE"
	}
	return fmt.Sprintf("TransferType(%d)", int(t))
}

// Asset is one (user, asset type) balance split into a spendable and a
// reserved bucket.
type Asset struct {
	Available decimal.Decimal
	Frozen    decimal.Decimal
}

// Total returns available plus frozen.
func (a *Asset) Total() decimal.Decimal {
	return a.Available.Add(a.Frozen)
}

func (a *Asset) String() string {
	return fmt.Sprintf("Asset{available=%s, frozen=%s}", a.Available, a.Frozen)
}

// Service is the asset ledger.
type Service struct {
	logger *zap.Logger

	// userID -> asset type -> balance
	userAssets map[int64]map[model.Asset]*Asset
}

// NewService creates an empty ledger.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		logger:     logger,
		userAssets: make(map[int64]map[model.Asset]*Asset),
	}
}

// GetAsset returns the balance for (userID, assetID), or nil if the account
// was never touched.
func (s *Service) GetAsset(userID int64, assetID model.Asset) *Asset {
	assets, ok := s.userAssets[userID]
	if !ok {
		return nil
	}
	return assets[assetID]
}

// GetAssets returns all balances of one user.
func (s *Service) GetAssets(userID int64) map[model.Asset]*Asset {
	return s.userAssets[userID]
}

// UserAssets exposes the whole ledger for validation and debugging. Callers
// must run on the dispatcher goroutine.
func (s *Service) UserAssets() map[int64]map[model.Asset]*Asset {
	return s.userAssets
}

func (s *Service) initAsset(userID int64, assetID model.Asset) *Asset {
	assets, ok := s.userAssets[userID]
	if !ok {
		assets = make(map[model.Asset]*Asset)
		s.userAssets[userID] = assets
	}
	zero := &Asset{Available: decimal.Zero, Frozen: decimal.Zero}
	assets[assetID] = zero
	return zero
}

// TryTransfer moves amount between the buckets selected by typ. When
// checkBalance is true and the source bucket lacks funds it returns false
// and mutates nothing. A negative amount is a programming error and panics.
func (s *Service) TryTransfer(typ TransferType, fromUserID, toUserID int64, assetID model.Asset, amount decimal.Decimal, checkBalance bool) bool {
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("assets: negative transfer amount %s", amount))
	}
	from := s.GetAsset(fromUserID, assetID)
	if from == nil {
		from = s.initAsset(fromUserID, assetID)
	}
	to := s.GetAsset(toUserID, assetID)
	if to == nil {
		to = s.initAsset(toUserID, assetID)
	}
	switch typ {
	case AvailableToAvailable:
		if checkBalance && from.Available.Cmp(amount) < 0 {
			return false
		}
		from.Available = from.Available.Sub(amount)
		to.Available = to.Available.Add(amount)
	case AvailableToFrozen:
		if checkBalance && from.Available.Cmp(amount) < 0 {
			return false
		}
		from.Available = from.Available.Sub(amount)
		to.Frozen = to.Frozen.Add(amount)
	case FrozenToAvailable:
		if checkBalance && from.Frozen.Cmp(amount) < 0 {
			return false
		}
		from.Frozen = from.Frozen.Sub(amount)
		to.Available = to.Available.Add(amount)
	default:
		panic(fmt.Sprintf("assets: invalid transfer type %v", typ))
	}
	return true
}

// Transfer is the checked variant of TryTransfer: the caller asserts that
// insufficiency is impossible, so a failed transfer indicates a ledger bug
// and panics.
func (s *Service) Transfer(typ TransferType, fromUserID, toUserID int64, assetID model.Asset, amount decimal.Decimal) {
	if !s.TryTransfer(typ, fromUserID, toUserID, assetID, amount, true) {
		panic(fmt.Sprintf("assets: transfer failed: %s from user %d to user %d, asset %s, amount %s",
			typ, fromUserID, toUserID, assetID, amount))
	}
	if ce := s.logger.Check(zap.DebugLevel, "transfer assets"); ce != nil {
		ce.Write(zap.Stringer("type", typ), zap.Int64("from", fromUserID), zap.Int64("to", toUserID),
			zap.String("asset", string(assetID)), zap.String("amount", amount.String()))
	}
}

// TryFreeze reserves amount of the user's available balance for an order.
func (s *Service) TryFreeze(userID int64, assetID model.Asset, amount decimal.Decimal) bool {
	ok := s.TryTransfer(AvailableToFrozen, userID, userID, assetID, amount, true)
	if ok {
		if ce := s.logger.Check(zap.DebugLevel, "froze assets"); ce != nil {
			ce.Write(zap.Int64("user", userID), zap.String("asset", string(assetID)), zap.String("amount", amount.String()))
		}
	}
	return ok
}

// Unfreeze releases a reservation back to the available bucket. The amount
// is always covered by an earlier freeze, so failure panics.
func (s *Service) Unfreeze(userID int64, assetID model.Asset, amount decimal.Decimal) {
	if !s.TryTransfer(FrozenToAvailable, userID, userID, assetID, amount, true) {
		panic(fmt.Sprintf("assets: unfreeze failed: user %d, asset %s, amount %s", userID, assetID, amount))
	}
	if ce := s.logger.Check(zap.DebugLevel, "unfroze assets"); ce != nil {
		ce.Write(zap.Int64("user", userID), zap.String("asset", string(assetID)), zap.String("amount", amount.String()))
	}
}
