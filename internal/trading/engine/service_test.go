package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/helltractor/trading-exchange-system/internal/store"
	"github.com/helltractor/trading-exchange-system/internal/trading/event"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

const (
	userA int64 = 100
	userB int64 = 200
	userC int64 = 300

	// 2024-01-15T00:00:00Z
	baseTime int64 = 1705276800000
)

type fixture struct {
	t     *testing.T
	svc   *Service
	store *store.Store
	seq   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "engine.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, zap.NewNop())
	require.NoError(t, s.AutoMigrate())
	return &fixture{
		t:     t,
		svc:   newService(s),
		store: s,
	}
}

func newService(s *store.Store) *Service {
	return NewService(Config{
		OrderBookDepth: 10,
		DebugMode:      true,
		FeeRate:        decimal.Zero,
	}, s, nil, nil, zap.NewNop())
}

// next builds the next event in the chain and persists it to the durable log
// the way the sequencer would, without applying it.
func (f *fixture) next(e *event.Event) *event.Event {
	f.t.Helper()
	e.PreviousID = f.seq
	f.seq++
	e.SequenceID = f.seq
	e.CreateTime = baseTime + f.seq

	data, err := event.Marshal(e)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Transaction(func(tx *gorm.DB) error {
		return f.store.AppendEvents(tx, []store.EventEntity{{
			SequenceID: e.SequenceID,
			PreviousID: e.PreviousID,
			Data:       string(data),
			CreateTime: e.CreateTime,
		}}, nil)
	}))
	return e
}

func (f *fixture) apply(e *event.Event) *event.Event {
	f.svc.ProcessMessages([]*event.Event{e})
	return e
}

func (f *fixture) deposit(userID int64, assetID model.Asset, amount string) {
	f.apply(f.next(&event.Event{
		Type: event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID,
			ToUserID:   userID,
			Asset:      assetID,
			Amount:     decimal.RequireFromString(amount),
			Sufficient: false,
		},
	}))
}

func (f *fixture) placeOrder(userID int64, direction model.Direction, price, quantity string) int64 {
	e := f.apply(f.next(&event.Event{
		Type: event.TypeOrderRequest,
		OrderRequest: &event.OrderRequest{
			UserID:    userID,
			Direction: direction,
			Price:     decimal.RequireFromString(price),
			Quantity:  decimal.RequireFromString(quantity),
		},
	}))
	return orderIDFor(e.SequenceID, e.CreateTime)
}

func (f *fixture) cancelOrder(userID, orderID int64) {
	f.apply(f.next(&event.Event{
		Type:        event.TypeOrderCancel,
		OrderCancel: &event.OrderCancel{UserID: userID, RefOrderID: orderID},
	}))
}

func TestOrderIDDerivation(t *testing.T) {
	ts := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, int64(42*10000+202401), orderIDFor(42, ts))

	ts = time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC).UnixMilli()
	assert.Equal(t, int64(7*10000+202512), orderIDFor(7, ts))
}

func TestDepositsAndRestingOrders(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "58000")
	f.deposit(userC, model.AssetBTC, "5.5")

	f.placeOrder(userA, model.DirectionBuy, "2207.33", "1.2")
	f.placeOrder(userC, model.DirectionSell, "2215.6", "0.8")
	f.placeOrder(userC, model.DirectionSell, "2921.1", "0.3")

	// no crossing price, nothing matched
	assert.True(t, f.svc.MatchEngine().MarketPrice.IsZero())
	assert.Equal(t, 1, f.svc.MatchEngine().BuyBook.Len())
	assert.Equal(t, 2, f.svc.MatchEngine().SellBook.Len())

	usd := f.svc.Assets().GetAsset(userA, model.AssetUSD)
	assert.True(t, usd.Frozen.Equal(decimal.RequireFromString("2648.796")))
	btc := f.svc.Assets().GetAsset(userC, model.AssetBTC)
	assert.True(t, btc.Frozen.Equal(decimal.RequireFromString("1.1")))
	assert.True(t, btc.Available.Equal(decimal.RequireFromString("4.4")))
}

func TestMatchedOrderSettles(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "10000")
	f.deposit(userB, model.AssetBTC, "2")

	f.placeOrder(userB, model.DirectionSell, "2000", "1")
	f.placeOrder(userA, model.DirectionBuy, "2000", "1")

	assert.True(t, f.svc.MatchEngine().MarketPrice.Equal(decimal.NewFromInt(2000)))
	assert.True(t, f.svc.Assets().GetAsset(userA, model.AssetBTC).Available.Equal(decimal.NewFromInt(1)))
	assert.True(t, f.svc.Assets().GetAsset(userB, model.AssetUSD).Available.Equal(decimal.NewFromInt(2000)))
	assert.Empty(t, f.svc.Registry().ActiveOrders())

	// the fill produced one tick message and two persistable detail legs
	ticks := f.svc.tickQueue.Drain(10)
	require.Len(t, ticks, 1)
	require.Len(t, ticks[0].Ticks, 1)
	assert.True(t, ticks[0].Ticks[0].Price.Equal(decimal.NewFromInt(2000)))
	assert.True(t, ticks[0].Ticks[0].TakerIsBuyer)

	details := f.svc.matchDetailQueue.Drain(10)
	assert.Len(t, details, 2)
	closed := f.svc.closedOrderQueue.Drain(10)
	assert.Len(t, closed, 2)
}

func TestInsufficientFundsRejection(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "100")

	f.placeOrder(userA, model.DirectionBuy, "2000", "1")

	assert.Empty(t, f.svc.Registry().ActiveOrders())
	assert.Equal(t, 0, f.svc.MatchEngine().BuyBook.Len())

	results := f.svc.apiResultQueue.Drain(10)
	require.Len(t, results, 1)
	assert.Equal(t, "insufficient funds", results[0].Error)
	assert.Nil(t, results[0].Order)
}

func TestCancelReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "10000")

	orderID := f.placeOrder(userA, model.DirectionBuy, "2000", "2")
	usd := f.svc.Assets().GetAsset(userA, model.AssetUSD)
	require.True(t, usd.Frozen.Equal(decimal.NewFromInt(4000)))

	f.cancelOrder(userA, orderID)

	assert.True(t, usd.Frozen.IsZero())
	assert.True(t, usd.Available.Equal(decimal.NewFromInt(10000)))
	assert.Nil(t, f.svc.Registry().GetOrder(orderID))
	assert.Equal(t, 0, f.svc.MatchEngine().BuyBook.Len())
	assert.Empty(t, f.svc.GetActiveOrders(userA))
}

func TestCancelUnknownOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "10000")
	f.cancelOrder(userA, 424242)

	results := f.svc.apiResultQueue.Drain(10)
	require.Len(t, results, 1)
	assert.Equal(t, "order not found", results[0].Error)
	// the event still advances the chain
	assert.Equal(t, f.seq, f.svc.LastSequenceID())
}

func TestCancelForeignOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "10000")
	orderID := f.placeOrder(userA, model.DirectionBuy, "2000", "1")
	f.svc.apiResultQueue.Drain(10)

	f.cancelOrder(userB, orderID)

	results := f.svc.apiResultQueue.Drain(10)
	require.Len(t, results, 1)
	assert.Equal(t, "order not found", results[0].Error)
	assert.NotNil(t, f.svc.Registry().GetOrder(orderID))
}

func TestDuplicateEventIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "1000")
	e := f.next(&event.Event{
		Type: event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID, ToUserID: userA,
			Asset: model.AssetUSD, Amount: decimal.NewFromInt(500),
		},
	})
	f.apply(e)
	require.True(t, f.svc.Assets().GetAsset(userA, model.AssetUSD).Available.Equal(decimal.NewFromInt(1500)))

	// at-least-once redelivery of the same event
	f.apply(e)
	assert.True(t, f.svc.Assets().GetAsset(userA, model.AssetUSD).Available.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, e.SequenceID, f.svc.LastSequenceID())
}

func TestGapReplaysFromDurableLog(t *testing.T) {
	f := newFixture(t)
	f.apply(f.next(&event.Event{
		Type: event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID, ToUserID: userA,
			Asset: model.AssetUSD, Amount: decimal.NewFromInt(1000),
		},
	}))
	// these two land in the log but are never delivered directly
	f.next(&event.Event{
		Type: event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID, ToUserID: userA,
			Asset: model.AssetUSD, Amount: decimal.NewFromInt(200),
		},
	})
	skipped := f.next(&event.Event{
		Type: event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID, ToUserID: userA,
			Asset: model.AssetUSD, Amount: decimal.NewFromInt(300),
		},
	})

	// delivering the third event exposes the gap; the log fills it
	f.apply(skipped)

	assert.Equal(t, skipped.SequenceID, f.svc.LastSequenceID())
	assert.True(t, f.svc.Assets().GetAsset(userA, model.AssetUSD).Available.Equal(decimal.NewFromInt(1500)))
}

func TestUnfillableGapHalts(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "1000")

	// an event claiming predecessors that were never durably logged
	phantom := &event.Event{
		SequenceID: f.seq + 5,
		PreviousID: f.seq + 4,
		CreateTime: baseTime,
		Type:       event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID, ToUserID: userA,
			Asset: model.AssetUSD, Amount: decimal.NewFromInt(1),
		},
	}
	assert.Panics(t, func() { f.apply(phantom) })
}

func TestBrokenChainHalts(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "1000")
	f.deposit(userA, model.AssetUSD, "1000")

	// sequence id is next in line but the previous id does not chain
	broken := &event.Event{
		SequenceID: f.seq + 1,
		PreviousID: f.seq - 1,
		CreateTime: baseTime,
		Type:       event.TypeTransfer,
		Transfer: &event.Transfer{
			FromUserID: model.DebtUserID, ToUserID: userA,
			Asset: model.AssetUSD, Amount: decimal.NewFromInt(1),
		},
	}
	assert.Panics(t, func() { f.apply(broken) })
}

func TestRecoverRebuildsIdenticalState(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "20000")
	f.deposit(userB, model.AssetBTC, "3")
	f.placeOrder(userB, model.DirectionSell, "1950", "0.7")
	f.placeOrder(userA, model.DirectionBuy, "2000", "1.5")
	buyID := f.placeOrder(userA, model.DirectionBuy, "1800", "1")
	f.placeOrder(userB, model.DirectionSell, "2000", "0.8")
	f.cancelOrder(userA, buyID)

	replica := newService(f.store)
	require.NoError(t, replica.Recover())

	assert.Equal(t, f.svc.LastSequenceID(), replica.LastSequenceID())
	assert.True(t, f.svc.MatchEngine().MarketPrice.Equal(replica.MatchEngine().MarketPrice))
	assert.Equal(t, len(f.svc.Registry().ActiveOrders()), len(replica.Registry().ActiveOrders()))
	for _, userID := range []int64{model.DebtUserID, userA, userB} {
		for _, assetID := range []model.Asset{model.AssetUSD, model.AssetBTC} {
			live := f.svc.Assets().GetAsset(userID, assetID)
			rebuilt := replica.Assets().GetAsset(userID, assetID)
			if live == nil {
				assert.Nil(t, rebuilt)
				continue
			}
			require.NotNil(t, rebuilt, "user %d asset %s", userID, assetID)
			assert.True(t, live.Available.Equal(rebuilt.Available))
			assert.True(t, live.Frozen.Equal(rebuilt.Frozen))
		}
	}
	replica.Validate()
}

func TestOrderBookSnapshotRefreshes(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "10000")
	require.Nil(t, f.svc.OrderBook())

	f.placeOrder(userA, model.DirectionBuy, "2000", "1")

	snap := f.svc.OrderBook()
	require.NotNil(t, snap)
	require.Len(t, snap.Buy, 1)
	assert.True(t, snap.Buy[0].Price.Equal(decimal.NewFromInt(2000)))
}

func TestQuerySurface(t *testing.T) {
	f := newFixture(t)
	f.deposit(userA, model.AssetUSD, "10000")
	orderID := f.placeOrder(userA, model.DirectionBuy, "2000", "1")

	orders := f.svc.GetActiveOrders(userA)
	require.Len(t, orders, 1)
	assert.Equal(t, orderID, orders[0].ID)

	o := f.svc.GetActiveOrder(orderID, userA)
	require.NotNil(t, o)
	assert.Nil(t, f.svc.GetActiveOrder(orderID, userB))
}
