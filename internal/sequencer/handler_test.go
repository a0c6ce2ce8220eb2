package sequencer

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/helltractor/trading-exchange-system/internal/store"
	"github.com/helltractor/trading-exchange-system/internal/trading/event"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sequencer.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, zap.NewNop())
	require.NoError(t, s.AutoMigrate())
	return s
}

func rawOrderEvent(uniqueID string) *event.Event {
	return &event.Event{
		UniqueID: uniqueID,
		RefID:    uuid.NewString(),
		Type:     event.TypeOrderRequest,
		OrderRequest: &event.OrderRequest{
			UserID:    100,
			Direction: model.DirectionBuy,
			Price:     decimal.RequireFromString("2000"),
			Quantity:  decimal.RequireFromString("1"),
		},
	}
}

func TestSequenceBatchAssignsChainedIDs(t *testing.T) {
	h := NewHandler(newTestStore(t), zap.NewNop())
	counter, err := h.Recover()
	require.NoError(t, err)
	require.Zero(t, counter)

	batch := []*event.Event{rawOrderEvent("a"), rawOrderEvent("b"), rawOrderEvent("c")}
	sequenced, err := h.SequenceBatch(&counter, batch)
	require.NoError(t, err)
	require.Len(t, sequenced, 3)
	assert.Equal(t, int64(3), counter)

	for i, e := range sequenced {
		assert.Equal(t, int64(i+1), e.SequenceID)
		assert.Equal(t, int64(i), e.PreviousID)
		assert.NotZero(t, e.CreateTime)
	}
	// the whole batch shares one timestamp
	assert.Equal(t, sequenced[0].CreateTime, sequenced[2].CreateTime)
}

func TestSequenceBatchDedupsWithinBatch(t *testing.T) {
	h := NewHandler(newTestStore(t), zap.NewNop())
	counter := int64(0)

	sequenced, err := h.SequenceBatch(&counter, []*event.Event{
		rawOrderEvent("same"), rawOrderEvent("same"), rawOrderEvent("other"),
	})
	require.NoError(t, err)
	require.Len(t, sequenced, 2)
	assert.Equal(t, "same", sequenced[0].UniqueID)
	assert.Equal(t, "other", sequenced[1].UniqueID)
	assert.Equal(t, int64(2), counter)
}

func TestSequenceBatchDedupsAcrossBatches(t *testing.T) {
	h := NewHandler(newTestStore(t), zap.NewNop())
	counter := int64(0)

	_, err := h.SequenceBatch(&counter, []*event.Event{rawOrderEvent("retry-key")})
	require.NoError(t, err)

	// the producer retries the same logical event later
	sequenced, err := h.SequenceBatch(&counter, []*event.Event{rawOrderEvent("retry-key"), rawOrderEvent("fresh")})
	require.NoError(t, err)
	require.Len(t, sequenced, 1)
	assert.Equal(t, "fresh", sequenced[0].UniqueID)
	assert.Equal(t, int64(2), counter)
}

func TestSequenceBatchDropsMalformedEvents(t *testing.T) {
	h := NewHandler(newTestStore(t), zap.NewNop())
	counter := int64(0)

	sequenced, err := h.SequenceBatch(&counter, []*event.Event{
		{Type: event.TypeOrderRequest}, // no payload
		rawOrderEvent("good"),
	})
	require.NoError(t, err)
	require.Len(t, sequenced, 1)
	assert.Equal(t, int64(1), sequenced[0].SequenceID)
}

func TestRecoverResumesCounterAndClock(t *testing.T) {
	s := newTestStore(t)
	h := NewHandler(s, zap.NewNop())
	counter, err := h.Recover()
	require.NoError(t, err)

	_, err = h.SequenceBatch(&counter, []*event.Event{rawOrderEvent("a"), rawOrderEvent("b")})
	require.NoError(t, err)

	// a restarted handler on the same store continues the chain
	restarted := NewHandler(s, zap.NewNop())
	counter2, err := restarted.Recover()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter2)

	sequenced, err := restarted.SequenceBatch(&counter2, []*event.Event{rawOrderEvent("c")})
	require.NoError(t, err)
	require.Len(t, sequenced, 1)
	assert.Equal(t, int64(3), sequenced[0].SequenceID)
	assert.Equal(t, int64(2), sequenced[0].PreviousID)
}

func TestTimestampsNeverRegress(t *testing.T) {
	s := newTestStore(t)
	h := NewHandler(s, zap.NewNop())
	counter := int64(0)

	// pretend a previous run issued a timestamp far in the future
	h.lastTimestamp = 9999999999999

	sequenced, err := h.SequenceBatch(&counter, []*event.Event{rawOrderEvent("a")})
	require.NoError(t, err)
	require.Len(t, sequenced, 1)
	assert.Equal(t, int64(9999999999999), sequenced[0].CreateTime)
}

func TestSequencedEventsAreDurableBeforeReturn(t *testing.T) {
	s := newTestStore(t)
	h := NewHandler(s, zap.NewNop())
	counter := int64(0)

	_, err := h.SequenceBatch(&counter, []*event.Event{rawOrderEvent("a"), rawOrderEvent("b")})
	require.NoError(t, err)

	events, err := s.LoadEventsAfter(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].SequenceID)
	assert.Equal(t, int64(2), events[1].SequenceID)
}
