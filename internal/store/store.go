// Package store is the narrow contract the core needs from the durable
// relational store: an append-only event log, the unique-event table, and
// idempotent batch writers for closed orders and match details.
package store

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/helltractor/trading-exchange-system/internal/trading/event"
	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

// loadBatchLimit caps one gap-replay query.
const loadBatchLimit = 100000

// Store wraps the relational database behind the insert/query contract.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a store on an open gorm connection.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates the core tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&EventEntity{}, &UniqueEventEntity{}, &OrderEntity{}, &MatchDetailEntity{}); err != nil {
		return fmt.Errorf("migrate store schema: %w", err)
	}
	return nil
}

// Transaction runs fn inside one database transaction.
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// MaxSequenceID returns the highest sequence id in the event log and its
// create time, or zeros on an empty log. The sequencer seeds its counter and
// its monotonic clock guard from this at startup.
func (s *Store) MaxSequenceID() (sequenceID, createTime int64, err error) {
	var last EventEntity
	if err := s.db.Order("sequence_id DESC").First(&last).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Info("no max sequence id found, starting from 0")
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("query max sequence id: %w", err)
	}
	return last.SequenceID, last.CreateTime, nil
}

// HasUniqueID reports whether uniqueID was sequenced before. Runs on tx so
// the sequencer's dedup check and its inserts share one transaction.
func (s *Store) HasUniqueID(tx *gorm.DB, uniqueID string) (bool, error) {
	var count int64
	if err := tx.Model(&UniqueEventEntity{}).Where("unique_id = ?", uniqueID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("query unique event %q: %w", uniqueID, err)
	}
	return count > 0, nil
}

// AppendEvents writes one sequenced batch and its unique-event rows on tx.
func (s *Store) AppendEvents(tx *gorm.DB, events []EventEntity, uniques []UniqueEventEntity) error {
	if len(uniques) > 0 {
		if err := tx.Create(&uniques).Error; err != nil {
			return fmt.Errorf("insert unique events: %w", err)
		}
	}
	if len(events) > 0 {
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
	}
	return nil
}

// LoadEventsAfter returns deserialized log events with sequence id greater
// than lastSequenceID, in sequence order. Used by the dispatcher for gap
// replay and cold-start recovery.
func (s *Store) LoadEventsAfter(lastSequenceID int64) ([]*event.Event, error) {
	var rows []EventEntity
	if err := s.db.Where("sequence_id > ?", lastSequenceID).
		Order("sequence_id").Limit(loadBatchLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load events after %d: %w", lastSequenceID, err)
	}
	events := make([]*event.Event, 0, len(rows))
	for _, row := range rows {
		e, err := event.Unmarshal([]byte(row.Data))
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", row.SequenceID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// InsertIgnoreOrders persists closed orders, skipping ids already written.
// Duplicate batches are expected after a crash between enqueue and commit.
func (s *Store) InsertIgnoreOrders(orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	rows := make([]OrderEntity, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, OrderEntity{
			ID:               o.ID,
			SequenceID:       o.SequenceID,
			UserID:           o.UserID,
			Direction:        string(o.Direction),
			Status:           string(o.Status),
			Price:            o.Price,
			Quantity:         o.Quantity,
			UnfilledQuantity: o.UnfilledQuantity,
			CreateTime:       o.CreateTime,
			UpdateTime:       o.UpdateTime,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}
	return nil
}

// InsertIgnoreMatchDetails persists match detail legs, skipping legs already
// written. Details sort by (sequenceID, orderID, counterOrderID) so batches
// land in deterministic order.
func (s *Store) InsertIgnoreMatchDetails(details []MatchDetailEntity) error {
	if len(details) == 0 {
		return nil
	}
	sort.Slice(details, func(i, j int) bool {
		a, b := details[i], details[j]
		if a.SequenceID != b.SequenceID {
			return a.SequenceID < b.SequenceID
		}
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return a.CounterOrderID < b.CounterOrderID
	})
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&details).Error; err != nil {
		return fmt.Errorf("insert match details: %w", err)
	}
	return nil
}
