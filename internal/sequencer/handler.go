package sequencer

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/helltractor/trading-exchange-system/internal/store"
	"github.com/helltractor/trading-exchange-system/internal/trading/event"
)

// Handler assigns sequence numbers to one batch at a time and persists it in
// a single database transaction. It is not safe for concurrent use; the
// service serializes calls.
type Handler struct {
	logger *zap.Logger
	store  *store.Store

	// lastTimestamp is the most recently issued createTime. Event timestamps
	// never move backward even when the wall clock does.
	lastTimestamp int64
}

// NewHandler creates a handler on the durable store.
func NewHandler(s *store.Store, logger *zap.Logger) *Handler {
	return &Handler{logger: logger, store: s}
}

// Recover seeds the sequence counter and the monotonic clock guard from the
// durable log, returning the highest sequence id ever issued.
func (h *Handler) Recover() (int64, error) {
	maxSequenceID, createTime, err := h.store.MaxSequenceID()
	if err != nil {
		return 0, err
	}
	h.lastTimestamp = createTime
	h.logger.Info("recovered sequencer state",
		zap.Int64("max_sequence_id", maxSequenceID),
		zap.Int64("last_timestamp", h.lastTimestamp))
	return maxSequenceID, nil
}

// SequenceBatch assigns ids and timestamps to the batch in arrival order,
// dropping idempotent retries, and commits the log rows atomically. The
// returned events are safe to publish only after SequenceBatch returns nil.
// counter holds the last issued sequence id and is advanced in place.
func (h *Handler) SequenceBatch(counter *int64, batch []*event.Event) ([]*event.Event, error) {
	now := time.Now().UnixMilli()
	if now < h.lastTimestamp {
		h.logger.Warn("wall clock moved backwards, keeping last issued timestamp",
			zap.Int64("now", now), zap.Int64("last_timestamp", h.lastTimestamp))
	} else {
		h.lastTimestamp = now
	}

	sequenced := make([]*event.Event, 0, len(batch))
	rows := make([]store.EventEntity, 0, len(batch))
	var uniques []store.UniqueEventEntity
	var uniqueKeys map[string]struct{}

	err := h.store.Transaction(func(tx *gorm.DB) error {
		for _, e := range batch {
			if err := e.Validate(); err != nil {
				h.logger.Warn("drop malformed raw event", zap.Error(err))
				continue
			}
			if e.UniqueID != "" {
				if _, inBatch := uniqueKeys[e.UniqueID]; inBatch {
					h.logger.Warn("ignore duplicated unique event in batch", zap.String("unique_id", e.UniqueID))
					continue
				}
				known, err := h.store.HasUniqueID(tx, e.UniqueID)
				if err != nil {
					return err
				}
				if known {
					h.logger.Warn("ignore processed unique event", zap.String("unique_id", e.UniqueID))
					continue
				}
				if uniqueKeys == nil {
					uniqueKeys = make(map[string]struct{})
				}
				uniqueKeys[e.UniqueID] = struct{}{}
			}

			previousID := *counter
			*counter++
			e.PreviousID = previousID
			e.SequenceID = *counter
			e.CreateTime = h.lastTimestamp

			if e.UniqueID != "" {
				uniques = append(uniques, store.UniqueEventEntity{
					UniqueID:   e.UniqueID,
					SequenceID: e.SequenceID,
					CreateTime: e.CreateTime,
				})
			}
			data, err := event.Marshal(e)
			if err != nil {
				return err
			}
			rows = append(rows, store.EventEntity{
				SequenceID: e.SequenceID,
				PreviousID: e.PreviousID,
				Data:       string(data),
				CreateTime: e.CreateTime,
			})
			sequenced = append(sequenced, e)
		}
		return h.store.AppendEvents(tx, rows, uniques)
	})
	if err != nil {
		return nil, fmt.Errorf("sequence batch of %d events: %w", len(batch), err)
	}
	return sequenced, nil
}
