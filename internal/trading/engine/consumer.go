package engine

import (
	"context"

	"github.com/helltractor/trading-exchange-system/internal/infrastructure/messaging"
	"github.com/helltractor/trading-exchange-system/internal/trading/event"
)

// RunConsumer feeds the dispatcher from the sequenced trade topic until ctx
// is cancelled. The consumer delivers batches serially, which preserves the
// single-writer discipline.
func (s *Service) RunConsumer(ctx context.Context, consumer *messaging.BatchConsumer) error {
	return consumer.Run(ctx, func(ctx context.Context, values [][]byte) error {
		events := make([]*event.Event, 0, len(values))
		for _, value := range values {
			e, err := event.Unmarshal(value)
			if err != nil {
				// the trade topic carries only sequencer output; junk here
				// means the stream is corrupt and continuing is unsafe
				s.fatalf("undecodable sequenced event: %v", err)
			}
			events = append(events, e)
		}
		s.ProcessMessages(events)
		return nil
	})
}
