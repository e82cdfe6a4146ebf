package bus

import (
	"context"
	"time"

	"github.com/ldtteam/rewardsync/domain"
	"github.com/ldtteam/rewardsync/pkg/logger"
)

// OutboxRepository is the slice of the outbox store the dispatcher needs.
type OutboxRepository interface {
	FindUndispatched(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, ids []uint) error
}

// Dispatcher drains committed outbox rows onto the bus. A crash between
// publish and mark republishes the row on resume; consumers tolerate the
// duplicate because delivery is at-least-once anyway.
type Dispatcher struct {
	outboxRepo OutboxRepository
	publisher  Publisher
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(outboxRepo OutboxRepository, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		interval:   250 * time.Millisecond,
		batchSize:  64,
	}
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.drainOnce(ctx); err != nil {
				logger.Error("Outbox drain failed", err)
			}
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) error {
	rows, err := d.outboxRepo.FindUndispatched(ctx, d.batchSize)
	if err != nil {
		return err
	}

	var done []uint
	for _, row := range rows {
		msg := Message{
			EventID: row.EventID,
			UserID:  row.UserID,
			Topic:   row.Topic,
			Payload: map[string]any(row.Payload),
		}

		if err := d.publisher.Publish(ctx, msg); err != nil {
			// Stop at the first failure so per-user publish order is kept;
			// already published rows still get marked below.
			logger.Error("Failed to publish outbox event", "event_id", row.EventID, "error", err)
			break
		}

		done = append(done, row.ID)
	}

	return d.outboxRepo.MarkDispatched(ctx, done)
}
