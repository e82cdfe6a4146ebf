package bus

import (
	"context"

	"github.com/google/uuid"
)

// TriggerPublisher enqueues facts-changed recompute signals for the
// calculator. The payload carries no fact snapshot on purpose.
type TriggerPublisher struct {
	publisher Publisher
}

func NewTriggerPublisher(publisher Publisher) *TriggerPublisher {
	return &TriggerPublisher{publisher: publisher}
}

func (t *TriggerPublisher) EnqueueRecompute(ctx context.Context, userID uint, rewardType string) error {
	return t.publisher.Publish(ctx, Message{
		EventID: uuid.NewString(),
		UserID:  userID,
		Topic:   TopicFactsChanged,
		Payload: map[string]any{
			"user_id":     userID,
			"reward_type": rewardType,
		},
	})
}
