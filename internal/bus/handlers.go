package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ldtteam/rewardsync/business/rewards"
	"github.com/ldtteam/rewardsync/domain"
)

// Recomputer is the calculator's bus-facing contract.
type Recomputer interface {
	Recompute(ctx context.Context, userID uint, rewardType string) (rewards.RecomputeResult, error)
}

// Reconciler is the role reconciler's bus-facing contract.
type Reconciler interface {
	Apply(ctx context.Context, event domain.RewardEvent) error
}

// FactsChangedHandler decodes a recompute trigger and runs the calculator.
func FactsChangedHandler(calc Recomputer) HandlerFunc {
	return func(ctx context.Context, msg Message) error {
		rewardType, _ := msg.Payload["reward_type"].(string)
		if rewardType == "" {
			return fmt.Errorf("facts-changed event %s has no reward_type", msg.EventID)
		}

		_, err := calc.Recompute(ctx, msg.UserID, rewardType)
		return err
	}
}

// RewardEventHandler decodes a grant/revoke event and runs the reconciler.
func RewardEventHandler(rec Reconciler) HandlerFunc {
	return func(ctx context.Context, msg Message) error {
		event, err := decodeRewardEvent(msg)
		if err != nil {
			return err
		}

		return rec.Apply(ctx, event)
	}
}

func decodeRewardEvent(msg Message) (domain.RewardEvent, error) {
	rewardType, _ := msg.Payload["reward_type"].(string)
	rewardName, _ := msg.Payload["reward_name"].(string)
	kind, _ := msg.Payload["kind"].(string)

	if rewardType == "" || rewardName == "" {
		return domain.RewardEvent{}, fmt.Errorf("reward event %s is missing reward key fields", msg.EventID)
	}

	switch domain.EventKind(kind) {
	case domain.KindGranted, domain.KindRevoked:
	default:
		return domain.RewardEvent{}, fmt.Errorf("reward event %s has unknown kind %q", msg.EventID, kind)
	}

	emittedAt := time.Now()
	if raw, ok := msg.Payload["emitted_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			emittedAt = ts
		}
	}

	return domain.RewardEvent{
		EventID:    msg.EventID,
		UserID:     msg.UserID,
		RewardType: rewardType,
		RewardName: rewardName,
		Kind:       domain.EventKind(kind),
		EmittedAt:  emittedAt,
	}, nil
}
