package rewards

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ldtteam/rewardsync/business/rules"
	"github.com/ldtteam/rewardsync/domain"
	"github.com/ldtteam/rewardsync/pkg/logger"
	"github.com/ldtteam/rewardsync/pkg/metrics"

	"github.com/google/uuid"
)

// AssignmentRepository is the calculator's slice of the assignment store.
// ApplyDiff must commit the new set and the outbox rows as one transaction.
type AssignmentRepository interface {
	FindByUserAndType(ctx context.Context, userID uint, rewardType string) ([]domain.AssignedReward, error)
	ApplyDiff(ctx context.Context, userID uint, rewardType string, newNames []string, events []domain.RewardEvent) error
}

// RecomputeResult reports what one recompute changed.
type RecomputeResult struct {
	Granted []string
	Revoked []string
	Faults  int
}

// Calculator turns a facts-changed trigger into the minimal grant/revoke
// event set. Recompute is idempotent for unchanged facts, and the bus
// serializes triggers per user, so two runs never diff against the same
// stale baseline.
type Calculator struct {
	rewardRepo RewardRepository
	assignRepo AssignmentRepository
	factsRepo  FactsRepository
	cache      *rules.Cache
}

func NewCalculator(
	rewardRepo RewardRepository,
	assignRepo AssignmentRepository,
	factsRepo FactsRepository,
	cache *rules.Cache,
) *Calculator {
	return &Calculator{
		rewardRepo: rewardRepo,
		assignRepo: assignRepo,
		factsRepo:  factsRepo,
		cache:      cache,
	}
}

func (c *Calculator) Recompute(ctx context.Context, userID uint, rewardType string) (RecomputeResult, error) {
	if err := ctx.Err(); err != nil {
		return RecomputeResult{}, fmt.Errorf("context error: %w", err)
	}

	start := time.Now()
	defer func() {
		metrics.RecomputeLatency.Observe(time.Since(start).Seconds())
	}()

	// A store failure anywhere below aborts the run; the trigger is
	// redelivered and a reward set is never computed from incomplete facts.
	facts, err := c.factsRepo.GetFacts(ctx, userID, rewardType)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("load facts: %w", err)
	}

	rewardDefs, err := c.rewardRepo.FindByType(ctx, rewardType)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("load rewards: %w", err)
	}

	result := RecomputeResult{}
	newSet := make(map[string]struct{})

	for _, reward := range rewardDefs {
		pred, err := c.cache.Get(reward.Type, reward.Rule)
		if err != nil {
			// A persisted rule that no longer compiles should be impossible;
			// skip it rather than revoke everyone holding it.
			logger.Error("Persisted rule failed to compile", "reward", reward.Key(), "error", err)
			result.Faults++
			metrics.RuleEvalFaults.Inc()
			continue
		}

		holds, err := pred.Evaluate(facts)
		if err != nil {
			// Fault counts as false for the diff but is surfaced distinctly:
			// it usually means the fact bag does not match the schema.
			logger.Warn("Rule evaluation fault",
				"reward", reward.Key(),
				"user_id", userID,
				"error", err,
			)
			result.Faults++
			metrics.RuleEvalFaults.Inc()
			continue
		}

		if holds {
			newSet[reward.Name] = struct{}{}
		}
	}

	oldRows, err := c.assignRepo.FindByUserAndType(ctx, userID, rewardType)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("load assignments: %w", err)
	}

	oldSet := make(map[string]struct{}, len(oldRows))
	for _, row := range oldRows {
		oldSet[row.RewardName] = struct{}{}
	}

	for name := range newSet {
		if _, held := oldSet[name]; !held {
			result.Granted = append(result.Granted, name)
		}
	}
	for name := range oldSet {
		if _, held := newSet[name]; !held {
			result.Revoked = append(result.Revoked, name)
		}
	}
	sort.Strings(result.Granted)
	sort.Strings(result.Revoked)

	// Unchanged set: nothing to write, nothing to emit.
	if len(result.Granted) == 0 && len(result.Revoked) == 0 {
		return result, nil
	}

	now := time.Now()
	events := make([]domain.RewardEvent, 0, len(result.Granted)+len(result.Revoked))
	for _, name := range result.Granted {
		events = append(events, domain.RewardEvent{
			EventID:    uuid.NewString(),
			UserID:     userID,
			RewardType: rewardType,
			RewardName: name,
			Kind:       domain.KindGranted,
			EmittedAt:  now,
		})
	}
	for _, name := range result.Revoked {
		events = append(events, domain.RewardEvent{
			EventID:    uuid.NewString(),
			UserID:     userID,
			RewardType: rewardType,
			RewardName: name,
			Kind:       domain.KindRevoked,
			EmittedAt:  now,
		})
	}

	newNames := make([]string, 0, len(newSet))
	for name := range newSet {
		newNames = append(newNames, name)
	}
	sort.Strings(newNames)

	if err := c.assignRepo.ApplyDiff(ctx, userID, rewardType, newNames, events); err != nil {
		return RecomputeResult{}, fmt.Errorf("apply diff: %w", err)
	}

	for _, ev := range events {
		metrics.RewardEventsEmitted.WithLabelValues(string(ev.Kind)).Inc()
	}

	logger.Info("Recompute applied",
		"user_id", userID,
		"type", rewardType,
		"granted", len(result.Granted),
		"revoked", len(result.Revoked),
		"faults", result.Faults,
	)

	return result, nil
}
