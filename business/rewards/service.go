package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldtteam/rewardsync/business/rules"
	"github.com/ldtteam/rewardsync/domain"
	"github.com/ldtteam/rewardsync/pkg/logger"
)

// RewardRepository contract interface
type RewardRepository interface {
	Create(ctx context.Context, reward *domain.Reward) error
	FindByTypeAndName(ctx context.Context, rewardType, name string) (domain.Reward, error)
	FindByType(ctx context.Context, rewardType string) ([]domain.Reward, error)
	FindAll(ctx context.Context) ([]domain.Reward, error)
	UpdateRule(ctx context.Context, rewardType, name, rule string) error
}

// AssignmentReader is the read side of the assignment table used by queries.
type AssignmentReader interface {
	ExistsByUserAndName(ctx context.Context, userID uint, rewardName string) (bool, error)
}

// IdentityRepository contract interface. A missing link is reported with
// domain.ErrIdentityNotFound.
type IdentityRepository interface {
	Link(ctx context.Context, identity *domain.LinkedIdentity) error
	FindByProviderKey(ctx context.Context, provider, providerKey string) (domain.LinkedIdentity, error)
}

// FactsRepository contract interface
type FactsRepository interface {
	GetFacts(ctx context.Context, userID uint, rewardType string) (map[string]any, error)
	Upsert(ctx context.Context, userID uint, rewardType string, facts map[string]any) error
	ListUserIDs(ctx context.Context, rewardType string) ([]uint, error)
}

// TriggerPublisher enqueues a recompute signal on the bus.
type TriggerPublisher interface {
	EnqueueRecompute(ctx context.Context, userID uint, rewardType string) error
}

var ErrIdentityNotLinked = errors.New("identity not linked")

type rewardService struct {
	rewardRepo   RewardRepository
	assignReader AssignmentReader
	identityRepo IdentityRepository
	factsRepo    FactsRepository
	triggers     TriggerPublisher
}

func NewRewardService(
	rewardRepo RewardRepository,
	assignReader AssignmentReader,
	identityRepo IdentityRepository,
	factsRepo FactsRepository,
	triggers TriggerPublisher,
) *rewardService {
	return &rewardService{
		rewardRepo:   rewardRepo,
		assignReader: assignReader,
		identityRepo: identityRepo,
		factsRepo:    factsRepo,
		triggers:     triggers,
	}
}

// CreateReward compiles the rule before anything is persisted. A rule that
// does not compile against the type's fact schema is rejected with the
// structured rules.InvalidRuleError and never stored.
func (s *rewardService) CreateReward(ctx context.Context, reward *domain.Reward) (domain.Reward, error) {
	schema, ok := rules.SchemaFor(reward.Type)
	if !ok {
		return domain.Reward{}, fmt.Errorf("unknown reward type %q", reward.Type)
	}

	if _, err := rules.Compile(reward.Rule, schema); err != nil {
		logger.Warn("Rejected invalid rule", "type", reward.Type, "name", reward.Name, "error", err)
		return domain.Reward{}, err
	}

	existing, err := s.rewardRepo.FindByTypeAndName(ctx, reward.Type, reward.Name)
	if err == nil && existing.ID > 0 {
		return domain.Reward{}, errors.New("reward already exists")
	}

	if err := s.rewardRepo.Create(ctx, reward); err != nil {
		logger.Error("Failed to create reward", err)
		return domain.Reward{}, err
	}

	return *reward, nil
}

// UpdateRule replaces a reward's rule and fans out recompute triggers for
// every user with facts of that type, so held assignments converge on the
// new rule.
func (s *rewardService) UpdateRule(ctx context.Context, rewardType, name, rule string) error {
	schema, ok := rules.SchemaFor(rewardType)
	if !ok {
		return fmt.Errorf("unknown reward type %q", rewardType)
	}

	if _, err := rules.Compile(rule, schema); err != nil {
		logger.Warn("Rejected invalid rule update", "type", rewardType, "name", name, "error", err)
		return err
	}

	if err := s.rewardRepo.UpdateRule(ctx, rewardType, name, rule); err != nil {
		logger.Error("Failed to update reward rule", err)
		return err
	}

	userIDs, err := s.factsRepo.ListUserIDs(ctx, rewardType)
	if err != nil {
		logger.Error("Failed to list users for recompute fan-out", err)
		return err
	}

	for _, userID := range userIDs {
		if err := s.triggers.EnqueueRecompute(ctx, userID, rewardType); err != nil {
			return fmt.Errorf("failed to enqueue recompute for user %d: %w", userID, err)
		}
	}

	logger.Info("Rule updated, recompute fan-out enqueued",
		"type", rewardType,
		"name", name,
		"users", len(userIDs),
	)

	return nil
}

func (s *rewardService) GetReward(ctx context.Context, rewardType, name string) (domain.Reward, error) {
	return s.rewardRepo.FindByTypeAndName(ctx, rewardType, name)
}

func (s *rewardService) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	return s.rewardRepo.FindAll(ctx)
}

// UpsertFacts replaces the user's fact bag for a provider namespace and
// enqueues the recompute trigger. The trigger is a signal only; the
// calculator re-reads authoritative facts.
func (s *rewardService) UpsertFacts(ctx context.Context, userID uint, rewardType string, facts map[string]any) error {
	if _, ok := rules.SchemaFor(rewardType); !ok {
		return fmt.Errorf("unknown reward type %q", rewardType)
	}

	if err := s.factsRepo.Upsert(ctx, userID, rewardType, facts); err != nil {
		logger.Error("Failed to upsert facts", err)
		return err
	}

	return s.triggers.EnqueueRecompute(ctx, userID, rewardType)
}

// LinkIdentity maps an external (provider, key) pair to an internal user.
func (s *rewardService) LinkIdentity(ctx context.Context, identity *domain.LinkedIdentity) error {
	if err := s.identityRepo.Link(ctx, identity); err != nil {
		logger.Error("Failed to link identity", err)
		return err
	}

	return nil
}

// HoldsReward answers the collaborator query: does the externally-identified
// user currently hold the named reward.
func (s *rewardService) HoldsReward(ctx context.Context, provider, providerKey, rewardName string) (bool, error) {
	identity, err := s.identityRepo.FindByProviderKey(ctx, provider, providerKey)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return false, ErrIdentityNotLinked
		}
		logger.Error("Failed to resolve identity", err)
		return false, err
	}

	return s.assignReader.ExistsByUserAndName(ctx, identity.UserID, rewardName)
}

// Resync re-enqueues recompute triggers for one user across every reward
// type, the manual convergence hook after dead-lettered events.
func (s *rewardService) Resync(ctx context.Context, userID uint) error {
	for _, rewardType := range rules.RewardTypes() {
		if err := s.triggers.EnqueueRecompute(ctx, userID, rewardType); err != nil {
			return err
		}
	}

	return nil
}
