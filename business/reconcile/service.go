package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldtteam/rewardsync/domain"
	"github.com/ldtteam/rewardsync/pkg/logger"
)

// DirectoryRepository is the external chat directory contract. "Add a role
// already held" and "remove a role already absent" must both succeed: the
// desired end state matters, not the transition.
type DirectoryRepository interface {
	AddRole(ctx context.Context, guildID, memberID, roleID string) error
	RemoveRole(ctx context.Context, guildID, memberID, roleID string) error
}

// MemberResolver maps an internal user to their chat-platform member id.
// A user without a link is reported with domain.ErrIdentityNotFound; any
// other error is a store failure.
type MemberResolver interface {
	FindProviderKey(ctx context.Context, userID uint, provider string) (string, error)
}

type reconcileService struct {
	directory DirectoryRepository
	members   MemberResolver
	mappings  *RoleMappings
	inFlight  chan struct{}
}

// NewReconcileService builds the reconciler. maxInFlight bounds concurrent
// directory calls across all workers so the external API is not overwhelmed.
func NewReconcileService(
	directory DirectoryRepository,
	members MemberResolver,
	mappings *RoleMappings,
	maxInFlight int,
) *reconcileService {
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	return &reconcileService{
		directory: directory,
		members:   members,
		mappings:  mappings,
		inFlight:  make(chan struct{}, maxInFlight),
	}
}

// Apply reconciles one grant/revoke event against the external directory.
// Idempotent: re-applying an event leaves external state unchanged. Any
// returned error means the event should be redelivered; partial progress is
// safe because each role call converges on the same end state.
func (s *reconcileService) Apply(ctx context.Context, event domain.RewardEvent) error {
	byGuild := s.mappings.RolesFor(event.RewardKey())
	if len(byGuild) == 0 {
		logger.Debug("No role mapping for reward, nothing to reconcile", "reward", event.RewardKey())
		return nil
	}

	memberID, err := s.members.FindProviderKey(ctx, event.UserID, "discord")
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			// Without a linked chat identity there is no external state to fix.
			logger.Debug("User has no linked chat identity", "user_id", event.UserID)
			return nil
		}
		// A store failure is not "no link": returning the error keeps the
		// event unacked so the retry cycle runs instead of dropping it.
		return fmt.Errorf("resolve member for user %d: %w", event.UserID, err)
	}

	for guildID, roleIDs := range byGuild {
		for _, roleID := range roleIDs {
			if err := s.applyRole(ctx, event.Kind, guildID, memberID, roleID); err != nil {
				return fmt.Errorf("guild %s role %s: %w", guildID, roleID, err)
			}
		}
	}

	logger.Info("Reconciled reward event",
		"event_id", event.EventID,
		"user_id", event.UserID,
		"reward", event.RewardKey(),
		"kind", event.Kind,
	)

	return nil
}

func (s *reconcileService) applyRole(ctx context.Context, kind domain.EventKind, guildID, memberID, roleID string) error {
	select {
	case s.inFlight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.inFlight }()

	switch kind {
	case domain.KindGranted:
		return s.directory.AddRole(ctx, guildID, memberID, roleID)
	case domain.KindRevoked:
		return s.directory.RemoveRole(ctx, guildID, memberID, roleID)
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
}
