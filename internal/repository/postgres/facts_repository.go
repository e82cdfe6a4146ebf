package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ldtteam/rewardsync/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FactsRepository struct {
	DB *gorm.DB
}

func NewFactsRepository(db *gorm.DB) *FactsRepository {
	return &FactsRepository{
		DB: db,
	}
}

// GetFacts loads the fact bag for (user, reward type). A user without a row
// simply has no facts yet; that is an empty bag, not an error. Store errors
// bubble up so the trigger can be retried.
func (r *FactsRepository) GetFacts(ctx context.Context, userID uint, rewardType string) (map[string]any, error) {
	var row domain.UserFacts

	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND reward_type = ?", userID, rewardType).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	return map[string]any(row.Facts), nil
}

// Upsert replaces the user's fact bag for a reward type. Keys are lowercased
// so rule identifiers resolve without per-evaluation folding.
func (r *FactsRepository) Upsert(ctx context.Context, userID uint, rewardType string, facts map[string]any) error {
	normalized := make(datatypes.JSONMap, len(facts))
	for k, v := range facts {
		normalized[strings.ToLower(k)] = v
	}

	row := domain.UserFacts{
		UserID:     userID,
		RewardType: rewardType,
		Facts:      normalized,
		UpdatedAt:  time.Now(),
	}

	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "reward_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"facts", "updated_at"}),
		}).
		Create(&row).Error
}

// ListUserIDs returns every user with facts in a reward type namespace, used
// to fan out recompute triggers after a rule update.
func (r *FactsRepository) ListUserIDs(ctx context.Context, rewardType string) ([]uint, error) {
	var ids []uint

	err := r.DB.WithContext(ctx).Model(&domain.UserFacts{}).
		Where("reward_type = ?", rewardType).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}

	return ids, nil
}
