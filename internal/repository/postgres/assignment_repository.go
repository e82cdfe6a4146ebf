package postgres

import (
	"context"
	"time"

	"github.com/ldtteam/rewardsync/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssignmentRepository struct {
	DB *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{
		DB: db,
	}
}

func (r *AssignmentRepository) FindByUserAndType(ctx context.Context, userID uint, rewardType string) ([]domain.AssignedReward, error) {
	var assigned []domain.AssignedReward

	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND reward_type = ?", userID, rewardType).
		Find(&assigned).Error
	if err != nil {
		return nil, err
	}

	return assigned, nil
}

// ExistsByUserAndName reports whether the user currently holds the named
// reward in any type namespace.
func (r *AssignmentRepository) ExistsByUserAndName(ctx context.Context, userID uint, rewardName string) (bool, error) {
	var count int64

	err := r.DB.WithContext(ctx).Model(&domain.AssignedReward{}).
		Where("user_id = ? AND reward_name = ?", userID, rewardName).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// ApplyDiff commits the result of a recompute as one transaction: the new
// assignment set replaces the old one for (user, type) and one outbox row is
// written per emitted event. Either everything lands or nothing does, so a
// failed recompute is always safe to retry.
func (r *AssignmentRepository) ApplyDiff(ctx context.Context, userID uint, rewardType string, newNames []string, events []domain.RewardEvent) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND reward_type = ?", userID, rewardType).
			Delete(&domain.AssignedReward{}).Error; err != nil {
			return err
		}

		for _, name := range newNames {
			row := domain.AssignedReward{
				UserID:     userID,
				RewardType: rewardType,
				RewardName: name,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, ev := range events {
			outbox := domain.OutboxEvent{
				EventID: ev.EventID,
				UserID:  ev.UserID,
				Topic:   domain.TopicRewardEvents,
				Payload: datatypes.JSONMap{
					"event_id":    ev.EventID,
					"user_id":     ev.UserID,
					"reward_type": ev.RewardType,
					"reward_name": ev.RewardName,
					"kind":        string(ev.Kind),
					"emitted_at":  ev.EmittedAt.Format(time.RFC3339),
				},
			}
			if err := tx.Create(&outbox).Error; err != nil {
				return err
			}
		}

		return nil
	})
}
