package postgres

import (
	"context"
	"errors"

	"github.com/ldtteam/rewardsync/domain"

	"gorm.io/gorm"
)

var ErrRewardNotFound = errors.New("reward not found")

type RewardRepository struct {
	DB *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{
		DB: db,
	}
}

func (r *RewardRepository) Create(ctx context.Context, reward *domain.Reward) error {
	if err := r.DB.WithContext(ctx).Create(&reward).Error; err != nil {
		return err
	}

	return nil
}

func (r *RewardRepository) FindByTypeAndName(ctx context.Context, rewardType, name string) (domain.Reward, error) {
	var reward domain.Reward

	err := r.DB.WithContext(ctx).
		Where("type = ? AND name = ?", rewardType, name).
		First(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reward{}, ErrRewardNotFound
		}
		return domain.Reward{}, err
	}

	return reward, nil
}

func (r *RewardRepository) FindByType(ctx context.Context, rewardType string) ([]domain.Reward, error) {
	var rewards []domain.Reward

	if err := r.DB.WithContext(ctx).Where("type = ?", rewardType).Find(&rewards).Error; err != nil {
		return nil, err
	}

	return rewards, nil
}

func (r *RewardRepository) FindAll(ctx context.Context) ([]domain.Reward, error) {
	var rewards []domain.Reward

	if err := r.DB.WithContext(ctx).Find(&rewards).Error; err != nil {
		return nil, err
	}

	return rewards, nil
}

func (r *RewardRepository) UpdateRule(ctx context.Context, rewardType, name, rule string) error {
	result := r.DB.WithContext(ctx).Model(&domain.Reward{}).
		Where("type = ? AND name = ?", rewardType, name).
		Update("rule", rule)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrRewardNotFound
	}

	return nil
}
