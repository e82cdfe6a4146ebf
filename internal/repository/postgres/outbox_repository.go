package postgres

import (
	"context"

	"github.com/ldtteam/rewardsync/domain"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	DB *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{
		DB: db,
	}
}

// FindUndispatched returns pending outbox rows oldest first. ID order keeps
// per-user publication order aligned with commit order.
func (r *OutboxRepository) FindUndispatched(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	var rows []domain.OutboxEvent

	err := r.DB.WithContext(ctx).
		Where("dispatched = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}

	return r.DB.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("dispatched", true).Error
}
