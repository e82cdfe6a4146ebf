package postgres

import (
	"context"
	"errors"

	"github.com/ldtteam/rewardsync/domain"

	"gorm.io/gorm"
)

// ErrIdentityNotFound mirrors the shared sentinel so callers of this package
// can keep matching on it directly.
var ErrIdentityNotFound = domain.ErrIdentityNotFound

type IdentityRepository struct {
	DB *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{
		DB: db,
	}
}

func (r *IdentityRepository) Link(ctx context.Context, identity *domain.LinkedIdentity) error {
	if err := r.DB.WithContext(ctx).Create(&identity).Error; err != nil {
		return err
	}

	return nil
}

func (r *IdentityRepository) FindByProviderKey(ctx context.Context, provider, providerKey string) (domain.LinkedIdentity, error) {
	var identity domain.LinkedIdentity

	err := r.DB.WithContext(ctx).
		Where("provider = ? AND provider_key = ?", provider, providerKey).
		First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LinkedIdentity{}, ErrIdentityNotFound
		}
		return domain.LinkedIdentity{}, err
	}

	return identity, nil
}

// FindProviderKey returns the external key linked for (user, provider).
func (r *IdentityRepository) FindProviderKey(ctx context.Context, userID uint, provider string) (string, error) {
	var identity domain.LinkedIdentity

	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrIdentityNotFound
		}
		return "", err
	}

	return identity.ProviderKey, nil
}

func (r *IdentityRepository) FindByUser(ctx context.Context, userID uint) ([]domain.LinkedIdentity, error) {
	var identities []domain.LinkedIdentity

	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&identities).Error; err != nil {
		return nil, err
	}

	return identities, nil
}
