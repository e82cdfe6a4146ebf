package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ErrIdentityNotFound reports that no identity link exists for a lookup.
// Defined here so consumers can tell "not linked" apart from a store failure
// with errors.Is across layer boundaries.
var ErrIdentityNotFound = errors.New("identity not found")

// UserFacts is a per-user typed fact bag for one reward type namespace
// (e.g. patreon, github, discord). Owned by ingest collaborators; the
// calculator only reads it.
type UserFacts struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	UserID     uint              `gorm:"column:user_id;not null;uniqueIndex:idx_user_facts_user_type" json:"user_id"`
	RewardType string            `gorm:"column:reward_type;not null;uniqueIndex:idx_user_facts_user_type" json:"reward_type"`
	Facts      datatypes.JSONMap `gorm:"column:facts" json:"facts"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (UserFacts) TableName() string {
	return "user_facts"
}

// LinkedIdentity maps an external identity (provider, provider key) to an
// internal user. The query endpoint resolves holders through this table.
type LinkedIdentity struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"column:user_id;not null" json:"user_id"`
	Provider    string    `gorm:"column:provider;not null;uniqueIndex:idx_identity_provider_key" json:"provider"`
	ProviderKey string    `gorm:"column:provider_key;not null;uniqueIndex:idx_identity_provider_key" json:"provider_key"`
	CreatedAt   time.Time `json:"created_at"`
}

func (LinkedIdentity) TableName() string {
	return "linked_identities"
}
