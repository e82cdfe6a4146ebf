package domain

import (
	"fmt"
	"time"
)

// Reward is a named benefit gated by a boolean rule over user facts.
// The key is (Type, Name); Rule is the authored expression string, already
// compile-checked before the row is persisted.
type Reward struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"column:type;not null;uniqueIndex:idx_rewards_type_name" json:"type"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:idx_rewards_type_name" json:"name"`
	Rule      string    `gorm:"column:rule;not null" json:"rule"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Reward) TableName() string {
	return "rewards"
}

// Key returns the canonical "type/name" form used in role mappings and events.
func (r Reward) Key() string {
	return fmt.Sprintf("%s/%s", r.Type, r.Name)
}

// AssignedReward marks that a user currently holds a reward. Existence of the
// row is the sole source of truth; rows are written only by the calculator's
// recompute transaction.
type AssignedReward struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"column:user_id;not null;uniqueIndex:idx_assigned_user_reward" json:"user_id"`
	RewardType string    `gorm:"column:reward_type;not null;uniqueIndex:idx_assigned_user_reward" json:"reward_type"`
	RewardName string    `gorm:"column:reward_name;not null;uniqueIndex:idx_assigned_user_reward" json:"reward_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AssignedReward) TableName() string {
	return "assigned_rewards"
}

// EventKind is the direction of a reward transition.
type EventKind string

const (
	KindGranted EventKind = "granted"
	KindRevoked EventKind = "revoked"
)

// RewardEvent is the bus payload emitted once per grant or revoke.
type RewardEvent struct {
	EventID    string    `json:"event_id"`
	UserID     uint      `json:"user_id"`
	RewardType string    `json:"reward_type"`
	RewardName string    `json:"reward_name"`
	Kind       EventKind `json:"kind"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// RewardKey returns the reward key in "type/name" form.
func (e RewardEvent) RewardKey() string {
	return fmt.Sprintf("%s/%s", e.RewardType, e.RewardName)
}

// FactsChanged is the recompute trigger. It is a signal, not a snapshot: the
// calculator re-reads authoritative facts from the store.
type FactsChanged struct {
	UserID     uint   `json:"user_id"`
	RewardType string `json:"reward_type"`
}
