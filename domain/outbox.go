package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Bus topics. Defined here so the outbox writer and the bus consumers share
// one definition.
const (
	TopicFactsChanged = "facts-changed"
	TopicRewardEvents = "reward-events"
)

// OutboxEvent is a pending bus publication written in the same transaction as
// the assignment rows it describes. The dispatcher drains undispatched rows in
// ID order and marks them; redelivery after a crash is tolerated because
// consumers are idempotent.
type OutboxEvent struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	EventID    string            `gorm:"column:event_id;not null;uniqueIndex" json:"event_id"`
	UserID     uint              `gorm:"column:user_id;not null;index" json:"user_id"`
	Topic      string            `gorm:"column:topic;not null" json:"topic"`
	Payload    datatypes.JSONMap `gorm:"column:payload" json:"payload"`
	Dispatched bool              `gorm:"column:dispatched;default:false;index" json:"dispatched"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
