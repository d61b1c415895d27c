package model

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation links two friends to their message history. Message bodies
// live outside this service; only the pointer to the latest message is
// kept here so friend lists can show a preview.
type Conversation struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserAID     int64          `gorm:"uniqueIndex:idx_conversation_pair;not null" json:"user_a_id"`
	UserBID     int64          `gorm:"uniqueIndex:idx_conversation_pair;not null" json:"user_b_id"`
	LastMessage datatypes.JSON `json:"last_message"` // null until the first message
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
