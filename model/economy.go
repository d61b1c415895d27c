package model

import "time"

// EconomyAccount holds an account's chat gem balance and daily reward
// bookkeeping. ChatGems is only ever mutated through conditional updates
// (debit guarded by balance, reward guarded by date) so it can never go
// negative and never double-pays under concurrent sessions.
type EconomyAccount struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID      int64     `gorm:"uniqueIndex;not null" json:"account_id"`
	ChatGems       int64     `gorm:"default:0" json:"chat_gems"`
	LastRewardDate string    `gorm:"size:10" json:"last_reward_date"` // YYYY-MM-DD, empty until first claim
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// OwnedAnimation records one purchased catalog item. The unique pair index
// makes ownership idempotent: a racing duplicate purchase hits the index
// and rolls its debit back.
type OwnedAnimation struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   int64     `gorm:"uniqueIndex:idx_owned_anim;not null" json:"account_id"`
	AnimationID string    `gorm:"uniqueIndex:idx_owned_anim;size:64;not null" json:"animation_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
