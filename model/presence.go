package model

import (
	"time"

	"gorm.io/datatypes"
)

// Presence is an account's live availability, one row per account, written
// only by that account's own session. Status holds "online", "idle" or
// "offline"; Activity is an optional JSON payload (currently playing
// media / running app) that never influences Status.
type Presence struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64          `gorm:"uniqueIndex;not null" json:"account_id"`
	Status    string         `gorm:"size:16;default:'offline'" json:"status"`
	Activity  datatypes.JSON `json:"activity"` // null when nothing is playing
	LastSeen  time.Time      `json:"last_seen"`
}
