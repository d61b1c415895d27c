package model

import "time"

// Friend request status values.
const (
	RequestPending  = 0
	RequestAccepted = 1
)

// FriendRequest is a directed proposal from one account to another.
// Status only ever moves forward (pending → accepted); rejection deletes
// the row, with the audit log keeping the history.
type FriendRequest struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FromID    int64     `gorm:"index:idx_request_pair;not null" json:"from_id"`
	ToID      int64     `gorm:"index:idx_request_pair;not null" json:"to_id"`
	Status    int       `gorm:"default:0" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Friendship is an undirected relationship between two accounts.
// The pair is normalized so UserAID < UserBID, which lets a single unique
// index forbid duplicate friendships regardless of who accepted.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserAID   int64     `gorm:"uniqueIndex:idx_friend_pair;not null" json:"user_a_id"`
	UserBID   int64     `gorm:"uniqueIndex:idx_friend_pair;not null" json:"user_b_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NormalizePair orders two account IDs into the canonical (low, high) form
// used by Friendship and Conversation rows.
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
