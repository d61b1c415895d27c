package relationship

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/astralchat/server/audit"
	"github.com/astralchat/server/identity"
	"github.com/astralchat/server/model"
	"github.com/astralchat/server/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sentinel errors for the friend request state machine. Handlers map them
// to HTTP codes; none of them is retried automatically.
var (
	ErrSelfRequest      = errors.New("relationship: cannot send a friend request to yourself")
	ErrDuplicateRequest = errors.New("relationship: a pending request already exists between these users")
	ErrAlreadyFriends   = errors.New("relationship: users are already friends")
	ErrNotFound         = errors.New("relationship: request not found")
	ErrNotAuthorized    = errors.New("relationship: request is not addressed to you")
	ErrAlreadyResolved  = errors.New("relationship: request is no longer pending")
)

// Friend is the projection of one friendship as seen by one side: the
// other participant plus their live presence and economy state.
type Friend struct {
	FriendshipID int64           `json:"friendship_id"`
	AccountID    int64           `json:"account_id"`
	Email        string          `json:"email"`
	Status       string          `json:"status"`
	Activity     json.RawMessage `json:"activity,omitempty"`
	LastSeen     int64           `json:"last_seen,omitempty"` // unix millis, 0 if never seen
	ChatGems     int64           `json:"chat_gems"`
	Since        int64           `json:"since"` // friendship creation, unix millis
}

// PendingRequest is the projection of one inbound pending friend request.
type PendingRequest struct {
	ID        int64  `json:"id"`
	FromID    int64  `json:"from_id"`
	FromEmail string `json:"from_email"`
	CreatedAt int64  `json:"created_at"` // unix millis
}

// Service owns friend requests, friendships and the conversation records
// provisioned on acceptance.
type Service struct {
	db       *gorm.DB
	dir      *identity.Directory
	notifier *notify.Notifier
	audit    *audit.Service
	logger   *zap.Logger
}

// NewService creates a relationship Service.
func NewService(db *gorm.DB, dir *identity.Directory, notifier *notify.Notifier, auditSvc *audit.Service, logger *zap.Logger) *Service {
	return &Service{db: db, dir: dir, notifier: notifier, audit: auditSvc, logger: logger}
}

// SendRequest creates a pending friend request from caller to the account
// with targetEmail. The guards run in order and fail fast. The sequence is
// not atomic against a concurrent sender in the other direction; the rare
// duplicate pending pair that slips through is absorbed by AcceptRequest.
func (s *Service) SendRequest(ctx context.Context, caller *model.Account, targetEmail string) (int64, error) {
	if identity.NormalizeEmail(targetEmail) == caller.Email {
		return 0, ErrSelfRequest
	}

	target, err := s.dir.Resolve(ctx, targetEmail)
	if err != nil {
		return 0, err // identity.ErrUnknownUser or a DB failure
	}
	if target.ID == caller.ID {
		return 0, ErrSelfRequest
	}

	var existing model.FriendRequest
	err = s.db.WithContext(ctx).
		Where("status = ? AND ((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?))",
			model.RequestPending, caller.ID, target.ID, target.ID, caller.ID).
		First(&existing).Error
	if err == nil {
		return 0, ErrDuplicateRequest
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	lo, hi := model.NormalizePair(caller.ID, target.ID)
	var friendship model.Friendship
	err = s.db.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", lo, hi).
		First(&friendship).Error
	if err == nil {
		return 0, ErrAlreadyFriends
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	req := &model.FriendRequest{FromID: caller.ID, ToID: target.ID, Status: model.RequestPending}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return 0, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"request_id": req.ID,
		"from_email": caller.Email,
	})
	s.notifier.Publish(ctx, notify.Event{
		Type:      notify.EventFriendRequestCreated,
		AccountID: caller.ID,
		Payload:   payload,
	}, caller.ID, target.ID)

	s.logger.Info("friend request sent",
		zap.Int64("request_id", req.ID),
		zap.Int64("from", caller.ID),
		zap.Int64("to", target.ID))
	return req.ID, nil
}

// AcceptRequest resolves a pending request addressed to caller. One
// transaction creates the friendship and its conversation and marks the
// request accepted. If a racing duplicate request already produced the
// friendship, acceptance reuses it instead of tripping the unique index.
func (s *Service) AcceptRequest(ctx context.Context, caller *model.Account, requestID int64) (int64, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if req.ToID != caller.ID {
		return 0, ErrNotAuthorized
	}
	if req.Status != model.RequestPending {
		return 0, ErrAlreadyResolved
	}

	lo, hi := model.NormalizePair(req.FromID, req.ToID)
	var friendshipID int64
	createdFriendship := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.Friendship
		ferr := tx.Where("user_a_id = ? AND user_b_id = ?", lo, hi).First(&f).Error
		switch {
		case ferr == nil:
			friendshipID = f.ID
		case errors.Is(ferr, gorm.ErrRecordNotFound):
			f = model.Friendship{UserAID: lo, UserBID: hi}
			if err := tx.Create(&f).Error; err != nil {
				return err
			}
			if err := tx.Create(&model.Conversation{UserAID: lo, UserBID: hi}).Error; err != nil {
				return err
			}
			friendshipID = f.ID
			createdFriendship = true
		default:
			return ferr
		}

		// Guarded update so two concurrent accepts resolve exactly once.
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", req.ID, model.RequestPending).
			Update("status", model.RequestAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyResolved
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"request_id":    req.ID,
		"friendship_id": friendshipID,
	})
	s.notifier.Publish(ctx, notify.Event{
		Type:      notify.EventFriendRequestAccepted,
		AccountID: caller.ID,
		Payload:   payload,
	}, req.FromID, req.ToID)
	if createdFriendship {
		s.notifier.Publish(ctx, notify.Event{
			Type:      notify.EventFriendshipCreated,
			AccountID: caller.ID,
			Payload:   payload,
		}, req.FromID, req.ToID)
		s.notifier.Publish(ctx, notify.Event{
			Type:      notify.EventConversationCreated,
			AccountID: caller.ID,
			Payload:   payload,
		}, req.FromID, req.ToID)
	}

	s.logger.Info("friend request accepted",
		zap.Int64("request_id", req.ID),
		zap.Int64("friendship_id", friendshipID))
	return friendshipID, nil
}

// RejectRequest deletes a pending request addressed to caller. The row is
// gone afterwards and the pair may re-request immediately; the audit log
// keeps the only record of the rejection.
func (s *Service) RejectRequest(ctx context.Context, caller *model.Account, requestID int64) error {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToID != caller.ID {
		return ErrNotAuthorized
	}
	if req.Status != model.RequestPending {
		return ErrAlreadyResolved
	}

	if err := s.db.WithContext(ctx).Delete(&model.FriendRequest{}, req.ID).Error; err != nil {
		return err
	}

	s.audit.Log(audit.Entry{
		TraceID:   audit.TraceID(ctx),
		AccountID: &caller.ID,
		Action:    "friend_request_rejected",
		Request:   map[string]int64{"request_id": req.ID, "from_id": req.FromID},
	})

	payload, _ := json.Marshal(map[string]int64{"request_id": req.ID})
	s.notifier.Publish(ctx, notify.Event{
		Type:      notify.EventFriendRequestRejected,
		AccountID: caller.ID,
		Payload:   payload,
	}, req.FromID, req.ToID)

	s.logger.Info("friend request rejected", zap.Int64("request_id", req.ID))
	return nil
}

func (s *Service) loadRequest(ctx context.Context, requestID int64) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := s.db.WithContext(ctx).First(&req, requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListFriends returns the caller's current friend projections in insertion
// order of the underlying friendship rows.
func (s *Service) ListFriends(ctx context.Context, accountID int64) ([]Friend, error) {
	var friendships []model.Friendship
	err := s.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", accountID, accountID).
		Order("id").
		Find(&friendships).Error
	if err != nil {
		return nil, err
	}

	friends := make([]Friend, 0, len(friendships))
	for _, f := range friendships {
		otherID := f.UserAID
		if otherID == accountID {
			otherID = f.UserBID
		}

		entry := Friend{
			FriendshipID: f.ID,
			AccountID:    otherID,
			Status:       "offline",
			Since:        f.CreatedAt.UnixMilli(),
		}

		if acc, err := s.dir.ByID(ctx, otherID); err == nil {
			entry.Email = acc.Email
		}

		var pres model.Presence
		if err := s.db.WithContext(ctx).Where("account_id = ?", otherID).First(&pres).Error; err == nil {
			entry.Status = pres.Status
			entry.Activity = json.RawMessage(pres.Activity)
			if !pres.LastSeen.IsZero() {
				entry.LastSeen = pres.LastSeen.UnixMilli()
			}
		}

		var eco model.EconomyAccount
		if err := s.db.WithContext(ctx).Where("account_id = ?", otherID).First(&eco).Error; err == nil {
			entry.ChatGems = eco.ChatGems
		}

		friends = append(friends, entry)
	}
	return friends, nil
}

// ListPendingRequests returns all pending requests addressed to accountID.
func (s *Service) ListPendingRequests(ctx context.Context, accountID int64) ([]PendingRequest, error) {
	var reqs []model.FriendRequest
	err := s.db.WithContext(ctx).
		Where("to_id = ? AND status = ?", accountID, model.RequestPending).
		Order("id").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}

	out := make([]PendingRequest, 0, len(reqs))
	for _, r := range reqs {
		pr := PendingRequest{ID: r.ID, FromID: r.FromID, CreatedAt: r.CreatedAt.UnixMilli()}
		if acc, err := s.dir.ByID(ctx, r.FromID); err == nil {
			pr.FromEmail = acc.Email
		}
		out = append(out, pr)
	}
	return out, nil
}

// FriendIDs returns the account IDs of everyone the given account is
// friends with. The presence engine uses it to fan presence changes out.
func (s *Service) FriendIDs(ctx context.Context, accountID int64) ([]int64, error) {
	var friendships []model.Friendship
	err := s.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", accountID, accountID).
		Find(&friendships).Error
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(friendships))
	for _, f := range friendships {
		if f.UserAID == accountID {
			ids = append(ids, f.UserBID)
		} else {
			ids = append(ids, f.UserAID)
		}
	}
	return ids, nil
}
