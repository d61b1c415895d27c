package economy

import (
	"context"
	"errors"
	"time"

	"github.com/astralchat/server/audit"
	"github.com/astralchat/server/model"
	"github.com/astralchat/server/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUnknownItem means the requested animation is not in the catalog.
	ErrUnknownItem = errors.New("unknown catalog item")
	// ErrInvalidAmount means a credit with a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// rollback sentinels: expected purchase outcomes surfaced as errors only
// to abort the transaction, never returned to callers.
var (
	errAlreadyOwned      = errors.New("already owned")
	errInsufficientFunds = errors.New("insufficient funds")
)

// FriendLister yields the accounts whose friend-list projections show
// this account's balance. Satisfied by relationship.Service.
type FriendLister interface {
	FriendIDs(ctx context.Context, accountID int64) ([]int64, error)
}

// Snapshot is the read projection of one account's ledger.
type Snapshot struct {
	AccountID       int64    `json:"account_id"`
	ChatGems        int64    `json:"chat_gems"`
	OwnedAnimations []string `json:"owned_animations"`
	LastRewardDate  string   `json:"last_reward_date,omitempty"`
}

// Service owns the chat-gem ledger: balances, the owned-animation set
// and the daily reward. Every balance mutation is a conditional UPDATE
// so concurrent spends can never drive a balance negative.
type Service struct {
	db          *gorm.DB
	friends     FriendLister
	notifier    *notify.Notifier
	audit       *audit.Service
	logger      *zap.Logger
	dailyReward int64

	// now is swappable so reward-rollover tests can move the calendar.
	now func() time.Time
}

func NewService(db *gorm.DB, friends FriendLister, notifier *notify.Notifier, auditSvc *audit.Service, dailyRewardGems int64, logger *zap.Logger) *Service {
	return &Service{
		db:          db,
		friends:     friends,
		notifier:    notifier,
		audit:       auditSvc,
		logger:      logger,
		dailyReward: dailyRewardGems,
		now:         time.Now,
	}
}

const rewardDateLayout = "2006-01-02"

// SetClock overrides the service's clock. Reward tests use it to move
// the calendar.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Provision ensures accountID has a ledger row. Called on every sign-in;
// a no-op when the row already exists.
func (s *Service) Provision(ctx context.Context, accountID int64, signupBonus int64) error {
	row := &model.EconomyAccount{AccountID: accountID, ChatGems: signupBonus}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(row).Error
}

// Purchase spends gems on one catalog animation. Unknown items fail with
// ErrUnknownItem; an already-owned item or an insufficient balance is an
// expected outcome and returns (false, nil). The ownership insert runs
// first so a racing duplicate aborts before any debit, and the debit is
// a single guarded UPDATE, so two concurrent calls can never both spend.
func (s *Service) Purchase(ctx context.Context, accountID int64, animationID string) (bool, error) {
	item, ok := Item(animationID)
	if !ok {
		return false, ErrUnknownItem
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.OwnedAnimation{AccountID: accountID, AnimationID: item.ID})
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return errAlreadyOwned
		}
		res := tx.Model(&model.EconomyAccount{}).
			Where("account_id = ? AND chat_gems >= ?", accountID, item.Price).
			Update("chat_gems", gorm.Expr("chat_gems - ?", item.Price))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errInsufficientFunds
		}
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyOwned), errors.Is(err, errInsufficientFunds):
		return false, nil
	case err != nil:
		return false, err
	}

	s.logCtx(ctx, accountID, "purchase",
		map[string]any{"animation_id": item.ID, "price": item.Price})
	s.publish(ctx, accountID)
	return true, nil
}

// AddGems credits the balance and returns the new total.
func (s *Service) AddGems(ctx context.Context, accountID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	res := s.db.WithContext(ctx).Model(&model.EconomyAccount{}).
		Where("account_id = ?", accountID).
		Update("chat_gems", gorm.Expr("chat_gems + ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		// No ledger row yet. Create an empty one and re-apply the credit
		// through the same UPDATE; provisioning with the amount baked in
		// would lose it to a concurrent provision.
		if err := s.Provision(ctx, accountID, 0); err != nil {
			return 0, err
		}
		res = s.db.WithContext(ctx).Model(&model.EconomyAccount{}).
			Where("account_id = ?", accountID).
			Update("chat_gems", gorm.Expr("chat_gems + ?", amount))
		if res.Error != nil {
			return 0, res.Error
		}
	}

	var row model.EconomyAccount
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error; err != nil {
		return 0, err
	}

	s.logCtx(ctx, accountID, "add_gems", map[string]any{"amount": amount})
	s.publish(ctx, accountID)
	return row.ChatGems, nil
}

// ClaimDailyReward credits the daily gems once per local calendar day.
// The date comparison and the credit are one conditional UPDATE, so two
// calls on the same day can only claim once regardless of interleaving.
func (s *Service) ClaimDailyReward(ctx context.Context, accountID int64) (bool, error) {
	today := s.now().Format(rewardDateLayout)

	claim := func() (int64, error) {
		res := s.db.WithContext(ctx).Model(&model.EconomyAccount{}).
			Where("account_id = ? AND last_reward_date <> ?", accountID, today).
			Updates(map[string]any{
				"chat_gems":        gorm.Expr("chat_gems + ?", s.dailyReward),
				"last_reward_date": today,
			})
		return res.RowsAffected, res.Error
	}

	n, err := claim()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already claimed today, or the account has no ledger row yet.
		// Provision an empty row and retry once so a fresh account's
		// first claim still lands.
		if err := s.Provision(ctx, accountID, 0); err != nil {
			return false, err
		}
		if n, err = claim(); err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}

	s.logCtx(ctx, accountID, "daily_reward",
		map[string]any{"gems": s.dailyReward, "date": today})
	s.publish(ctx, accountID)
	return true, nil
}

// Snapshot reads the balance and owned set for projections. Accounts
// without a ledger row read as empty.
func (s *Service) Snapshot(ctx context.Context, accountID int64) (*Snapshot, error) {
	snap := &Snapshot{AccountID: accountID, OwnedAnimations: []string{}}

	var row model.EconomyAccount
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		snap.ChatGems = row.ChatGems
		snap.LastRewardDate = row.LastRewardDate
	}

	var owned []model.OwnedAnimation
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id").
		Find(&owned).Error; err != nil {
		return nil, err
	}
	for _, o := range owned {
		snap.OwnedAnimations = append(snap.OwnedAnimations, o.AnimationID)
	}
	return snap, nil
}

func (s *Service) logCtx(ctx context.Context, accountID int64, action string, req map[string]any) {
	s.audit.Log(audit.Entry{
		TraceID:   audit.TraceID(ctx),
		AccountID: &accountID,
		Action:    action,
		Request:   req,
	})
}

// publish fans economy_changed out to the owner and everyone whose
// friend list shows the owner's balance.
func (s *Service) publish(ctx context.Context, accountID int64) {
	ids, err := s.friends.FriendIDs(ctx, accountID)
	if err != nil {
		s.logger.Warn("economy fan-out friend lookup failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		ids = nil
	}
	s.notifier.Publish(ctx, notify.Event{
		Type:      notify.EventEconomyChanged,
		AccountID: accountID,
	}, append(ids, accountID)...)
}
