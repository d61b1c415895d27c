package economy_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/astralchat/server/audit"
	"github.com/astralchat/server/economy"
	"github.com/astralchat/server/model"
	"github.com/astralchat/server/notify"
	"github.com/astralchat/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noFriends struct{}

func (noFriends) FriendIDs(context.Context, int64) ([]int64, error) { return nil, nil }

func newService(t *testing.T) (*economy.Service, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	n := notify.New(ps, logger)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	return economy.NewService(db, noFriends{}, n, auditSvc, 10, logger), db
}

func balance(t *testing.T, db *gorm.DB, accountID int64) int64 {
	t.Helper()
	var row model.EconomyAccount
	require.NoError(t, db.Where("account_id = ?", accountID).First(&row).Error)
	return row.ChatGems
}

func TestCatalog(t *testing.T) {
	items := economy.Catalog()
	require.Len(t, items, 5)

	item, ok := economy.Item("sparkle-message")
	require.True(t, ok)
	assert.Equal(t, int64(50), item.Price)
	assert.Equal(t, "message", item.Type)

	_, ok = economy.Item("nonexistent")
	assert.False(t, ok)
}

func TestProvisionIsIdempotent(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Provision(ctx, 1, 0))
	require.NoError(t, svc.Provision(ctx, 1, 500))
	assert.Equal(t, int64(0), balance(t, db, 1), "re-provision must not re-credit")
}

func TestPurchase_UnknownItem(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.Provision(context.Background(), 1, 100))

	_, err := svc.Purchase(context.Background(), 1, "golden-unicorn")
	assert.ErrorIs(t, err, economy.ErrUnknownItem)
}

func TestPurchase_ExactBalance(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Provision(ctx, 1, 50))

	granted, err := svc.Purchase(ctx, 1, "sparkle-message")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(0), balance(t, db, 1))

	snap, err := svc.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sparkle-message"}, snap.OwnedAnimations)

	// Buying the owned item again is a quiet no-op, balance untouched.
	granted, err = svc.Purchase(ctx, 1, "sparkle-message")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, int64(0), balance(t, db, 1))
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Provision(ctx, 1, 59))

	granted, err := svc.Purchase(ctx, 1, "confetti-burst")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, int64(59), balance(t, db, 1))

	snap, err := svc.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, snap.OwnedAnimations, "a failed purchase must not grant ownership")
}

func TestPurchase_ConcurrentSameItemDebitsOnce(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Provision(ctx, 1, 100))

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Purchase(ctx, 1, "confetti-burst")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0], results[1], "exactly one call may be granted")
	assert.Equal(t, int64(40), balance(t, db, 1), "the item is debited exactly once")

	var owned int64
	db.Model(&model.OwnedAnimation{}).Where("account_id = ?", 1).Count(&owned)
	assert.Equal(t, int64(1), owned)
}

func TestAddGems(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Provision(ctx, 1, 0))

	_, err := svc.AddGems(ctx, 1, 0)
	assert.ErrorIs(t, err, economy.ErrInvalidAmount)
	_, err = svc.AddGems(ctx, 1, -5)
	assert.ErrorIs(t, err, economy.ErrInvalidAmount)

	newBalance, err := svc.AddGems(ctx, 1, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25), newBalance)

	newBalance, err = svc.AddGems(ctx, 1, 75)
	require.NoError(t, err)
	assert.Equal(t, int64(100), newBalance)
}

func TestAddGems_ProvisionsMissingAccount(t *testing.T) {
	svc, _ := newService(t)

	newBalance, err := svc.AddGems(context.Background(), 42, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), newBalance)
}

func TestAddGems_ConcurrentFirstCredits(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	// Both callers see no ledger row; neither credit may be lost to the
	// other's provisioning.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, amount := range []int64{30, 12} {
		wg.Add(1)
		go func(i int, amount int64) {
			defer wg.Done()
			_, errs[i] = svc.AddGems(ctx, 42, amount)
		}(i, amount)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(42), balance(t, db, 42))
}

func TestClaimDailyReward(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Provision(ctx, 1, 0))

	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	svc.SetClock(func() time.Time { return day })

	claimed, err := svc.ClaimDailyReward(ctx, 1)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, int64(10), balance(t, db, 1))

	// Same calendar day, even hours later: already claimed.
	svc.SetClock(func() time.Time { return day.Add(10 * time.Hour) })
	claimed, err = svc.ClaimDailyReward(ctx, 1)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(10), balance(t, db, 1))

	// Date rollover re-arms the reward.
	svc.SetClock(func() time.Time { return day.AddDate(0, 0, 1) })
	claimed, err = svc.ClaimDailyReward(ctx, 1)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, int64(20), balance(t, db, 1))
}

func TestClaimDailyReward_ProvisionsMissingAccount(t *testing.T) {
	svc, db := newService(t)

	claimed, err := svc.ClaimDailyReward(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, int64(10), balance(t, db, 42))

	// The provisioned row carries today's date, so a second claim declines.
	claimed, err = svc.ClaimDailyReward(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(10), balance(t, db, 42))
}

func TestSnapshot_UnprovisionedAccount(t *testing.T) {
	svc, _ := newService(t)

	snap, err := svc.Snapshot(context.Background(), 404)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.ChatGems)
	assert.Empty(t, snap.OwnedAnimations)
	assert.Empty(t, snap.LastRewardDate)
}

func TestMutationsAreAudited(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	n := notify.New(ps, logger)
	auditSvc := audit.New(db, logger)
	svc := economy.NewService(db, noFriends{}, n, auditSvc, 10, logger)
	ctx := context.Background()

	require.NoError(t, svc.Provision(ctx, 1, 100))
	_, err := svc.Purchase(ctx, 1, "sparkle-message")
	require.NoError(t, err)
	_, err = svc.ClaimDailyReward(ctx, 1)
	require.NoError(t, err)

	auditSvc.Stop(ctx)

	var actions []string
	require.NoError(t, db.Model(&model.AuditLog{}).Order("id").Pluck("action", &actions).Error)
	assert.Equal(t, []string{"purchase", "daily_reward"}, actions)
}
