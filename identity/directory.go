package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/astralchat/server/model"
	"github.com/astralchat/server/notify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrUnknownUser is returned when no account matches a lookup.
var ErrUnknownUser = errors.New("identity: unknown user")

// ErrBadCredentials is returned for a wrong password or disabled account.
var ErrBadCredentials = errors.New("identity: bad credentials")

// Directory resolves accounts and owns the sign-in/sign-out lifecycle.
// Engines depend on it instead of querying accounts themselves, so email
// stays a lookup attribute and never leaks into relationship keys.
type Directory struct {
	db       *gorm.DB
	notifier *notify.Notifier
	logger   *zap.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(db *gorm.DB, notifier *notify.Notifier, logger *zap.Logger) *Directory {
	return &Directory{db: db, notifier: notifier, logger: logger}
}

// NormalizeEmail lower-cases and trims an email so lookups are
// case-insensitive regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolve looks up an account by email.
func (d *Directory) Resolve(ctx context.Context, email string) (*model.Account, error) {
	var acc model.Account
	err := d.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ByID looks up an account by its stable id.
func (d *Directory) ByID(ctx context.Context, id int64) (*model.Account, error) {
	var acc model.Account
	err := d.db.WithContext(ctx).First(&acc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Authenticate verifies email+password, auto-registering unknown emails.
// The returned bool reports whether a new account was created.
func (d *Directory) Authenticate(ctx context.Context, email, password, ip string) (*model.Account, bool, error) {
	email = NormalizeEmail(email)

	var acc model.Account
	err := d.db.WithContext(ctx).Where("email = ?", email).First(&acc).Error

	created := false
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), 12)
		if hashErr != nil {
			return nil, false, hashErr
		}
		acc = model.Account{Email: email, PasswordHash: string(hash), Status: 1}
		if createErr := d.db.WithContext(ctx).Create(&acc).Error; createErr != nil {
			return nil, false, createErr
		}
		created = true
	case err != nil:
		return nil, false, err
	default:
		if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
			return nil, false, ErrBadCredentials
		}
		if acc.Status == 0 {
			return nil, false, ErrBadCredentials
		}
	}

	now := time.Now()
	_ = d.db.WithContext(ctx).Model(&acc).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": ip,
	})

	d.notifier.Publish(ctx, notify.Event{Type: notify.EventSignedIn, AccountID: acc.ID}, acc.ID)
	d.logger.Info("signed in", zap.Int64("account_id", acc.ID), zap.Bool("registered", created))
	return &acc, created, nil
}

// SignedOut publishes the signed-out lifecycle event.
func (d *Directory) SignedOut(ctx context.Context, accountID int64) {
	d.notifier.Publish(ctx, notify.Event{Type: notify.EventSignedOut, AccountID: accountID}, accountID)
	d.logger.Info("signed out", zap.Int64("account_id", accountID))
}
