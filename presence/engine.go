package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/astralchat/server/model"
	"github.com/astralchat/server/notify"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendLister yields the accounts that must hear about a presence
// change. Satisfied by relationship.Service.
type FriendLister interface {
	FriendIDs(ctx context.Context, accountID int64) ([]int64, error)
}

// Activity is the optional "currently doing" side channel. It rides on
// the presence record but never drives a status transition.
type Activity struct {
	Type    string `json:"type"` // spotify | game | app
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
}

// Snapshot is a read-only projection of one account's presence.
type Snapshot struct {
	AccountID int64     `json:"account_id"`
	Status    Status    `json:"status"`
	Activity  *Activity `json:"activity,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// Engine owns every account's presence state machine. One Tracker per
// live session; a second StartTracking for the same account displaces
// the first, so a reconnect never leaves a zombie tracker behind.
type Engine struct {
	db           *gorm.DB
	friends      FriendLister
	notifier     *notify.Notifier
	logger       *zap.Logger
	offlineAfter time.Duration

	mu       sync.Mutex
	trackers map[int64]*Tracker
}

// NewEngine creates the presence engine. offlineAfter is the heartbeat
// horizon after which Sweep forces a tracker offline.
func NewEngine(db *gorm.DB, friends FriendLister, notifier *notify.Notifier, offlineAfter time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		db:           db,
		friends:      friends,
		notifier:     notifier,
		logger:       logger,
		offlineAfter: offlineAfter,
		trackers:     make(map[int64]*Tracker),
	}
}

// Tracker is one session's handle on its account's state machine. All
// signals for the session flow through it; after Stop it goes inert.
type Tracker struct {
	engine    *Engine
	accountID int64

	mu       sync.Mutex
	status   Status
	lastBeat time.Time
	stopped  bool
}

// StartTracking registers a tracker for accountID and applies the
// connect signal, bringing the account online. A previous tracker for
// the same account is displaced without touching the stored status.
func (e *Engine) StartTracking(ctx context.Context, accountID int64) (*Tracker, error) {
	t := &Tracker{
		engine:    e,
		accountID: accountID,
		status:    StatusOffline,
		lastBeat:  time.Now(),
	}

	e.mu.Lock()
	if prev, ok := e.trackers[accountID]; ok {
		prev.mu.Lock()
		prev.stopped = true
		prev.mu.Unlock()
	}
	e.trackers[accountID] = t
	e.mu.Unlock()

	if err := t.Signal(ctx, SignalConnect); err != nil {
		e.unregister(t)
		return nil, err
	}
	return t, nil
}

// StopTracking applies a terminal signal (sign_out or disconnect) and
// unregisters the tracker. Safe to call more than once; the WS handler
// defers it on every exit path.
func (e *Engine) StopTracking(ctx context.Context, t *Tracker, sig Signal) {
	if sig != SignalSignOut {
		sig = SignalDisconnect
	}
	if err := t.Signal(ctx, sig); err != nil {
		e.logger.Warn("presence teardown write failed",
			zap.Int64("account_id", t.accountID), zap.Error(err))
	}
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	e.unregister(t)
}

// SignOut drives accountID offline on explicit sign-out. When a live
// tracker exists it is stopped through the state machine; otherwise the
// stored record is forced offline directly, so a sign-out after the
// socket already dropped still lands.
func (e *Engine) SignOut(ctx context.Context, accountID int64) {
	e.mu.Lock()
	t, ok := e.trackers[accountID]
	e.mu.Unlock()
	if ok {
		e.StopTracking(ctx, t, SignalSignOut)
		return
	}
	if err := e.persistStatus(ctx, accountID, StatusOffline, time.Now()); err != nil {
		e.logger.Warn("sign-out presence write failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	e.publish(ctx, accountID, StatusOffline)
}

func (e *Engine) unregister(t *Tracker) {
	e.mu.Lock()
	if cur, ok := e.trackers[t.accountID]; ok && cur == t {
		delete(e.trackers, t.accountID)
	}
	e.mu.Unlock()
}

// Signal feeds one input to the state machine. Illegal signals for the
// current state are ignored. Every legal transition persists status and
// last_seen; only an actual status change fans out to friends.
func (t *Tracker) Signal(ctx context.Context, sig Signal) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.lastBeat = time.Now()
	to, ok := next(t.status, sig)
	if !ok {
		t.mu.Unlock()
		return nil
	}
	changed := to != t.status
	t.status = to
	now := t.lastBeat
	t.mu.Unlock()

	if err := t.engine.persistStatus(ctx, t.accountID, to, now); err != nil {
		return err
	}
	if changed {
		t.engine.publish(ctx, t.accountID, to)
	}
	return nil
}

// Status reports the tracker's current state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetActivity writes the activity side channel for accountID. A nil
// activity clears it. Status and last_seen are left alone.
func (e *Engine) SetActivity(ctx context.Context, accountID int64, activity *Activity) error {
	var blob datatypes.JSON
	if activity != nil {
		data, err := json.Marshal(activity)
		if err != nil {
			return err
		}
		blob = datatypes.JSON(data)
	}
	row := &model.Presence{AccountID: accountID, Activity: blob}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"activity"}),
	}).Create(row).Error
	if err != nil {
		return err
	}
	e.publish(ctx, accountID, "")
	return nil
}

// Get returns the stored presence for accountID. Accounts without a row
// yet read as offline.
func (e *Engine) Get(ctx context.Context, accountID int64) (*Snapshot, error) {
	var row model.Presence
	err := e.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Snapshot{AccountID: accountID, Status: StatusOffline}, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		AccountID: accountID,
		Status:    Status(row.Status),
		LastSeen:  row.LastSeen,
	}
	if len(row.Activity) > 0 {
		var act Activity
		if err := json.Unmarshal(row.Activity, &act); err == nil {
			snap.Activity = &act
		}
	}
	return snap, nil
}

// Sweep forces trackers whose last heartbeat predates the horizon to
// offline. A stale socket that missed its close frame still goes dark
// within one sweep interval. Returns how many trackers were swept.
func (e *Engine) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-e.offlineAfter)

	e.mu.Lock()
	var stale []*Tracker
	for _, t := range e.trackers {
		t.mu.Lock()
		if t.lastBeat.Before(cutoff) {
			stale = append(stale, t)
		}
		t.mu.Unlock()
	}
	e.mu.Unlock()

	for _, t := range stale {
		e.StopTracking(ctx, t, SignalDisconnect)
		e.logger.Info("presence tracker swept offline",
			zap.Int64("account_id", t.accountID))
	}
	return len(stale)
}

func (e *Engine) persistStatus(ctx context.Context, accountID int64, st Status, at time.Time) error {
	row := &model.Presence{AccountID: accountID, Status: string(st), LastSeen: at}
	return e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen"}),
	}).Create(row).Error
}

// publish fans a presence_changed event out to the owner and every
// friend. st may be empty for activity-only updates; consumers re-query
// the record either way.
func (e *Engine) publish(ctx context.Context, accountID int64, st Status) {
	ids, err := e.friends.FriendIDs(ctx, accountID)
	if err != nil {
		e.logger.Warn("presence fan-out friend lookup failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		ids = nil
	}
	payload, _ := json.Marshal(map[string]string{"status": string(st)})
	e.notifier.Publish(ctx, notify.Event{
		Type:      notify.EventPresenceChanged,
		AccountID: accountID,
		Payload:   payload,
	}, append(ids, accountID)...)
}
