package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/astralchat/server/cache"
	"go.uber.org/zap"
)

// EventType names a domain change published through the notifier.
type EventType string

const (
	EventSignedIn              EventType = "signed_in"
	EventSignedOut             EventType = "signed_out"
	EventFriendRequestCreated  EventType = "friend_request_created"
	EventFriendRequestAccepted EventType = "friend_request_accepted"
	EventFriendRequestRejected EventType = "friend_request_rejected"
	EventFriendshipCreated     EventType = "friendship_created"
	EventConversationCreated   EventType = "conversation_created"
	EventPresenceChanged       EventType = "presence_changed"
	EventEconomyChanged        EventType = "economy_changed"
)

// Event is one domain change, delivered to every subscriber of the
// affected accounts. Payload carries event-specific context; consumers
// that need authoritative state re-query it, since events propagate
// eventually and without cross-subscriber ordering.
type Event struct {
	Type      EventType       `json:"type"`
	AccountID int64           `json:"account_id"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Notifier translates engine writes into typed events on per-account
// pub/sub channels and hands typed streams back to consumers.
type Notifier struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// New creates a Notifier on top of the given PubSub.
func New(ps cache.PubSub, logger *zap.Logger) *Notifier {
	return &Notifier{ps: ps, logger: logger}
}

func channelFor(accountID int64) string {
	return fmt.Sprintf("user:%d", accountID)
}

// Publish sends evt to every listed account's channel. Delivery is
// best-effort; a failed publish is logged, not returned, because engine
// writes must not fail after the database already committed.
func (n *Notifier) Publish(ctx context.Context, evt Event, accountIDs ...int64) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("event marshal failed", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}
	seen := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := n.ps.Publish(ctx, channelFor(id), string(data)); err != nil {
			n.logger.Warn("event publish failed",
				zap.String("type", string(evt.Type)),
				zap.Int64("account_id", id),
				zap.Error(err))
		}
	}
}

// Subscribe returns a typed event stream for one account and a cancel
// function. Cancel deterministically stops delivery: once it returns, no
// further event is sent and the underlying subscription is released.
func (n *Notifier) Subscribe(ctx context.Context, accountID int64) (<-chan Event, func(), error) {
	raw, cancel, err := n.ps.Subscribe(ctx, channelFor(accountID))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				n.logger.Warn("malformed event dropped",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- evt:
			default:
				// Slow consumer: drop rather than block the fan-out.
			}
		}
	}()
	return out, cancel, nil
}
