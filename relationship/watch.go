package relationship

import (
	"context"

	"github.com/astralchat/server/notify"
	"go.uber.org/zap"
)

// friendListEvents are the event types that can change a friend list
// projection (membership, presence or economy of a friend).
var friendListEvents = map[notify.EventType]bool{
	notify.EventFriendshipCreated: true,
	notify.EventPresenceChanged:   true,
	notify.EventEconomyChanged:    true,
}

// pendingListEvents are the event types that can change the inbound
// pending request projection.
var pendingListEvents = map[notify.EventType]bool{
	notify.EventFriendRequestCreated:  true,
	notify.EventFriendRequestAccepted: true,
	notify.EventFriendRequestRejected: true,
}

// WatchFriends delivers the caller's friend list: one snapshot immediately,
// then a fresh snapshot after every relevant change. The snapshot is always
// re-queried rather than patched from the event, since events carry no
// ordering guarantee across subscribers. Cancel stops delivery and releases
// the underlying subscription.
func (s *Service) WatchFriends(ctx context.Context, accountID int64) (<-chan []Friend, func(), error) {
	events, cancelSub, err := s.notifier.Subscribe(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []Friend, 8)
	go func() {
		defer close(out)
		s.pushFriends(ctx, accountID, out)
		for evt := range events {
			if !friendListEvents[evt.Type] {
				continue
			}
			s.pushFriends(ctx, accountID, out)
		}
	}()
	return out, cancelSub, nil
}

func (s *Service) pushFriends(ctx context.Context, accountID int64, out chan<- []Friend) {
	snapshot, err := s.ListFriends(ctx, accountID)
	if err != nil {
		s.logger.Warn("friend snapshot failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	select {
	case out <- snapshot:
	default:
		// Slow consumer: the next event will produce a fresher snapshot anyway.
	}
}

// WatchPendingRequests delivers the caller's inbound pending requests the
// same way WatchFriends delivers friends.
func (s *Service) WatchPendingRequests(ctx context.Context, accountID int64) (<-chan []PendingRequest, func(), error) {
	events, cancelSub, err := s.notifier.Subscribe(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []PendingRequest, 8)
	go func() {
		defer close(out)
		s.pushPending(ctx, accountID, out)
		for evt := range events {
			if !pendingListEvents[evt.Type] {
				continue
			}
			s.pushPending(ctx, accountID, out)
		}
	}()
	return out, cancelSub, nil
}

func (s *Service) pushPending(ctx context.Context, accountID int64, out chan<- []PendingRequest) {
	snapshot, err := s.ListPendingRequests(ctx, accountID)
	if err != nil {
		s.logger.Warn("pending request snapshot failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	select {
	case out <- snapshot:
	default:
	}
}
