package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan *LocalMessage
	closed bool
}

// send delivers msg unless the subscriber has been cancelled. The send
// happens under the subscriber mutex, so cancel cannot close the channel
// between the closed check and the send.
func (s *subscriber) send(msg *LocalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Drop message if buffer is full (non-blocking)
	}
}

// LocalPubSub is an in-process fan-out pub/sub implementation. It carries
// the change-notification traffic when no Redis is configured.
type LocalPubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufSize     int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]*subscriber),
		bufSize:     bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	subs := ps.subscribers[channel]
	ps.mu.RUnlock()
	for _, s := range subs {
		s.send(msg)
	}
	return nil
}

// Subscribe returns a channel of messages for the given channels, and a
// cancel function. After cancel returns, no further message is delivered.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)
	subs := make([]*subscriber, len(channels))

	ps.mu.Lock()
	for i, c := range channels {
		s := &subscriber{ch: ch}
		ps.subscribers[c] = append(ps.subscribers[c], s)
		subs[i] = s
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			for i, c := range channels {
				list := ps.subscribers[c]
				for j, sub := range list {
					if sub == subs[i] {
						ps.subscribers[c] = append(list[:j], list[j+1:]...)
						break
					}
				}
			}
			ps.mu.Unlock()

			// A publisher may still hold a snapshot that includes these
			// subscribers. Mark each one closed under its own mutex so any
			// in-flight send completes or bails before the channel closes.
			for _, sub := range subs {
				sub.mu.Lock()
				sub.closed = true
				sub.mu.Unlock()
			}
			close(ch)
		})
	}

	return ch, cancel, nil
}
