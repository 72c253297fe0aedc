package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber is one connected client's outbound delivery path.
//
// The hub enqueues onto a bounded queue; the transport drains Messages() until Done() is closed and
// calls Close() when the client disconnects, which makes every later enqueue fail with
// ErrSubscriberGone so the subscriber is evicted on the next publish or sweep.
type Subscriber struct {
	id        uuid.UUID
	channel   string
	joinedAt  time.Time
	queue     chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(channel string, capacity int, joinedAt time.Time) *Subscriber {
	return &Subscriber{
		id:       uuid.New(),
		channel:  channel,
		joinedAt: joinedAt,
		queue:    make(chan Message, capacity),
		done:     make(chan struct{}),
	}
}

func (s *Subscriber) ID() uuid.UUID {
	return s.id
}

func (s *Subscriber) Channel() string {
	return s.channel
}

// JoinedAt is when the subscriber was registered, on the hub's clock.
func (s *Subscriber) JoinedAt() time.Time {
	return s.joinedAt
}

// Messages is the readable side of the queue. It is never closed; select on Done() as well.
func (s *Subscriber) Messages() <-chan Message {
	return s.queue
}

// Done is closed once the subscriber is dead, either because the transport closed it or because
// the hub evicted it.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close marks the subscriber dead. Safe to call more than once and from any goroutine.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Subscriber) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Pending returns the number of queued, not yet drained messages.
func (s *Subscriber) Pending() int {
	return len(s.queue)
}

// trySend enqueues without waiting.
func (s *Subscriber) trySend(msg Message) error {
	if !s.Alive() {
		return ErrSubscriberGone
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// sendWait enqueues, waiting until there is room, the subscriber dies, expired fires or ctx ends.
func (s *Subscriber) sendWait(ctx context.Context, msg Message, expired <-chan time.Time) error {
	if !s.Alive() {
		return ErrSubscriberGone
	}
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrSubscriberGone
	case <-expired:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}
