package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/ssebroadcast/internal/metrics"
)

const (
	DefaultQueueCapacity = 10
	DefaultAckMessage    = "connected"
	DefaultSendTimeout   = 1 * time.Second
	DefaultSweepInterval = 10 * time.Second
)

// Eviction reasons, used as metric labels.
const (
	reasonDelivery = "delivery"
	reasonProbe    = "probe"
	reasonShutdown = "shutdown"
)

// Options holds the hub's tunables. Zero fields fall back to the defaults above.
type Options struct {
	QueueCapacity int
	AckMessage    string
	SendTimeout   time.Duration
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.AckMessage == "" {
		o.AckMessage = DefaultAckMessage
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	return o
}

// Hub fans published payloads out to the subscribers of a channel and evicts dead subscribers.
//
// Publish never holds the registry lock while enqueuing. A subscriber whose queue is full is given
// up to SendTimeout to make room; if it does not, or if its connection is gone, it is evicted.
type Hub struct {
	registry *Registry
	clock    clockwork.Clock
	opts     Options
	closed   atomic.Bool
}

// NewHub creates a hub. Call Run to start the liveness sweep.
func NewHub(clock clockwork.Clock, opts Options) *Hub {
	return &Hub{
		registry: NewRegistry(),
		clock:    clock,
		opts:     opts.withDefaults(),
	}
}

// Subscribe registers a new subscriber on channel. The acknowledgment message is enqueued before
// registration, so it is always the first message the subscriber observes.
func (h *Hub) Subscribe(ctx context.Context, channel string) (*Subscriber, error) {
	if h.closed.Load() {
		metrics.HubSubscriptionsTotal.WithLabelValues("closed").Inc()
		return nil, ErrHubClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.HubSubscriptionsTotal.WithLabelValues("setup_failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionSetupFailed, err)
	}

	sub := newSubscriber(channel, h.opts.QueueCapacity, h.clock.Now())
	if err := sub.trySend(Data(h.opts.AckMessage)); err != nil {
		sub.Close()
		metrics.HubSubscriptionsTotal.WithLabelValues("setup_failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionSetupFailed, err)
	}

	count := h.registry.Add(channel, sub)

	// Shutdown may have drained the registry between the check above and Add.
	if h.closed.Load() {
		h.evict(ctx, channel, []*Subscriber{sub}, nil, reasonShutdown)
		metrics.HubSubscriptionsTotal.WithLabelValues("closed").Inc()
		return nil, ErrHubClosed
	}

	metrics.HubSubscriptionsTotal.WithLabelValues("success").Inc()
	h.updateGauges()
	slog.DebugContext(ctx, "Added client to channel", "channel", channel, "subscriber_id", sub.ID().String(), "total_clients", count)
	return sub, nil
}

// Publish delivers payload to every current subscriber of channel. Publishing to a channel without
// subscribers is a no-op. Delivery is best-effort and at-most-once per subscriber; a failure for
// one subscriber evicts it and does not affect the others.
func (h *Hub) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish to channel %q: %w", channel, err)
	}

	snapshot := h.registry.Snapshot(channel)
	if len(snapshot) == 0 {
		slog.InfoContext(ctx, "Channel not found", "channel", channel)
		return nil
	}

	start := h.clock.Now()
	defer func() {
		metrics.HubPublishDuration.Observe(h.clock.Since(start).Seconds())
	}()

	msg := Data(payload)
	delivered := make([]*Subscriber, 0, len(snapshot))
	var full []*Subscriber
	for _, sub := range snapshot {
		switch err := sub.trySend(msg); {
		case err == nil:
			delivered = append(delivered, sub)
		case errors.Is(err, ErrQueueFull):
			full = append(full, sub)
		}
	}

	survivors := delivered
	if len(full) > 0 {
		late, skipped := h.sendBlocked(ctx, full, msg)
		delivered = append(delivered, late...)
		survivors = append(delivered, skipped...)
	}

	if len(delivered) > 0 {
		metrics.HubMessagesPublishedTotal.Inc()
		metrics.HubDeliveriesTotal.WithLabelValues("delivered").Add(float64(len(delivered)))
	}

	if len(survivors) < len(snapshot) {
		metrics.HubDeliveriesTotal.WithLabelValues("failed").Add(float64(len(snapshot) - len(survivors)))
		h.evict(ctx, channel, snapshot, survivors, reasonDelivery)
	}

	slog.DebugContext(ctx, "Broadcast message to channel", "channel", channel, "subscribers", len(snapshot), "delivered", len(delivered))
	return nil
}

// sendBlocked waits, concurrently and for at most SendTimeout each, for room on subscribers whose
// queue was full. It returns the subscribers that took the message and, separately, the ones left
// without it only because ctx ended. Everyone else failed and is to be evicted.
func (h *Hub) sendBlocked(ctx context.Context, subs []*Subscriber, msg Message) (delivered, skipped []*Subscriber) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()

			timer := h.clock.NewTimer(h.opts.SendTimeout)
			defer timer.Stop()

			err := sub.sendWait(ctx, msg, timer.Chan())
			if errors.Is(err, ErrSubscriberGone) || errors.Is(err, ErrQueueFull) {
				slog.WarnContext(ctx, "Delivery failed, evicting subscriber",
					"channel", sub.Channel(),
					"subscriber_id", sub.ID().String(),
					"error", err,
				)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				delivered = append(delivered, sub)
			} else {
				skipped = append(skipped, sub)
			}
		}()
	}

	wg.Wait()
	return delivered, skipped
}

// Sweep probes every subscriber of every channel and evicts the ones whose probe fails.
// A subscriber whose queue is full is still being drained by its transport and survives the sweep
// with its queue intact. Returns the number of evicted subscribers.
func (h *Hub) Sweep(ctx context.Context) int {
	start := h.clock.Now()
	evicted := 0

	for _, channel := range h.registry.Channels() {
		snapshot := h.registry.Snapshot(channel)
		survivors := make([]*Subscriber, 0, len(snapshot))
		for _, sub := range snapshot {
			if probe(sub) {
				survivors = append(survivors, sub)
			}
		}
		if len(survivors) < len(snapshot) {
			evicted += h.evict(ctx, channel, snapshot, survivors, reasonProbe)
		}
	}

	metrics.HubSweepDuration.Observe(h.clock.Since(start).Seconds())
	channels, subscribers := h.registry.Stats()
	slog.DebugContext(ctx, "Liveness sweep complete", "evicted", evicted, "channels", channels, "subscribers", subscribers)
	return evicted
}

func probe(sub *Subscriber) bool {
	err := sub.trySend(Ping())
	return err == nil || errors.Is(err, ErrQueueFull)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.Sweep(ctx)
		}
	}
}

// ClientCount returns the number of live subscribers of channel (0 for an unknown channel).
func (h *Hub) ClientCount(channel string) int {
	return h.registry.ClientCount(channel)
}

// Channels returns the names of all channels with at least one subscriber.
func (h *Hub) Channels() []string {
	return h.registry.Channels()
}

// Stats returns the number of non-empty channels and the total number of subscribers.
func (h *Hub) Stats() (channels, subscribers int) {
	return h.registry.Stats()
}

// Check reports whether the hub still accepts subscriptions. Used as a readiness check.
func (h *Hub) Check(context.Context) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	return nil
}

// Shutdown ends every live stream and rejects later subscriptions.
// It is process teardown, not an unsubscribe API.
func (h *Hub) Shutdown(ctx context.Context) {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	total := 0
	for channel, subs := range h.registry.Drain() {
		for _, sub := range subs {
			sub.Close()
		}
		total += len(subs)
		slog.DebugContext(ctx, "Closed channel", "channel", channel, "clients", len(subs))
	}

	metrics.HubEvictionsTotal.WithLabelValues(reasonShutdown).Add(float64(total))
	h.updateGauges()
	slog.InfoContext(ctx, "Hub shut down", "disconnected_clients", total)
}

// evict is the single eviction path: every member of snapshot not in survivors is marked dead and
// then removed from the channel. Returns the number of subscribers removed from the registry.
func (h *Hub) evict(ctx context.Context, channel string, snapshot, survivors []*Subscriber, reason string) int {
	alive := make(map[*Subscriber]struct{}, len(survivors))
	for _, sub := range survivors {
		alive[sub] = struct{}{}
	}
	for _, sub := range snapshot {
		if _, ok := alive[sub]; !ok {
			sub.Close()
		}
	}

	removed := h.registry.Replace(channel, snapshot, survivors)
	if removed > 0 {
		metrics.HubEvictionsTotal.WithLabelValues(reason).Add(float64(removed))
		h.updateGauges()
		slog.InfoContext(ctx, "Evicted subscribers", "channel", channel, "reason", reason, "evicted", removed, "remaining_clients", h.registry.ClientCount(channel))
	}
	return removed
}

func (h *Hub) updateGauges() {
	channels, subscribers := h.registry.Stats()
	metrics.HubChannelsCurrent.Set(float64(channels))
	metrics.HubSubscribersCurrent.Set(float64(subscribers))
}
