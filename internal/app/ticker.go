package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/ssebroadcast/internal/metrics"
	"github.com/pscheid92/ssebroadcast/internal/platform/correlation"
	"github.com/pscheid92/ssebroadcast/internal/sysinfo"
)

const DefaultCPUInterval = 2 * time.Second

type channelHub interface {
	Publish(ctx context.Context, channel, payload string) error
	ClientCount(channel string) int
}

type usageSampler interface {
	CPUUsage(ctx context.Context) ([]float64, error)
}

// CPUPublisher publishes CPU usage to one channel while that channel has subscribers.
// At most one loop runs at a time; it stops itself when the channel is empty and is restarted by
// the next EnsureRunning.
type CPUPublisher struct {
	hub      channelHub
	sampler  usageSampler
	clock    clockwork.Clock
	channel  string
	interval time.Duration

	running atomic.Bool
}

func NewCPUPublisher(hub channelHub, sampler usageSampler, clock clockwork.Clock, channel string, interval time.Duration) *CPUPublisher {
	if interval <= 0 {
		interval = DefaultCPUInterval
	}
	return &CPUPublisher{
		hub:      hub,
		sampler:  sampler,
		clock:    clock,
		channel:  channel,
		interval: interval,
	}
}

func (p *CPUPublisher) Channel() string {
	return p.channel
}

func (p *CPUPublisher) Running() bool {
	return p.running.Load()
}

// EnsureRunning starts the loop unless it is already running. It returns true if this call started it.
// ctx bounds the loop's lifetime; pass a context that outlives the triggering request.
func (p *CPUPublisher) EnsureRunning(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		return false
	}

	metrics.ProducerRunning.WithLabelValues(p.channel).Set(1)
	slog.InfoContext(ctx, "Producer started", "channel", p.channel, "interval", p.interval)
	go p.run(ctx)
	return true
}

func (p *CPUPublisher) run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stop(ctx, "context done")
			return
		case <-ticker.Chan():
			if p.hub.ClientCount(p.channel) == 0 && !p.release(ctx) {
				return
			}
			p.publish(ctx)
		}
	}
}

// release gives up the running flag because the channel is empty. A subscriber that arrived in
// between saw the flag still set and did not start a loop, so the flag is reclaimed if the channel
// is no longer empty. Returns true if this loop keeps running.
func (p *CPUPublisher) release(ctx context.Context) bool {
	p.stop(ctx, "no subscribers")
	if p.hub.ClientCount(p.channel) == 0 || !p.running.CompareAndSwap(false, true) {
		return false
	}
	metrics.ProducerRunning.WithLabelValues(p.channel).Set(1)
	return true
}

func (p *CPUPublisher) stop(ctx context.Context, reason string) {
	p.running.Store(false)
	metrics.ProducerRunning.WithLabelValues(p.channel).Set(0)
	slog.InfoContext(ctx, "Producer stopped", "channel", p.channel, "reason", reason)
}

func (p *CPUPublisher) publish(ctx context.Context) {
	tickCtx := correlation.WithID(ctx, correlation.NewID())

	usage, err := p.sampler.CPUUsage(tickCtx)
	if err != nil {
		slog.WarnContext(tickCtx, "Producer: sample failed", "channel", p.channel, "error", err)
		return
	}

	if err := p.hub.Publish(tickCtx, p.channel, sysinfo.FormatUsage(usage)); err != nil {
		slog.WarnContext(tickCtx, "Producer: publish failed", "channel", p.channel, "error", err)
	}
}
