package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleExpiry      = 10 * time.Minute
)

// limitReason describes why a stream connection was rejected. Used as a metric label.
type limitReason string

const (
	limitReasonGlobal limitReason = "global_limit"
	limitReasonPerIP  limitReason = "per_ip_limit"
	limitReasonRate   limitReason = "rate_limit"
)

// streamLimits caps long-lived stream connections: a global ceiling, a per-IP ceiling
// and a per-IP token bucket on new connections.
type streamLimits struct {
	clock clockwork.Clock

	current   atomic.Int64
	globalMax int64

	mu        sync.Mutex
	perIP     map[string]int
	perIPMax  int
	buckets   map[string]*bucket
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newStreamLimits(clock clockwork.Clock, globalMax int64, perIPMax int, connectionsPerSecond float64, burst int) *streamLimits {
	return &streamLimits{
		clock:     clock,
		globalMax: globalMax,
		perIP:     make(map[string]int),
		perIPMax:  perIPMax,
		buckets:   make(map[string]*bucket),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(limiterCleanupInterval),
	}
}

// acquire reserves a stream slot for ip. On success the caller must call release(ip).
func (l *streamLimits) acquire(ip string) (bool, limitReason) {
	if !l.allow(ip) {
		return false, limitReasonRate
	}

	for {
		current := l.current.Load()
		if current >= l.globalMax {
			return false, limitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			break
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perIP[ip] >= l.perIPMax {
		l.current.Add(-1)
		return false, limitReasonPerIP
	}
	l.perIP[ip]++
	return true, ""
}

func (l *streamLimits) release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 1 {
		l.perIP[ip] = count - 1
	} else {
		delete(l.perIP, ip)
	}
	l.mu.Unlock()

	l.current.Add(-1)
}

func (l *streamLimits) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// cleanup drops buckets idle for longer than limiterIdleExpiry. Must be called with mu held.
func (l *streamLimits) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleExpiry)
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

func (l *streamLimits) active() int64 {
	return l.current.Load()
}

func (l *streamLimits) countFor(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

func (l *streamLimits) trackedBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
