package httpserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestStreamLimits_GlobalLimit(t *testing.T) {
	limits := newStreamLimits(clockwork.NewFakeClock(), 2, 10, 100, 100)

	ok, _ := limits.acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.acquire("10.0.0.2")
	assert.True(t, ok)

	ok, reason := limits.acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, limitReasonGlobal, reason)
	assert.Equal(t, int64(2), limits.active())

	limits.release("10.0.0.1")
	ok, _ = limits.acquire("10.0.0.3")
	assert.True(t, ok)
}

func TestStreamLimits_PerIPLimitRollsBackGlobal(t *testing.T) {
	limits := newStreamLimits(clockwork.NewFakeClock(), 10, 1, 100, 100)

	ok, _ := limits.acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := limits.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitReasonPerIP, reason)
	assert.Equal(t, int64(1), limits.active())
	assert.Equal(t, 1, limits.countFor("10.0.0.1"))

	limits.release("10.0.0.1")
	assert.Equal(t, int64(0), limits.active())
	assert.Equal(t, 0, limits.countFor("10.0.0.1"))
}

func TestStreamLimits_RateLimitRefillsWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := newStreamLimits(clock, 100, 100, 1, 2)

	for n := 0; n < 2; n++ {
		ok, _ := limits.acquire("10.0.0.1")
		assert.True(t, ok)
	}

	ok, reason := limits.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitReasonRate, reason)

	ok, _ = limits.acquire("10.0.0.2")
	assert.True(t, ok, "other IPs have their own bucket")

	clock.Advance(time.Second)
	ok, _ = limits.acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestStreamLimits_CleanupDropsIdleBuckets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := newStreamLimits(clock, 100, 100, 10, 10)

	limits.allow("10.0.0.1")
	limits.allow("10.0.0.2")
	assert.Equal(t, 2, limits.trackedBuckets())

	clock.Advance(limiterIdleExpiry + time.Minute)
	limits.allow("10.0.0.3")

	assert.Equal(t, 1, limits.trackedBuckets())
}

func TestStreamLimits_Concurrent(t *testing.T) {
	limits := newStreamLimits(clockwork.NewFakeClock(), 50, 1000, 1000, 1000)
	var accepted atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for n := 0; n < 100; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := limits.acquire("10.0.0.1"); ok {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), accepted.Load())
	assert.Equal(t, int64(50), limits.active())
	assert.Equal(t, 50, limits.countFor("10.0.0.1"))
}
