package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHub struct {
	clients atomic.Int32

	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	Channel string
	Payload string
}

func (m *mockHub) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{Channel: channel, Payload: payload})
	return nil
}

func (m *mockHub) ClientCount(_ string) int {
	return int(m.clients.Load())
}

func (m *mockHub) getPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.published))
	copy(result, m.published)
	return result
}

type mockSampler struct {
	usage []float64
	err   error
}

func (m *mockSampler) CPUUsage(_ context.Context) ([]float64, error) {
	return m.usage, m.err
}

func startPublisher(t *testing.T, hub *mockHub, sampler *mockSampler) (*CPUPublisher, *clockwork.FakeClock, context.CancelFunc) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	publisher := NewCPUPublisher(hub, sampler, clock, "cpu", 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.True(t, publisher.EnsureRunning(ctx))

	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))

	return publisher, clock, cancel
}

func TestCPUPublisher_PublishesWhileSubscribed(t *testing.T) {
	hub := &mockHub{}
	hub.clients.Store(1)
	_, clock, _ := startPublisher(t, hub, &mockSampler{usage: []float64{12.5, 50}})

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		published := hub.getPublished()
		return len(published) == 1 && published[0] == publishedMessage{Channel: "cpu", Payload: "12.5%\n50%"}
	}, time.Second, 5*time.Millisecond)
}

func TestCPUPublisher_EnsureRunningIsIdempotent(t *testing.T) {
	hub := &mockHub{}
	hub.clients.Store(1)
	publisher, _, _ := startPublisher(t, hub, &mockSampler{usage: []float64{1}})

	assert.False(t, publisher.EnsureRunning(context.Background()))
	assert.True(t, publisher.Running())
}

func TestCPUPublisher_ConcurrentEnsureRunningStartsOneLoop(t *testing.T) {
	hub := &mockHub{}
	hub.clients.Store(1)
	publisher := NewCPUPublisher(hub, &mockSampler{usage: []float64{1}}, clockwork.NewFakeClock(), "cpu", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if publisher.EnsureRunning(ctx) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
}

func TestCPUPublisher_StopsWithoutSubscribersAndRestarts(t *testing.T) {
	hub := &mockHub{}
	publisher, clock, _ := startPublisher(t, hub, &mockSampler{usage: []float64{1}})

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return !publisher.Running() }, time.Second, 5*time.Millisecond)
	assert.Empty(t, hub.getPublished())

	hub.clients.Store(1)
	assert.True(t, publisher.EnsureRunning(context.Background()), "producer must be restartable")
}

func TestCPUPublisher_SampleFailureSkipsTick(t *testing.T) {
	hub := &mockHub{}
	hub.clients.Store(1)
	publisher, clock, _ := startPublisher(t, hub, &mockSampler{err: errors.New("boom")})

	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, hub.getPublished())
	assert.True(t, publisher.Running())
}

func TestCPUPublisher_StopsOnContextCancel(t *testing.T) {
	hub := &mockHub{}
	hub.clients.Store(1)
	publisher, _, cancel := startPublisher(t, hub, &mockSampler{usage: []float64{1}})

	cancel()

	assert.Eventually(t, func() bool { return !publisher.Running() }, time.Second, 5*time.Millisecond)
}
