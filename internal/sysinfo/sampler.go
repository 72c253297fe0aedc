// Package sysinfo samples host CPU usage for the /sysinfo endpoint and the CPU producer.
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/ssebroadcast/internal/metrics"
	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/singleflight"
)

const (
	breakerFailureThreshold = 3
	breakerDelay            = 30 * time.Second
	componentName           = "cpu_sampler"
)

// ErrSamplerUnavailable is returned while the circuit breaker is open.
var ErrSamplerUnavailable = errors.New("cpu sampler unavailable")

// Source reads per-CPU usage percentages since the previous read.
type Source func(ctx context.Context) ([]float64, error)

// Sampler reads per-CPU usage. Concurrent callers share one read, and repeated read failures open a
// circuit breaker so a broken source is not hammered every tick.
type Sampler struct {
	source Source
	group  singleflight.Group
	cb     circuitbreaker.CircuitBreaker[any]
}

// NewSampler creates a sampler backed by gopsutil.
func NewSampler() *Sampler {
	return NewSamplerWithSource(func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, true)
	})
}

func NewSamplerWithSource(source Source) *Sampler {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", componentName,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(componentName).Set(stateToFloat(e.NewState))
		}).
		Build()

	return &Sampler{source: source, cb: cb}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// CPUUsage returns one usage percentage per logical CPU.
func (s *Sampler) CPUUsage(ctx context.Context) ([]float64, error) {
	v, err, _ := s.group.Do("cpu", func() (any, error) {
		if !s.cb.TryAcquirePermit() {
			metrics.CPUSamplesTotal.WithLabelValues("circuit_open").Inc()
			return nil, ErrSamplerUnavailable
		}

		usage, err := s.source(ctx)
		if err != nil {
			s.cb.RecordError(err)
			metrics.CPUSamplesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to read cpu usage: %w", err)
		}

		s.cb.RecordSuccess()
		metrics.CPUSamplesTotal.WithLabelValues("success").Inc()
		return usage, nil
	})
	if err != nil {
		return nil, err
	}

	usage := v.([]float64)
	result := make([]float64, len(usage))
	copy(result, usage)
	return result, nil
}

// FormatUsage renders usage as one "<percent>%" line per CPU.
func FormatUsage(usage []float64) string {
	lines := make([]string, len(usage))
	for i, u := range usage {
		lines[i] = strconv.FormatFloat(float64(float32(u)), 'f', -1, 32) + "%"
	}
	return strings.Join(lines, "\n")
}

// Check reports the sampler as unhealthy while its circuit breaker is open.
func (s *Sampler) Check(context.Context) error {
	if s.cb.IsOpen() {
		return ErrSamplerUnavailable
	}
	return nil
}
