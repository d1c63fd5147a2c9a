package sysmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfd/internal/domain"
)

func sampleWith(cpu, memory float64, queue int) domain.SystemSample {
	return domain.SystemSample{
		Timestamp:     time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		CPUPercent:    cpu,
		MemoryPercent: memory,
		QueueDepth:    queue,
	}
}

func TestSampler_StartStopIdempotent(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe:    NewStaticProbe(sampleWith(10, 10, 0)),
		Interval: time.Hour,
	})
	s.Start()
	s.Start()
	assert.True(t, s.Running())
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestSampler_AlertRaiseAndAutoResolve(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(
			sampleWith(90, 10, 0), // critical CPU
			sampleWith(10, 10, 0), // cleared
		),
	})

	s.Tick(context.Background())
	unresolved := false
	alerts := s.Alerts(&unresolved)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.ResourceCPU, alerts[0].Resource)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.False(t, alerts[0].Resolved)

	s.Tick(context.Background())
	assert.Empty(t, s.Alerts(&unresolved))
	resolved := true
	history := s.Alerts(&resolved)
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	require.NotNil(t, history[0].ResolvedAt)
}

func TestSampler_EscalatesSeverity(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(
			sampleWith(72, 10, 0), // warning
			sampleWith(96, 10, 0), // emergency
		),
	})

	s.Tick(context.Background())
	s.Tick(context.Background())

	unresolved := false
	alerts := s.Alerts(&unresolved)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityEmergency, alerts[0].Severity)
}

func TestSampler_ScaleUpDecision(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(sampleWith(90, 90, 5)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Subscribe(ctx)

	for i := 0; i < scaleWindow; i++ {
		s.Tick(context.Background())
	}

	var decision *domain.ScalingDecision
	for len(events) > 0 {
		event := <-events
		if event.Kind == domain.ResourceEventScale {
			decision = event.Scale
		}
	}
	require.NotNil(t, decision, "cpu>80 and memory>85 held for ten samples")
	assert.Equal(t, domain.ScaleUp, decision.Direction)
}

func TestSampler_ScaleDownDecision(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(sampleWith(5, 5, 0)),
	})

	for i := 0; i < scaleWindow-1; i++ {
		s.Tick(context.Background())
	}
	window := s.ring.snapshot()
	assert.Nil(t, evaluateScale(window, time.Now()), "needs ten samples first")

	s.Tick(context.Background())
	decision := evaluateScale(s.ring.snapshot(), time.Now())
	require.NotNil(t, decision)
	assert.Equal(t, domain.ScaleDown, decision.Direction)
}

func TestSampler_NoScaleDecisionAtModerateLoad(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(sampleWith(50, 50, 20)),
	})
	for i := 0; i < scaleWindow; i++ {
		s.Tick(context.Background())
	}
	assert.Nil(t, evaluateScale(s.ring.snapshot(), time.Now()))
}

func TestSampler_SlowSubscriberDoesNotStallLoop(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(sampleWith(96, 10, 0)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Subscribe but never drain.
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBufferSize*3; i++ {
			s.Tick(context.Background())
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sampling loop blocked on a slow subscriber")
	}
}

func TestSampler_SubscriptionClosesOnContextCancel(t *testing.T) {
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(sampleWith(10, 10, 0)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	events := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel did not close")
	}
}

func TestSampler_Summary(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	s := NewSampler(SamplerOptions{
		Probe: NewStaticProbe(
			domain.SystemSample{Timestamp: now.Add(-time.Minute), CPUPercent: 40, MemoryPercent: 20, QueueDepth: 4},
			domain.SystemSample{Timestamp: now.Add(-30 * time.Second), CPUPercent: 60, MemoryPercent: 40, QueueDepth: 8},
		),
		Now: func() time.Time { return now },
	})
	s.Tick(context.Background())
	s.Tick(context.Background())

	summary := s.Summary(10 * time.Minute)
	assert.Equal(t, 2, summary.SampleCount)
	assert.InDelta(t, 50, summary.AvgCPU, 1e-9)
	assert.InDelta(t, 60, summary.MaxCPU, 1e-9)
	assert.Equal(t, 8, summary.MaxQueueDepth)
}

func TestRing_EvictsOldestPastCapacity(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(domain.SystemSample{QueueDepth: i})
	}
	snapshot := r.snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, 3, snapshot[0].QueueDepth)
	assert.Equal(t, 5, snapshot[2].QueueDepth)

	tail := r.tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].QueueDepth)
	assert.Equal(t, 5, tail[1].QueueDepth)
}
