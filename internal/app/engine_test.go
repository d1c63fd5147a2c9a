package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfd/internal/domain"
	"perfd/internal/infra/metricstore"
	"perfd/internal/infra/sysmon"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := domain.DefaultEngineConfig()
	cfg.Profiles = []domain.BackendProfile{
		{BackendID: "backend-a", Modalities: []domain.Modality{domain.ModalityText}, SpeedScore: 0.8, CostPerUnit: 0.01},
		{BackendID: "backend-b", Modalities: []domain.Modality{domain.ModalityText}, SpeedScore: 0.4, CostPerUnit: 0.03},
	}
	engine, err := NewEngine(EngineOptions{
		Config: cfg,
		Store:  metricstore.NewMemoryStore(),
		Probe:  sysmon.NewStaticProbe(domain.SystemSample{CPUPercent: 20, MemoryPercent: 30}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func sampleFor(backendID string, d time.Duration, ok bool) domain.MetricSample {
	return domain.MetricSample{
		BackendID: backendID,
		Duration:  d,
		Succeeded: ok,
	}
}

func TestEngine_RecordAndSummarize(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, engine.RecordPerformance(ctx, sampleFor("backend-a", 2*time.Second, true)))
	}
	require.NoError(t, engine.RecordPerformance(ctx, sampleFor("backend-a", 2*time.Second, false)))

	summary, err := engine.GetSummary(ctx, "backend-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 21, summary.Count)
	assert.InDelta(t, 20.0/21.0, summary.SuccessRate, 1e-9)
	assert.Equal(t, 2*time.Second, summary.AvgDuration)
}

func TestEngine_RecordRejectsInvalidSample(t *testing.T) {
	engine := newTestEngine(t)
	err := engine.RecordPerformance(context.Background(), domain.MetricSample{Duration: time.Second})
	assert.ErrorIs(t, err, domain.ErrUnknownBackend)
}

func TestEngine_SelectBackendDefaultsToTracked(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, engine.RecordPerformance(ctx, sampleFor("backend-a", time.Second, true)))
		require.NoError(t, engine.RecordPerformance(ctx, sampleFor("backend-b", 10*time.Second, true)))
	}

	decision, err := engine.SelectBackend(ctx, domain.TaskFeatures{TaskID: "t1"}, nil, domain.StrategyLowestLatency)
	require.NoError(t, err)
	assert.Equal(t, "backend-a", decision.Backend)
}

func TestEngine_SelectBackendWithNothingTracked(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	engine, err := NewEngine(EngineOptions{Config: cfg, Store: metricstore.NewMemoryStore()})
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.SelectBackend(context.Background(), domain.TaskFeatures{}, nil, domain.StrategyBalanced)
	assert.ErrorIs(t, err, domain.ErrNoEligibleBackends)
}

func TestEngine_RecommendBackends(t *testing.T) {
	engine := newTestEngine(t)
	decisions, err := engine.RecommendBackends(context.Background(), domain.TaskFeatures{}, nil, 2)
	require.NoError(t, err)
	assert.Len(t, decisions, 2, "nil eligible ranks every tracked backend")

	restricted, err := engine.RecommendBackends(context.Background(), domain.TaskFeatures{}, []string{"backend-b"}, 2)
	require.NoError(t, err)
	require.Len(t, restricted, 1)
	assert.Equal(t, "backend-b", restricted[0].Backend)
}

func TestEngine_ThresholdLifecycle(t *testing.T) {
	engine := newTestEngine(t)

	threshold := domain.Threshold{
		Name:          "latency-slo",
		Metric:        domain.MetricLatency,
		Bound:         domain.BoundMax,
		WarningLevel:  1,
		CriticalLevel: 5,
	}
	require.NoError(t, engine.SetThreshold(threshold))
	assert.Len(t, engine.Thresholds(), 1)

	// Breaching samples are still recorded; violations are observed,
	// not enforced.
	for i := 0; i < 10; i++ {
		require.NoError(t, engine.RecordPerformance(context.Background(), sampleFor("backend-a", 30*time.Second, true)))
	}
	summary, err := engine.GetSummary(context.Background(), "backend-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Count)

	engine.RemoveThreshold("latency-slo")
	assert.Empty(t, engine.Thresholds())
}

func TestEngine_TuningCycle(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.SetThreshold(domain.Threshold{
		Name:          "latency-slo",
		Metric:        domain.MetricLatency,
		Bound:         domain.BoundMax,
		WarningLevel:  1,
		CriticalLevel: 5,
	}))
	// Every sample breaches the one second bound.
	for i := 0; i < 50; i++ {
		require.NoError(t, engine.RecordPerformance(ctx, sampleFor("backend-a", 10*time.Second, true)))
	}

	recommendations, err := engine.RunTuningCycle(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recommendations)

	var relaxed bool
	for _, rec := range recommendations {
		if rec.Action == domain.TuningAdjustThreshold && rec.Target == "latency-slo" {
			relaxed = true
			assert.Greater(t, rec.RecommendedValue, rec.CurrentValue)
		}
	}
	assert.True(t, relaxed, "fully breached threshold should produce a relax recommendation")

	status := engine.GetTuningStatus()
	assert.Equal(t, 1, status.CycleCount)
}

func TestEngine_ResourceMonitoring(t *testing.T) {
	engine := newTestEngine(t)
	engine.StartResourceMonitoring()
	engine.StopResourceMonitoring()

	// Manual summary works regardless of loop state.
	summary := engine.GetResourceSummary(time.Minute)
	assert.GreaterOrEqual(t, summary.SampleCount, 0)
	assert.Empty(t, engine.GetAlerts(nil))
}

func TestEngine_ApplyConfigReplacesThresholds(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.SetThreshold(domain.Threshold{
		Name:          "old-slo",
		Metric:        domain.MetricLatency,
		Bound:         domain.BoundMax,
		WarningLevel:  1,
		CriticalLevel: 2,
	}))

	next := domain.DefaultEngineConfig()
	next.Thresholds = []domain.Threshold{{
		Name:          "new-slo",
		Metric:        domain.MetricErrorRate,
		Bound:         domain.BoundMax,
		WarningLevel:  0.05,
		CriticalLevel: 0.2,
	}}
	next.Profiles = []domain.BackendProfile{{BackendID: "backend-c", SpeedScore: 0.9}}
	require.NoError(t, engine.ApplyConfig(next))

	thresholds := engine.Thresholds()
	require.Len(t, thresholds, 1)
	assert.Equal(t, "new-slo", thresholds[0].Name)
	assert.Contains(t, engine.trackedBackends(), "backend-c")
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.Close())
	assert.NoError(t, engine.Close())
}
