package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfd/internal/domain"
)

type perfStub struct {
	summaries map[string]domain.WindowedSummary
	err       error
}

func (p *perfStub) Summarize(_ context.Context, backendID string, window time.Duration) (domain.WindowedSummary, error) {
	if p.err != nil {
		return domain.WindowedSummary{}, p.err
	}
	summary, ok := p.summaries[backendID]
	if !ok {
		return domain.WindowedSummary{BackendID: backendID, Window: window}, nil
	}
	return summary, nil
}

type loadStub struct{ value float64 }

func (l *loadStub) Utilization() float64 { return l.value }

func summaryFor(backendID string, avg time.Duration, errorRate, quality, cost float64) domain.WindowedSummary {
	return domain.WindowedSummary{
		BackendID:   backendID,
		Count:       100,
		SuccessRate: 1 - errorRate,
		ErrorRate:   errorRate,
		AvgDuration: avg,
		AvgQuality:  quality,
		AvgCost:     cost,
	}
}

func TestSelect_BalancedPrefersFastReliableBackend(t *testing.T) {
	perf := &perfStub{summaries: map[string]domain.WindowedSummary{
		"backend-a": summaryFor("backend-a", 2*time.Second, 0, 0, 0),
		"backend-b": summaryFor("backend-b", 8*time.Second, 0.05, 0, 0),
	}}
	r := New(Options{Perf: perf})

	decision, err := r.Select(context.Background(), domain.TaskFeatures{TaskID: "t1"}, []string{"backend-a", "backend-b"}, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "backend-a", decision.Backend)
	assert.Greater(t, decision.Confidence, 0.5)
	assert.Greater(t, decision.ExpectedImprovement, 0.0)
	assert.NotEmpty(t, decision.Reasoning)
}

func TestSelect_DeterministicWithinCacheTTL(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	perf := &perfStub{summaries: map[string]domain.WindowedSummary{
		"backend-a": summaryFor("backend-a", time.Second, 0, 0.8, 0.01),
		"backend-b": summaryFor("backend-b", 3*time.Second, 0.02, 0.9, 0.02),
	}}
	r := New(Options{Perf: perf, Now: func() time.Time { return now }})

	features := domain.TaskFeatures{TaskID: "t1"}
	eligible := []string{"backend-a", "backend-b"}

	first, err := r.Select(context.Background(), features, eligible, domain.StrategyBalanced)
	require.NoError(t, err)

	// Changing the underlying data must not change the decision until
	// the cache expires.
	perf.summaries["backend-a"] = summaryFor("backend-a", time.Minute, 0.5, 0.1, 0.09)
	second, err := r.Select(context.Background(), features, eligible, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSelect_CacheExpiryPicksUpNewData(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	perf := &perfStub{summaries: map[string]domain.WindowedSummary{
		"backend-a": summaryFor("backend-a", time.Second, 0, 0.9, 0),
		"backend-b": summaryFor("backend-b", 10*time.Second, 0.1, 0.5, 0.05),
	}}
	r := New(Options{Perf: perf, CacheTTL: time.Minute, Now: func() time.Time { return now }})

	eligible := []string{"backend-a", "backend-b"}
	first, err := r.Select(context.Background(), domain.TaskFeatures{}, eligible, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "backend-a", first.Backend)

	// Invert the performance picture and move past the TTL.
	perf.summaries["backend-a"] = summaryFor("backend-a", 10*time.Second, 0.1, 0.5, 0.05)
	perf.summaries["backend-b"] = summaryFor("backend-b", time.Second, 0, 0.9, 0)
	now = now.Add(2 * time.Minute)

	second, err := r.Select(context.Background(), domain.TaskFeatures{}, eligible, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "backend-b", second.Backend)
}

func TestSelect_EmptyEligibleSetFails(t *testing.T) {
	r := New(Options{Perf: &perfStub{}})
	_, err := r.Select(context.Background(), domain.TaskFeatures{}, nil, domain.StrategyBalanced)
	assert.ErrorIs(t, err, domain.ErrNoEligibleBackends)
}

func TestSelect_UnknownStrategyFails(t *testing.T) {
	r := New(Options{Perf: &perfStub{}})
	_, err := r.Select(context.Background(), domain.TaskFeatures{}, []string{"backend-a"}, domain.Strategy("bogus"))
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestSelect_DegradedFallbackWhenNoCapabilityMatch(t *testing.T) {
	r := New(Options{
		Perf: &perfStub{},
		Profiles: []domain.BackendProfile{
			{BackendID: "backend-a", Modalities: []domain.Modality{domain.ModalityText}},
			{BackendID: "backend-b", Modalities: []domain.Modality{domain.ModalityText}},
		},
	})

	features := domain.TaskFeatures{RequiredModalities: []domain.Modality{domain.ModalityImage}}
	decision, err := r.Select(context.Background(), features, []string{"backend-a", "backend-b"}, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "backend-a", decision.Backend)
	assert.InDelta(t, fallbackConfidence, decision.Confidence, 1e-9)
}

func TestSelect_ConstraintFilterDropsUndersizedBackend(t *testing.T) {
	perf := &perfStub{summaries: map[string]domain.WindowedSummary{
		"small": summaryFor("small", time.Second, 0, 0.9, 0),
		"large": summaryFor("large", 20*time.Second, 0.2, 0.3, 0.08),
	}}
	r := New(Options{
		Perf: perf,
		Profiles: []domain.BackendProfile{
			{BackendID: "small", MaxInputSize: 1000, Modalities: []domain.Modality{domain.ModalityText}},
			{BackendID: "large", MaxInputSize: 100000, Modalities: []domain.Modality{domain.ModalityText}},
		},
	})

	features := domain.TaskFeatures{InputSize: 5000, RequiredModalities: []domain.Modality{domain.ModalityText}}
	decision, err := r.Select(context.Background(), features, []string{"small", "large"}, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "large", decision.Backend, "small exceeds its input limit despite better stats")
}

func TestSelect_SoleCandidateConfidence(t *testing.T) {
	r := New(Options{Perf: &perfStub{summaries: map[string]domain.WindowedSummary{
		"only": summaryFor("only", time.Second, 0, 0.9, 0.01),
	}}})
	decision, err := r.Select(context.Background(), domain.TaskFeatures{}, []string{"only"}, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.InDelta(t, soleConfidence, decision.Confidence, 1e-9)
	assert.Zero(t, decision.ExpectedImprovement)
}

func TestSelect_PerfErrorFallsBackToProfileEstimates(t *testing.T) {
	r := New(Options{
		Perf: &perfStub{err: errors.New("store offline")},
		Profiles: []domain.BackendProfile{
			{BackendID: "backend-a", SpeedScore: 0.9, CreativityScore: 0.7, ReasoningScore: 0.7, CostPerUnit: 0.01},
			{BackendID: "backend-b", SpeedScore: 0.2, CreativityScore: 0.3, ReasoningScore: 0.3, CostPerUnit: 0.08},
		},
	})
	decision, err := r.Select(context.Background(), domain.TaskFeatures{}, []string{"backend-a", "backend-b"}, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "backend-a", decision.Backend)
}

func TestSelect_LoadBalancedWeighsUtilizationHarder(t *testing.T) {
	assert.Greater(t, utilizationWeight(domain.StrategyLoadBalanced), utilizationWeight(domain.StrategyBalanced))
}

func TestSelect_CapabilityShortfallPenalizesScore(t *testing.T) {
	perf := &perfStub{summaries: map[string]domain.WindowedSummary{
		// Identical observed performance; only declared capability differs.
		"weak":   summaryFor("weak", 2*time.Second, 0, 0.8, 0.01),
		"strong": summaryFor("strong", 2*time.Second, 0, 0.8, 0.01),
	}}
	r := New(Options{
		Perf: perf,
		Profiles: []domain.BackendProfile{
			{BackendID: "weak", ReasoningScore: 0.3},
			{BackendID: "strong", ReasoningScore: 0.9},
		},
	})

	features := domain.TaskFeatures{ReasoningRequired: 0.8}
	decision, err := r.Select(context.Background(), features, []string{"weak", "strong"}, domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, "strong", decision.Backend)
}

func TestSetWeights(t *testing.T) {
	r := New(Options{Perf: &perfStub{}})

	err := r.SetWeights(domain.Strategy("bogus"), domain.StrategyWeights{Latency: 1})
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)

	err = r.SetWeights(domain.StrategyAdaptive, domain.StrategyWeights{})
	assert.Error(t, err, "zero weight mass is unusable")

	updated := domain.StrategyWeights{Latency: 0.5, Quality: 0.4, Cost: 0.1}
	require.NoError(t, r.SetWeights(domain.StrategyAdaptive, updated))
	got, ok := r.Weights(domain.StrategyAdaptive)
	require.True(t, ok)
	assert.Equal(t, updated, got)
}

func TestDefaultWeights_DominantObjectivePerStrategy(t *testing.T) {
	weights := defaultWeights()

	assert.Greater(t, weights[domain.StrategyLowestLatency].Latency, weights[domain.StrategyLowestLatency].Quality)
	assert.Greater(t, weights[domain.StrategyHighestQuality].Quality, weights[domain.StrategyHighestQuality].Latency)
	assert.Greater(t, weights[domain.StrategyCostEffective].Cost, weights[domain.StrategyCostEffective].Latency)
	assert.Equal(t, weights[domain.StrategyBalanced], weights[domain.StrategyAdaptive])
	for strategy, w := range weights {
		assert.InDelta(t, 1.0, w.Sum(), 1e-9, "strategy %s", strategy)
	}
}

func TestRecommend_RanksAndTruncates(t *testing.T) {
	perf := &perfStub{summaries: map[string]domain.WindowedSummary{
		"backend-a": summaryFor("backend-a", time.Second, 0, 0.9, 0.01),
		"backend-b": summaryFor("backend-b", 4*time.Second, 0.02, 0.7, 0.02),
		"backend-c": summaryFor("backend-c", 30*time.Second, 0.3, 0.2, 0.09),
	}}
	r := New(Options{Perf: perf})

	decisions, err := r.Recommend(context.Background(), domain.TaskFeatures{}, []string{"backend-c", "backend-a", "backend-b"}, 2)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "backend-a", decisions[0].Backend)
	assert.Equal(t, "backend-b", decisions[1].Backend)
	assert.Greater(t, decisions[0].ExpectedImprovement, decisions[1].ExpectedImprovement)
}

func TestRecommend_EmptyEligibleSetFails(t *testing.T) {
	r := New(Options{Perf: &perfStub{}})
	_, err := r.Recommend(context.Background(), domain.TaskFeatures{}, nil, 3)
	assert.ErrorIs(t, err, domain.ErrNoEligibleBackends)
}

func TestBlendObservedSpeed(t *testing.T) {
	r := New(Options{
		Perf:     &perfStub{},
		Profiles: []domain.BackendProfile{{BackendID: "backend-a", SpeedScore: 0.5}},
	})
	r.BlendObservedSpeed("backend-a", 1.0, 0.2)
	profile, ok := r.Profile("backend-a")
	require.True(t, ok)
	assert.InDelta(t, 0.6, profile.SpeedScore, 1e-9)
}

type selectorStub struct {
	decision domain.RoutingDecision
}

func (s *selectorStub) Select(context.Context, domain.TaskFeatures, []string, domain.Strategy) (domain.RoutingDecision, error) {
	return s.decision, nil
}

func (s *selectorStub) Recommend(context.Context, domain.TaskFeatures, []string, int) ([]domain.RoutingDecision, error) {
	return []domain.RoutingDecision{s.decision}, nil
}

type metricsRecorder struct {
	domain.Metrics
	selects []domain.SelectMetric
}

func (m *metricsRecorder) ObserveSelect(metric domain.SelectMetric) {
	m.selects = append(m.selects, metric)
}

func TestObservedSelector_RecordsSelections(t *testing.T) {
	recorder := &metricsRecorder{}
	observed := NewObservedSelector(&selectorStub{decision: domain.RoutingDecision{Backend: "backend-a", Confidence: 0.8}}, recorder)

	_, err := observed.Select(context.Background(), domain.TaskFeatures{}, []string{"backend-a"}, domain.StrategyBalanced)
	require.NoError(t, err)
	require.Len(t, recorder.selects, 1)
	assert.Equal(t, "backend-a", recorder.selects[0].Backend)
	assert.False(t, recorder.selects[0].Degraded)
}

func TestObservedSelector_NilMetricsReturnsUnwrapped(t *testing.T) {
	next := &selectorStub{}
	assert.Same(t, Selector(next), NewObservedSelector(next, nil))
}
