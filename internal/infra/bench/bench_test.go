package bench

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfd/internal/domain"
)

type recorderStub struct {
	samples []domain.MetricSample
	err     error
}

func (r *recorderStub) RecordPerformance(_ context.Context, sample domain.MetricSample) error {
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, sample)
	return nil
}

type selectorStub struct {
	decision domain.RoutingDecision
	strategy domain.Strategy
}

func (s *selectorStub) SelectBackend(_ context.Context, _ domain.TaskFeatures, eligible []string, strategy domain.Strategy) (domain.RoutingDecision, error) {
	s.strategy = strategy
	decision := s.decision
	if decision.Backend == "" && len(eligible) > 0 {
		decision.Backend = eligible[0]
	}
	return decision, nil
}

func twoBackendScenario() Scenario {
	return Scenario{
		Name:     "two-backends",
		Tasks:    50,
		Strategy: "balanced",
		Seed:     7,
		Backends: []ScenarioBackend{
			{ID: "backend-a", MeanLatencyMs: 2000, ErrorRate: 0, Quality: 0.8, CostPerTask: 0.01},
			{ID: "backend-b", MeanLatencyMs: 8000, JitterMs: 500, ErrorRate: 0.5, Quality: 0.6, CostPerTask: 0.02},
		},
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "mixed-load"
tasks = 100
strategy = "lowest-latency"
seed = 42

[[backends]]
id = "backend-a"
meanLatencyMs = 1500
jitterMs = 200
errorRate = 0.02
quality = 0.85
costPerTask = 0.015

[[backends]]
id = "backend-b"
meanLatencyMs = 6000
errorRate = 0.1
quality = 0.7
costPerTask = 0.005
`), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "mixed-load", scenario.Name)
	assert.Equal(t, 100, scenario.Tasks)
	assert.Equal(t, int64(42), scenario.Seed)
	require.Len(t, scenario.Backends, 2)
	assert.Equal(t, 1500, scenario.Backends[0].MeanLatencyMs)
	assert.Equal(t, 0.1, scenario.Backends[1].ErrorRate)
}

func TestLoadScenario_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"empty\"\ntasks = 10\n"), 0o644))
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "at least one backend")
}

func TestScenarioValidate(t *testing.T) {
	scenario := twoBackendScenario()
	assert.NoError(t, scenario.Validate())

	dup := twoBackendScenario()
	dup.Backends[1].ID = dup.Backends[0].ID
	assert.ErrorContains(t, dup.Validate(), "duplicate backend")

	badRate := twoBackendScenario()
	badRate.Backends[0].ErrorRate = 1.5
	assert.ErrorContains(t, badRate.Validate(), "errorRate")
}

func TestHarnessRun_RecordsAndSelects(t *testing.T) {
	recorder := &recorderStub{}
	selector := &selectorStub{decision: domain.RoutingDecision{Backend: "backend-a", Confidence: 0.8}}
	harness := NewHarness(recorder, selector, nil)

	report, err := harness.Run(context.Background(), twoBackendScenario())
	require.NoError(t, err)

	assert.Equal(t, 100, report.TotalTasks)
	assert.Len(t, recorder.samples, 100)
	assert.Equal(t, domain.StrategyBalanced, selector.strategy)
	assert.Equal(t, "backend-a", report.Selected.Backend)

	require.Len(t, report.Backends, 2)
	// Sorted fastest first.
	assert.Equal(t, "backend-a", report.Backends[0].BackendID)
	assert.Equal(t, 2*time.Second, report.Backends[0].AvgLatency)
	assert.InDelta(t, 1.0, report.Backends[0].SuccessRate, 1e-9)
	assert.Less(t, report.Backends[1].SuccessRate, 1.0)
	assert.InDelta(t, 0.5, report.Backends[0].TotalCost, 1e-9, "50 tasks at 0.01")
}

func TestHarnessRun_Deterministic(t *testing.T) {
	run := func() Report {
		recorder := &recorderStub{}
		harness := NewHarness(recorder, &selectorStub{}, nil)
		report, err := harness.Run(context.Background(), twoBackendScenario())
		require.NoError(t, err)
		return report
	}
	first := run()
	second := run()
	assert.Equal(t, first.Backends, second.Backends, "same seed, same synthetic load")
}

func TestHarnessRun_PropagatesRecordError(t *testing.T) {
	recorder := &recorderStub{err: domain.ErrStoreClosed}
	harness := NewHarness(recorder, &selectorStub{}, nil)
	_, err := harness.Run(context.Background(), twoBackendScenario())
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}

func TestHarnessRun_HonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	harness := NewHarness(&recorderStub{}, &selectorStub{}, nil)
	_, err := harness.Run(ctx, twoBackendScenario())
	assert.ErrorIs(t, err, context.Canceled)
}
