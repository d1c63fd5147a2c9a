package bench

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"perfd/internal/domain"
)

// Recorder ingests synthetic performance samples.
type Recorder interface {
	RecordPerformance(ctx context.Context, sample domain.MetricSample) error
}

// Selector resolves a backend for the scenario's routing probe.
type Selector interface {
	SelectBackend(ctx context.Context, features domain.TaskFeatures, eligible []string, strategy domain.Strategy) (domain.RoutingDecision, error)
}

// Scenario describes one synthetic workload. Loaded from TOML.
type Scenario struct {
	Name     string            `toml:"name"`
	Tasks    int               `toml:"tasks"`
	Strategy string            `toml:"strategy"`
	Seed     int64             `toml:"seed"`
	Backends []ScenarioBackend `toml:"backends"`
}

// ScenarioBackend is the synthetic performance envelope for one backend.
type ScenarioBackend struct {
	ID            string  `toml:"id"`
	MeanLatencyMs int     `toml:"meanLatencyMs"`
	JitterMs      int     `toml:"jitterMs"`
	ErrorRate     float64 `toml:"errorRate"`
	Quality       float64 `toml:"quality"`
	CostPerTask   float64 `toml:"costPerTask"`
}

// BackendResult is the per-backend outcome of a harness run.
type BackendResult struct {
	BackendID   string        `json:"backendId"`
	Samples     int           `json:"samples"`
	AvgLatency  time.Duration `json:"avgLatency"`
	SuccessRate float64       `json:"successRate"`
	TotalCost   float64       `json:"totalCost"`
}

// Report is the comparative baseline produced by one run.
type Report struct {
	Scenario   string                 `json:"scenario"`
	Strategy   domain.Strategy        `json:"strategy"`
	Backends   []BackendResult        `json:"backends"`
	Selected   domain.RoutingDecision `json:"selected"`
	Elapsed    time.Duration          `json:"elapsed"`
	TotalTasks int                    `json:"totalTasks"`
}

// Harness drives synthetic load through the engine's public recording
// and selection surfaces only; it never touches internals, so a run
// exercises the same paths production callers do.
type Harness struct {
	recorder Recorder
	selector Selector
	logger   *zap.Logger
}

func NewHarness(recorder Recorder, selector Selector, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{recorder: recorder, selector: selector, logger: logger.Named("bench")}
}

// LoadScenario parses a TOML scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var scenario Scenario
	if err := toml.Unmarshal(data, &scenario); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return Scenario{}, err
	}
	return scenario, nil
}

// Validate rejects unusable scenarios before any load is generated.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Tasks <= 0 {
		return fmt.Errorf("scenario %q: tasks must be > 0", s.Name)
	}
	if len(s.Backends) == 0 {
		return fmt.Errorf("scenario %q: at least one backend is required", s.Name)
	}
	seen := make(map[string]struct{})
	for i, backend := range s.Backends {
		if backend.ID == "" {
			return fmt.Errorf("scenario %q: backends[%d] id is required", s.Name, i)
		}
		if _, dup := seen[backend.ID]; dup {
			return fmt.Errorf("scenario %q: duplicate backend %q", s.Name, backend.ID)
		}
		seen[backend.ID] = struct{}{}
		if backend.ErrorRate < 0 || backend.ErrorRate > 1 {
			return fmt.Errorf("scenario %q: backends[%d] errorRate must be in [0, 1]", s.Name, i)
		}
		if backend.MeanLatencyMs <= 0 {
			return fmt.Errorf("scenario %q: backends[%d] meanLatencyMs must be > 0", s.Name, i)
		}
	}
	return nil
}

// Run generates the scenario's samples, records them, and probes
// selection once the data is in. The seed makes runs reproducible.
func (h *Harness) Run(ctx context.Context, scenario Scenario) (Report, error) {
	if err := scenario.Validate(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	rng := rand.New(rand.NewSource(scenario.Seed))

	strategy := domain.Strategy(scenario.Strategy)
	if strategy == "" {
		strategy = domain.StrategyBalanced
	}

	results := make([]BackendResult, 0, len(scenario.Backends))
	eligible := make([]string, 0, len(scenario.Backends))
	total := 0
	for _, backend := range scenario.Backends {
		eligible = append(eligible, backend.ID)
		result := BackendResult{BackendID: backend.ID}
		var latencySum time.Duration
		succeeded := 0
		for i := 0; i < scenario.Tasks; i++ {
			if err := ctx.Err(); err != nil {
				return Report{}, err
			}
			sample := synthesize(rng, backend)
			if err := h.recorder.RecordPerformance(ctx, sample); err != nil {
				return Report{}, fmt.Errorf("record for %s: %w", backend.ID, err)
			}
			latencySum += sample.Duration
			if sample.Succeeded {
				succeeded++
			}
			result.TotalCost += sample.Cost
			result.Samples++
			total++
		}
		result.AvgLatency = latencySum / time.Duration(result.Samples)
		result.SuccessRate = float64(succeeded) / float64(result.Samples)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].AvgLatency < results[j].AvgLatency })

	decision, err := h.selector.SelectBackend(ctx, domain.TaskFeatures{TaskID: "bench-" + scenario.Name}, eligible, strategy)
	if err != nil {
		return Report{}, fmt.Errorf("select: %w", err)
	}

	report := Report{
		Scenario:   scenario.Name,
		Strategy:   strategy,
		Backends:   results,
		Selected:   decision,
		Elapsed:    time.Since(start),
		TotalTasks: total,
	}
	h.logger.Info("benchmark complete",
		zap.String("scenario", scenario.Name),
		zap.Int("tasks", total),
		zap.String("selected", decision.Backend),
		zap.Float64("confidence", decision.Confidence))
	return report, nil
}

func synthesize(rng *rand.Rand, backend ScenarioBackend) domain.MetricSample {
	jitter := time.Duration(0)
	if backend.JitterMs > 0 {
		jitter = time.Duration(rng.Intn(2*backend.JitterMs)-backend.JitterMs) * time.Millisecond
	}
	duration := time.Duration(backend.MeanLatencyMs)*time.Millisecond + jitter
	if duration < time.Millisecond {
		duration = time.Millisecond
	}
	succeeded := rng.Float64() >= backend.ErrorRate
	sample := domain.MetricSample{
		BackendID:    backend.ID,
		Duration:     duration,
		InputSize:    256 + rng.Intn(1024),
		OutputSize:   128 + rng.Intn(512),
		Succeeded:    succeeded,
		Cost:         backend.CostPerTask,
		QualityScore: backend.Quality,
	}
	if !succeeded {
		sample.ErrorKind = domain.ErrorKindBackendError
		sample.QualityScore = 0
	}
	return sample
}
