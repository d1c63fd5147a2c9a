package tuner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfd/internal/domain"
)

const evaluationWindow = 24 * time.Hour

// PerformanceSource exposes the monitor surface the tuner evaluates and
// adjusts. Threshold mutation stays behind the monitor's validation.
type PerformanceSource interface {
	Summarize(ctx context.Context, backendID string, window time.Duration) (domain.WindowedSummary, error)
	ViolationRate(ctx context.Context, backendID string, window time.Duration, threshold domain.Threshold) (float64, int, error)
	Thresholds() []domain.Threshold
	Threshold(name string) (domain.Threshold, bool)
	AdjustThreshold(name string, newWarning float64) error
}

// WeightSink exposes the router surface the tuner rebalances.
type WeightSink interface {
	Weights(strategy domain.Strategy) (domain.StrategyWeights, bool)
	SetWeights(strategy domain.Strategy, weights domain.StrategyWeights) error
}

// Tuner runs periodic evaluation cycles over recent performance and
// proposes bounded configuration changes. At most one cycle runs at a
// time; there is no rollback, reverting is a new recommendation in the
// opposite direction.
type Tuner struct {
	perf    PerformanceSource
	weights WeightSink
	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time

	backends func() []string

	interval            time.Duration
	confidenceThreshold float64
	autoApplyConfidence float64
	learningRate        float64
	maxActive           int
	activeTTL           time.Duration

	inFlight atomic.Bool

	mu          sync.RWMutex
	active      []domain.ActiveTuning
	surfaced    []domain.TuningRecommendation
	lastCycleAt time.Time
	cycleCount  int

	lifecycleMu sync.Mutex
	stop        chan struct{}
	done        chan struct{}
}

// Options configures a Tuner.
type Options struct {
	Perf    PerformanceSource
	Weights WeightSink
	Logger  *zap.Logger
	Metrics domain.Metrics
	// Backends lists the backend ids each cycle evaluates.
	Backends func() []string

	Interval            time.Duration
	ConfidenceThreshold float64
	AutoApplyConfidence float64
	LearningRate        float64
	MaxActive           int
	ActiveTTL           time.Duration
	Now                 func() time.Time
}

// New constructs a Tuner.
func New(opts Options) *Tuner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = domain.DefaultTuningIntervalMinutes * time.Minute
	}
	confidenceThreshold := opts.ConfidenceThreshold
	if confidenceThreshold <= 0 {
		confidenceThreshold = domain.DefaultConfidenceThreshold
	}
	autoApply := opts.AutoApplyConfidence
	if autoApply <= 0 {
		autoApply = domain.DefaultAutoApplyConfidence
	}
	learningRate := opts.LearningRate
	if learningRate <= 0 {
		learningRate = domain.DefaultLearningRate
	}
	maxActive := opts.MaxActive
	if maxActive <= 0 {
		maxActive = domain.DefaultMaxActiveTunings
	}
	activeTTL := opts.ActiveTTL
	if activeTTL <= 0 {
		activeTTL = domain.DefaultActiveTuningTTLMinutes * time.Minute
	}
	backends := opts.Backends
	if backends == nil {
		backends = func() []string { return nil }
	}
	return &Tuner{
		perf:                opts.Perf,
		weights:             opts.Weights,
		logger:              logger.Named("tuner"),
		metrics:             opts.Metrics,
		now:                 now,
		backends:            backends,
		interval:            interval,
		confidenceThreshold: confidenceThreshold,
		autoApplyConfidence: autoApply,
		learningRate:        learningRate,
		maxActive:           maxActive,
		activeTTL:           activeTTL,
	}
}

// Start launches the periodic cycle loop. Idempotent.
func (t *Tuner) Start() {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
	t.logger.Info("tuning loop started", zap.Duration("interval", t.interval))
}

// Stop halts the loop and waits for the in-progress cycle, if any, to
// finish. Idempotent.
func (t *Tuner) Stop() {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop = nil
	t.done = nil
	t.logger.Info("tuning loop stopped")
}

func (t *Tuner) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := t.RunCycle(context.Background()); err != nil {
				t.logger.Warn("tuning cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle evaluates recent performance and returns every
// recommendation the cycle produced, each carrying its final state.
// Returns ErrCycleInFlight when a cycle is already running.
func (t *Tuner) RunCycle(ctx context.Context) ([]domain.TuningRecommendation, error) {
	if !t.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrCycleInFlight
	}
	defer t.inFlight.Store(false)

	start := t.now()
	t.expireActive(start)

	recommendations := t.evaluate(ctx, start)
	applied, surfaced := t.dispose(recommendations, start)

	t.mu.Lock()
	pending, expired := t.mergeSurfacedLocked(surfaced, start)
	t.surfaced = pending
	t.lastCycleAt = start
	t.cycleCount++
	t.mu.Unlock()
	for _, rec := range expired {
		t.logger.Info("surfaced recommendation expired without action",
			zap.String("target", rec.Target),
			zap.String("action", string(rec.Action)))
	}

	if t.metrics != nil {
		t.metrics.ObserveTuningCycle(domain.TuningCycleMetric{
			Recommended: len(recommendations),
			Applied:     applied,
			Surfaced:    len(surfaced),
			Duration:    t.now().Sub(start),
		})
	}
	t.logger.Info("tuning cycle complete",
		zap.Int("recommended", len(recommendations)),
		zap.Int("applied", applied),
		zap.Int("surfaced", len(surfaced)))
	return recommendations, nil
}

// dispose filters, sorts, and applies or surfaces the cycle's
// recommendations, mutating each one's state in place.
func (t *Tuner) dispose(recommendations []domain.TuningRecommendation, now time.Time) (applied int, surfaced []domain.TuningRecommendation) {
	sort.SliceStable(recommendations, func(i, j int) bool {
		return recommendations[i].Priority > recommendations[j].Priority
	})

	for i := range recommendations {
		rec := &recommendations[i]
		if rec.Confidence < t.confidenceThreshold {
			rec.State = domain.TuningFilteredOut
			continue
		}
		if t.hasActiveTarget(rec.Target) {
			rec.State = domain.TuningFilteredOut
			continue
		}
		if rec.Action != domain.TuningAlertOperator &&
			rec.Confidence >= t.autoApplyConfidence &&
			t.activeCount() < t.maxActive {
			rec.State = domain.TuningAutoApplying
			if err := t.apply(*rec); err != nil {
				t.logger.Warn("tuning apply failed, recommendation discarded",
					zap.String("target", rec.Target),
					zap.String("action", string(rec.Action)),
					zap.Error(err))
				rec.State = domain.TuningFilteredOut
				continue
			}
			rec.State = domain.TuningApplied
			applied++
			t.mu.Lock()
			t.active = append(t.active, domain.ActiveTuning{
				Target:    rec.Target,
				Action:    rec.Action,
				AppliedAt: now,
				ExpiresAt: now.Add(t.activeTTL),
			})
			t.mu.Unlock()
			continue
		}
		rec.State = domain.TuningSurfaced
		surfaced = append(surfaced, *rec)
	}
	return applied, surfaced
}

// apply lands one bounded step toward the recommended value. The step
// size is (recommended-current)*learningRate so repeated cycles converge
// without overshooting a moving target.
func (t *Tuner) apply(rec domain.TuningRecommendation) error {
	stepped := rec.CurrentValue + (rec.RecommendedValue-rec.CurrentValue)*t.learningRate

	switch rec.Action {
	case domain.TuningAdjustThreshold:
		return t.perf.AdjustThreshold(rec.Target, stepped)
	case domain.TuningRebalanceRouting:
		strategy, objective, ok := splitWeightTarget(rec.Target)
		if !ok {
			return fmt.Errorf("malformed weight target %q", rec.Target)
		}
		weights, found := t.weights.Weights(strategy)
		if !found {
			return domain.ErrUnknownStrategy
		}
		switch objective {
		case "latency":
			weights.Latency = stepped
		case "quality":
			weights.Quality = stepped
		case "cost":
			weights.Cost = stepped
		default:
			return fmt.Errorf("unknown weight objective %q", objective)
		}
		return t.weights.SetWeights(strategy, weights)
	default:
		return fmt.Errorf("action %q cannot be applied", rec.Action)
	}
}

// splitWeightTarget parses "strategy/objective" rebalance targets.
func splitWeightTarget(target string) (domain.Strategy, string, bool) {
	idx := strings.LastIndex(target, "/")
	if idx <= 0 || idx == len(target)-1 {
		return "", "", false
	}
	return domain.Strategy(target[:idx]), target[idx+1:], true
}

func (t *Tuner) hasActiveTarget(target string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, active := range t.active {
		if active.Target == target {
			return true
		}
	}
	return false
}

func (t *Tuner) activeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

func (t *Tuner) expireActive(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.active[:0]
	for _, active := range t.active {
		if active.ExpiresAt.After(now) {
			kept = append(kept, active)
		}
	}
	t.active = kept
}

// mergeSurfacedLocked carries still-pending surfaced recommendations
// across cycles. Entries older than the active TTL transition to the
// terminal expired state and are returned separately; a same-target
// recommendation from this cycle supersedes the carried one. Callers
// hold mu.
func (t *Tuner) mergeSurfacedLocked(next []domain.TuningRecommendation, now time.Time) (pending, expired []domain.TuningRecommendation) {
	superseded := make(map[string]struct{}, len(next))
	for _, rec := range next {
		superseded[rec.Target] = struct{}{}
	}
	pending = make([]domain.TuningRecommendation, 0, len(t.surfaced)+len(next))
	for _, rec := range t.surfaced {
		if !now.Before(rec.CreatedAt.Add(t.activeTTL)) {
			rec.State = domain.TuningExpired
			expired = append(expired, rec)
			continue
		}
		if _, ok := superseded[rec.Target]; ok {
			continue
		}
		pending = append(pending, rec)
	}
	return append(pending, next...), expired
}

// Status returns the tuner's externally visible state.
func (t *Tuner) Status() domain.TuningStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	active := make([]domain.ActiveTuning, len(t.active))
	copy(active, t.active)
	surfaced := make([]domain.TuningRecommendation, len(t.surfaced))
	copy(surfaced, t.surfaced)
	return domain.TuningStatus{
		CycleInFlight: t.inFlight.Load(),
		LastCycleAt:   t.lastCycleAt,
		CycleCount:    t.cycleCount,
		Active:        active,
		Surfaced:      surfaced,
	}
}

func newRecommendation(now time.Time, action domain.TuningAction, target string, current, recommended, confidence float64, priority int, reasoning string) domain.TuningRecommendation {
	return domain.TuningRecommendation{
		ID:               uuid.NewString(),
		Action:           action,
		Target:           target,
		CurrentValue:     current,
		RecommendedValue: recommended,
		Confidence:       confidence,
		Reasoning:        reasoning,
		Priority:         priority,
		State:            domain.TuningProposed,
		CreatedAt:        now,
	}
}
