package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"perfd/internal/domain"
)

const (
	perfWindow = 24 * time.Hour

	// Normalization ceilings keep sub-scores comparable across
	// strategies: a 60s task scores zero latency, a $0.10 task scores
	// zero cost.
	latencyCeiling = 60.0
	costCeiling    = 0.10

	fallbackConfidence = 0.1
	soleConfidence     = 0.9
	confidenceSlope    = 5.0
	baseConfidence     = 0.5
)

// PerfReader supplies historical performance aggregates. Satisfied by
// the metrics monitor.
type PerfReader interface {
	Summarize(ctx context.Context, backendID string, window time.Duration) (domain.WindowedSummary, error)
}

// LoadReader reports current host load in [0,1]. Satisfied by the
// resource sampler.
type LoadReader interface {
	Utilization() float64
}

// Router scores eligible backends against task features and returns a
// ranked decision. It owns its weight table; the tuner applies bounded
// updates through SetWeights and readers never observe a torn vector.
type Router struct {
	perf   PerfReader
	load   LoadReader
	logger *zap.Logger
	now    func() time.Time
	cache  *scoreCache

	weightMu sync.RWMutex
	weights  map[domain.Strategy]domain.StrategyWeights

	profileMu sync.RWMutex
	profiles  map[string]domain.BackendProfile
}

// Options configures a Router.
type Options struct {
	Perf     PerfReader
	Load     LoadReader
	Logger   *zap.Logger
	CacheTTL time.Duration
	Profiles []domain.BackendProfile
	Now      func() time.Time
}

// New constructs a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = domain.DefaultRoutingCacheTTLMinutes * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Router{
		perf:     opts.Perf,
		load:     opts.Load,
		logger:   logger.Named("router"),
		now:      now,
		cache:    newScoreCache(ttl, now),
		weights:  defaultWeights(),
		profiles: make(map[string]domain.BackendProfile),
	}
	for _, profile := range opts.Profiles {
		r.profiles[profile.BackendID] = profile
	}
	return r
}

// SetProfile registers or replaces a backend capability profile.
func (r *Router) SetProfile(profile domain.BackendProfile) error {
	if profile.BackendID == "" {
		return domain.ErrUnknownBackend
	}
	r.profileMu.Lock()
	defer r.profileMu.Unlock()
	r.profiles[profile.BackendID] = profile
	return nil
}

// Profile returns one profile by backend id.
func (r *Router) Profile(backendID string) (domain.BackendProfile, bool) {
	r.profileMu.RLock()
	defer r.profileMu.RUnlock()
	profile, ok := r.profiles[backendID]
	return profile, ok
}

// BlendObservedSpeed folds observed speed into a backend's profile.
func (r *Router) BlendObservedSpeed(backendID string, observed, alpha float64) {
	r.profileMu.Lock()
	defer r.profileMu.Unlock()
	profile, ok := r.profiles[backendID]
	if !ok {
		return
	}
	r.profiles[backendID] = profile.BlendObservedSpeed(observed, alpha)
}

// Weights returns the current weight triple for a strategy.
func (r *Router) Weights(strategy domain.Strategy) (domain.StrategyWeights, bool) {
	r.weightMu.RLock()
	defer r.weightMu.RUnlock()
	weights, ok := r.weights[strategy]
	return weights, ok
}

// SetWeights replaces a strategy's weight triple atomically.
func (r *Router) SetWeights(strategy domain.Strategy, weights domain.StrategyWeights) error {
	if weights.Sum() <= 0 {
		return fmt.Errorf("%w: weight sum must be positive", domain.ErrUnknownStrategy)
	}
	r.weightMu.Lock()
	defer r.weightMu.Unlock()
	if _, ok := r.weights[strategy]; !ok {
		return domain.ErrUnknownStrategy
	}
	r.weights[strategy] = weights
	return nil
}

// Select picks the best backend for the task. An empty eligible set is
// a configuration error; a set with no capability match degrades to the
// first provided backend with low confidence rather than failing.
func (r *Router) Select(ctx context.Context, features domain.TaskFeatures, eligible []string, strategy domain.Strategy) (domain.RoutingDecision, error) {
	if len(eligible) == 0 {
		return domain.RoutingDecision{}, domain.ErrNoEligibleBackends
	}
	weights, ok := r.Weights(strategy)
	if !ok {
		return domain.RoutingDecision{}, domain.ErrUnknownStrategy
	}

	candidates := r.filterCapable(features, eligible)
	if len(candidates) == 0 {
		return domain.RoutingDecision{
			TaskID:     features.TaskID,
			Backend:    eligible[0],
			Confidence: fallbackConfidence,
			Reasoning:  "no eligible backend satisfies the task constraints; falling back to first provided",
			Timestamp:  r.now(),
		}, nil
	}

	scored := r.scoreAll(ctx, features, candidates, strategy, weights)
	best := scored[0]
	for _, candidate := range scored[1:] {
		if candidate.score > best.score {
			best = candidate
		}
	}

	confidence := soleConfidence
	improvement := 0.0
	if len(scored) > 1 {
		runnerUp := -1.0
		total := 0.0
		for _, candidate := range scored {
			total += candidate.score
			if candidate.backendID != best.backendID && candidate.score > runnerUp {
				runnerUp = candidate.score
			}
		}
		margin := best.score - runnerUp
		confidence = baseConfidence + margin*confidenceSlope
		if confidence > 1 {
			confidence = 1
		}
		improvement = best.score - total/float64(len(scored))
	}

	return domain.RoutingDecision{
		TaskID:              features.TaskID,
		Backend:             best.backendID,
		Confidence:          confidence,
		ExpectedImprovement: improvement,
		Reasoning: fmt.Sprintf("%s strategy scored %s at %.3f across %d candidates (latency %.2f, quality %.2f, cost %.2f)",
			strategy, best.backendID, best.score, len(scored), best.scores.latency, best.scores.quality, best.scores.cost),
		Timestamp: r.now(),
	}, nil
}

// Recommend returns the top-N ranked decisions under the balanced
// strategy; advisory only, not for hot-path selection.
func (r *Router) Recommend(ctx context.Context, features domain.TaskFeatures, eligible []string, topN int) ([]domain.RoutingDecision, error) {
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleBackends
	}
	if topN <= 0 {
		topN = 3
	}
	weights, _ := r.Weights(domain.StrategyBalanced)

	candidates := r.filterCapable(features, eligible)
	if len(candidates) == 0 {
		fallback, err := r.Select(ctx, features, eligible, domain.StrategyBalanced)
		if err != nil {
			return nil, err
		}
		return []domain.RoutingDecision{fallback}, nil
	}

	scored := r.scoreAll(ctx, features, candidates, domain.StrategyBalanced, weights)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > topN {
		scored = scored[:topN]
	}

	total := 0.0
	for _, candidate := range scored {
		total += candidate.score
	}
	mean := total / float64(len(scored))

	decisions := make([]domain.RoutingDecision, 0, len(scored))
	for rank, candidate := range scored {
		confidence := baseConfidence
		if rank == 0 && len(scored) > 1 {
			confidence = baseConfidence + (scored[0].score-scored[1].score)*confidenceSlope
			if confidence > 1 {
				confidence = 1
			}
		}
		decisions = append(decisions, domain.RoutingDecision{
			TaskID:              features.TaskID,
			Backend:             candidate.backendID,
			Confidence:          confidence,
			ExpectedImprovement: candidate.score - mean,
			Reasoning:           fmt.Sprintf("rank %d under balanced strategy with score %.3f", rank+1, candidate.score),
			Timestamp:           r.now(),
		})
	}
	return decisions, nil
}

type scoredBackend struct {
	backendID string
	score     float64
	scores    subScores
}

func (r *Router) scoreAll(ctx context.Context, features domain.TaskFeatures, candidates []string, strategy domain.Strategy, weights domain.StrategyWeights) []scoredBackend {
	utilization := 0.0
	if r.load != nil {
		utilization = r.load.Utilization()
	}
	scored := make([]scoredBackend, 0, len(candidates))
	for _, backendID := range candidates {
		scores := r.subScores(ctx, backendID)
		profile, _ := r.Profile(backendID)

		sum := weights.Sum()
		base := (weights.Latency*scores.latency + weights.Quality*scores.quality + weights.Cost*scores.cost) / sum
		base *= capabilityMultiplier(profile, features)
		base += utilizationWeight(strategy) * (1 - utilization)

		scored = append(scored, scoredBackend{backendID: backendID, score: base, scores: scores})
	}
	return scored
}

// subScores resolves performance-derived scores through the TTL cache,
// falling back to the static profile when a backend has no samples in
// the 24h window.
func (r *Router) subScores(ctx context.Context, backendID string) subScores {
	if cached, ok := r.cache.get(backendID); ok {
		return cached
	}

	scores := r.profileScores(backendID)
	if r.perf != nil {
		summary, err := r.perf.Summarize(ctx, backendID, perfWindow)
		if err != nil {
			r.logger.Warn("performance summary unavailable, using profile estimates",
				zap.String("backend", backendID), zap.Error(err))
		} else if !summary.NoData() {
			scores = summaryScores(summary)
		}
	}

	r.cache.put(backendID, scores)
	return scores
}

func summaryScores(summary domain.WindowedSummary) subScores {
	quality := summary.AvgQuality
	if quality == 0 {
		quality = summary.SuccessRate
	}
	cost := 1.0
	if summary.AvgCost > 0 {
		cost = 1 - clamp01(summary.AvgCost/costCeiling)
	}
	return subScores{
		latency:  1 - clamp01(summary.AvgDuration.Seconds()/latencyCeiling),
		quality:  clamp01(quality),
		cost:     cost,
		observed: true,
	}
}

func (r *Router) profileScores(backendID string) subScores {
	profile, ok := r.Profile(backendID)
	if !ok {
		// Unknown backend: neutral mid scores keep it selectable
		// without dominating known candidates.
		return subScores{latency: 0.5, quality: 0.5, cost: 0.5}
	}
	return subScores{
		latency: clamp01(profile.SpeedScore),
		quality: clamp01((profile.CreativityScore + profile.ReasoningScore) / 2),
		cost:    1 - clamp01(profile.CostPerUnit/costCeiling),
	}
}

// capabilityMultiplier penalizes backends whose declared scores fall
// below the task requirement. The penalty is multiplicative so a hard
// capability miss cannot be bought back by cheap latency.
func capabilityMultiplier(profile domain.BackendProfile, features domain.TaskFeatures) float64 {
	multiplier := 1.0
	if features.CreativityRequired > 0 && profile.CreativityScore < features.CreativityRequired {
		multiplier *= safeRatio(profile.CreativityScore, features.CreativityRequired)
	}
	if features.ReasoningRequired > 0 && profile.ReasoningScore < features.ReasoningRequired {
		multiplier *= safeRatio(profile.ReasoningScore, features.ReasoningRequired)
	}
	return multiplier
}

func safeRatio(have, want float64) float64 {
	if want <= 0 {
		return 1
	}
	if have <= 0 {
		return 0.1
	}
	return have / want
}

// filterCapable drops backends whose profile fails the task's hard
// constraints. Backends without a profile pass; the scoring fallback
// handles them.
func (r *Router) filterCapable(features domain.TaskFeatures, eligible []string) []string {
	var out []string
	for _, backendID := range eligible {
		profile, ok := r.Profile(backendID)
		if !ok {
			out = append(out, backendID)
			continue
		}
		if profile.MaxInputSize > 0 && features.InputSize > profile.MaxInputSize {
			continue
		}
		if profile.ContextCapacity > 0 && features.ContextNeeded > profile.ContextCapacity {
			continue
		}
		supported := true
		for _, modality := range features.RequiredModalities {
			if !profile.SupportsModality(modality) {
				supported = false
				break
			}
		}
		if !supported {
			continue
		}
		out = append(out, backendID)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
