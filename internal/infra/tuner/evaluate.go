package tuner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"perfd/internal/domain"
)

const (
	// minEvaluationSamples gates threshold rules; tiny windows produce
	// noise, not signal.
	minEvaluationSamples = 10

	relaxViolationRate   = 0.10
	tightenViolationRate = 0.01
	relaxFactor          = 1.2
	tightenFactor        = 1.1
	headroomFraction     = 0.5

	weightRebalanceStep = 0.15
	rebalanceSpread     = 0.2
)

// evaluate produces the cycle's raw recommendations: per-backend
// latency threshold adjustments, operator alerts for error-rate and
// quality breaches, and a routing-weight rebalance when backends
// diverge.
func (t *Tuner) evaluate(ctx context.Context, now time.Time) []domain.TuningRecommendation {
	var out []domain.TuningRecommendation
	seenTargets := make(map[string]struct{})

	thresholds := t.perf.Thresholds()
	backends := t.backends()

	summaries := make(map[string]domain.WindowedSummary, len(backends))
	for _, backendID := range backends {
		summary, err := t.perf.Summarize(ctx, backendID, evaluationWindow)
		if err != nil {
			t.logger.Warn("summary unavailable, skipping backend this cycle",
				zap.String("backend", backendID), zap.Error(err))
			continue
		}
		summaries[backendID] = summary
	}

	for _, threshold := range thresholds {
		for _, backendID := range backends {
			summary, ok := summaries[backendID]
			if !ok || summary.NoData() || !threshold.Matches(backendID) {
				continue
			}
			var rec *domain.TuningRecommendation
			switch threshold.Metric {
			case domain.MetricLatency:
				rec = t.evaluateLatency(ctx, now, threshold, backendID, summary)
			case domain.MetricErrorRate:
				rec = t.evaluateErrorRate(now, threshold, backendID, summary)
			case domain.MetricQuality:
				rec = t.evaluateQuality(now, threshold, backendID, summary)
			}
			if rec == nil {
				continue
			}
			// A global threshold matches every backend; keep one
			// adjustment recommendation per target.
			if rec.Action == domain.TuningAdjustThreshold {
				if _, dup := seenTargets[rec.Target]; dup {
					continue
				}
				seenTargets[rec.Target] = struct{}{}
			}
			out = append(out, *rec)
		}
	}

	out = append(out, t.evaluateRebalance(now, summaries)...)
	return out
}

// evaluateLatency relaxes thresholds that most samples breach and
// tightens ones the backend comfortably clears.
func (t *Tuner) evaluateLatency(ctx context.Context, now time.Time, threshold domain.Threshold, backendID string, summary domain.WindowedSummary) *domain.TuningRecommendation {
	if threshold.Bound != domain.BoundMax {
		return nil
	}
	rate, count, err := t.perf.ViolationRate(ctx, backendID, evaluationWindow, threshold)
	if err != nil {
		t.logger.Warn("violation rate unavailable",
			zap.String("threshold", threshold.Name),
			zap.String("backend", backendID),
			zap.Error(err))
		return nil
	}
	if count < minEvaluationSamples {
		return nil
	}

	p95 := summary.P95Duration.Seconds()
	if rate > relaxViolationRate {
		recommended := p95 * relaxFactor
		if recommended <= threshold.WarningLevel {
			return nil
		}
		confidence := 0.6 + rate
		if confidence > 0.95 {
			confidence = 0.95
		}
		rec := newRecommendation(now, domain.TuningAdjustThreshold, threshold.Name,
			threshold.WarningLevel, recommended, confidence, 8,
			fmt.Sprintf("%.0f%% of %s samples over 24h breach %s (%.2fs); threshold no longer reflects reality",
				rate*100, backendID, threshold.Name, threshold.WarningLevel))
		return &rec
	}

	avg := summary.AvgDuration.Seconds()
	if rate < tightenViolationRate && avg < threshold.WarningLevel*headroomFraction {
		recommended := p95 * tightenFactor
		if recommended >= threshold.WarningLevel || recommended <= 0 {
			return nil
		}
		rec := newRecommendation(now, domain.TuningAdjustThreshold, threshold.Name,
			threshold.WarningLevel, recommended, 0.75, 3,
			fmt.Sprintf("%s averages %.2fs against a %.2fs bound on %s; tightening restores alert sensitivity",
				backendID, avg, threshold.WarningLevel, threshold.Name))
		return &rec
	}
	return nil
}

// evaluateErrorRate only ever alerts the operator. Raising an error
// budget automatically would hide a regression.
func (t *Tuner) evaluateErrorRate(now time.Time, threshold domain.Threshold, backendID string, summary domain.WindowedSummary) *domain.TuningRecommendation {
	if !threshold.Violated(summary.ErrorRate) {
		return nil
	}
	confidence := 0.85
	priority := 9
	if threshold.CriticalViolated(summary.ErrorRate) {
		confidence = 0.95
		priority = 10
	}
	rec := newRecommendation(now, domain.TuningAlertOperator, threshold.Name,
		summary.ErrorRate, threshold.WarningLevel, confidence, priority,
		fmt.Sprintf("%s error rate %.2f%% breaches %s over 24h; needs operator review",
			backendID, summary.ErrorRate*100, threshold.Name))
	return &rec
}

// evaluateQuality mirrors evaluateErrorRate for quality floors.
func (t *Tuner) evaluateQuality(now time.Time, threshold domain.Threshold, backendID string, summary domain.WindowedSummary) *domain.TuningRecommendation {
	if summary.AvgQuality == 0 || !threshold.Violated(summary.AvgQuality) {
		return nil
	}
	confidence := 0.85
	priority := 9
	if threshold.CriticalViolated(summary.AvgQuality) {
		confidence = 0.95
		priority = 10
	}
	rec := newRecommendation(now, domain.TuningAlertOperator, threshold.Name,
		summary.AvgQuality, threshold.WarningLevel, confidence, priority,
		fmt.Sprintf("%s average quality %.2f breaches %s over 24h; needs operator review",
			backendID, summary.AvgQuality, threshold.Name))
	return &rec
}

// evaluateRebalance compares backends pairwise per metric. Each metric
// with a clear leader (lowest latency, highest quality, lowest cost, by
// relative spread) yields a bounded rebalance of the adaptive strategy's
// weight toward that metric.
func (t *Tuner) evaluateRebalance(now time.Time, summaries map[string]domain.WindowedSummary) []domain.TuningRecommendation {
	type extent struct {
		min, max         float64
		minID, maxID     string
		observedBackends int
	}
	observe := func(e *extent, backendID string, v float64) {
		e.observedBackends++
		if e.observedBackends == 1 || v < e.min {
			e.min, e.minID = v, backendID
		}
		if e.observedBackends == 1 || v > e.max {
			e.max, e.maxID = v, backendID
		}
	}

	var latency, quality, cost extent
	for backendID, summary := range summaries {
		if summary.NoData() {
			continue
		}
		observe(&latency, backendID, summary.AvgDuration.Seconds())
		q := summary.AvgQuality
		if q == 0 {
			q = summary.SuccessRate
		}
		observe(&quality, backendID, q)
		observe(&cost, backendID, summary.AvgCost)
	}
	if latency.observedBackends < 2 {
		return nil
	}

	weights, ok := t.weights.Weights(domain.StrategyAdaptive)
	if !ok {
		return nil
	}
	current := map[string]float64{
		"latency": weights.Latency,
		"quality": weights.Quality,
		"cost":    weights.Cost,
	}

	spread := func(e extent) float64 {
		if e.max == 0 {
			return 0
		}
		return (e.max - e.min) / e.max
	}

	objectives := []struct {
		name   string
		extent extent
		leader string
	}{
		{"latency", latency, latency.minID},
		{"quality", quality, quality.maxID},
		{"cost", cost, cost.minID},
	}

	var out []domain.TuningRecommendation
	for _, objective := range objectives {
		s := spread(objective.extent)
		if s < rebalanceSpread {
			continue
		}
		target := string(domain.StrategyAdaptive) + "/" + objective.name
		out = append(out, newRecommendation(now, domain.TuningRebalanceRouting, target,
			current[objective.name], current[objective.name]+weightRebalanceStep, 0.72, 2,
			fmt.Sprintf("%s leads on %s (%.0f%% relative spread); weighting it harder steers adaptive selection toward the leader",
				objective.leader, objective.name, s*100)))
	}
	return out
}
