package sysmon

import (
	"fmt"
	"math"

	"perfd/internal/domain"
)

const (
	spikeWindow         = 5
	spikeCPUIncrease    = 0.5
	spikeMemoryIncrease = 0.3
	trendIncrease       = 0.1
	cycleCorrelation    = 0.6
)

// detectSpike compares the mean of the last five samples against the
// mean of the five before them. A relative increase of 50% for CPU or
// 30% for memory is a spike; severity is min(1, recent mean / 100).
func detectSpike(samples []domain.SystemSample, resource domain.ResourceKind) *domain.UsagePattern {
	if len(samples) < 2*spikeWindow {
		return nil
	}
	recent := samples[len(samples)-spikeWindow:]
	previous := samples[len(samples)-2*spikeWindow : len(samples)-spikeWindow]

	recentMean := mean(recent, resource)
	previousMean := mean(previous, resource)
	if previousMean <= 0 {
		return nil
	}

	required := spikeCPUIncrease
	if resource == domain.ResourceMemory {
		required = spikeMemoryIncrease
	}
	if (recentMean-previousMean)/previousMean < required {
		return nil
	}

	return &domain.UsagePattern{
		Kind:     domain.PatternSpike,
		Resource: resource,
		Start:    recent[0].Timestamp,
		Severity: math.Min(1, recentMean/100),
		Description: fmt.Sprintf("%s spiked from %.1f%% to %.1f%% over the last %d samples",
			resource, previousMean, recentMean, spikeWindow),
		RecommendedActions: []string{
			"inspect recent task mix for heavy requests",
			"consider shedding low-priority work",
		},
	}
}

// detectTrend splits the window in half and flags a sustained relative
// increase of at least 10% between the half means. Requires minSamples.
func detectTrend(samples []domain.SystemSample, resource domain.ResourceKind, minSamples int) *domain.UsagePattern {
	if minSamples <= 0 {
		minSamples = domain.DefaultTrendMinSamples
	}
	if len(samples) < minSamples {
		return nil
	}
	half := len(samples) / 2
	firstMean := mean(samples[:half], resource)
	secondMean := mean(samples[half:], resource)
	if firstMean <= 0 {
		return nil
	}
	change := (secondMean - firstMean) / firstMean
	if change < trendIncrease {
		return nil
	}

	return &domain.UsagePattern{
		Kind:     domain.PatternGradualTrend,
		Resource: resource,
		Start:    samples[0].Timestamp,
		Severity: math.Min(1, change),
		Description: fmt.Sprintf("%s increased gradually by %.0f%% over the window",
			resource, change*100),
		RecommendedActions: []string{
			"review capacity headroom before the trend saturates",
			"schedule a scale-up during the next maintenance window",
		},
	}
}

// detectCycle computes the Pearson autocorrelation of the series at a
// fixed lag; a coefficient above 0.6 signals periodic load. Requires
// minSamples.
func detectCycle(samples []domain.SystemSample, resource domain.ResourceKind, lag, minSamples int) *domain.UsagePattern {
	if lag <= 0 {
		lag = domain.DefaultAutocorrelationLag
	}
	if minSamples <= 0 {
		minSamples = domain.DefaultCycleMinSamples
	}
	if len(samples) < minSamples || len(samples) <= lag {
		return nil
	}

	series := make([]float64, len(samples))
	for i, sample := range samples {
		series[i] = sample.Resource(resource)
	}
	coefficient := autocorrelation(series, lag)
	if coefficient <= cycleCorrelation {
		return nil
	}

	return &domain.UsagePattern{
		Kind:     domain.PatternCyclical,
		Resource: resource,
		Start:    samples[0].Timestamp,
		Severity: math.Min(1, coefficient),
		Description: fmt.Sprintf("%s shows periodic load (autocorrelation %.2f at lag %d)",
			resource, coefficient, lag),
		RecommendedActions: []string{
			"pre-scale ahead of the recurring peak",
			"align batch scheduling with the observed trough",
		},
	}
}

// autocorrelation is the Pearson correlation between the series and
// itself shifted by lag.
func autocorrelation(series []float64, lag int) float64 {
	n := len(series) - lag
	if n <= 1 {
		return 0
	}
	head := series[:n]
	shifted := series[lag:]

	headMean := meanFloat(head)
	shiftedMean := meanFloat(shifted)

	var covariance, headVar, shiftedVar float64
	for i := 0; i < n; i++ {
		a := head[i] - headMean
		b := shifted[i] - shiftedMean
		covariance += a * b
		headVar += a * a
		shiftedVar += b * b
	}
	denom := math.Sqrt(headVar * shiftedVar)
	if denom == 0 {
		return 0
	}
	return covariance / denom
}

func mean(samples []domain.SystemSample, resource domain.ResourceKind) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, sample := range samples {
		total += sample.Resource(resource)
	}
	return total / float64(len(samples))
}

func meanFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
