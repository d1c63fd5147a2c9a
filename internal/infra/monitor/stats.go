package monitor

import (
	"sort"
	"time"

	"perfd/internal/domain"
)

// summarize computes windowed statistics over a sample set. Zero
// samples yield the explicit zero summary; there is no division by
// zero anywhere on this path.
func summarize(samples []domain.MetricSample) domain.WindowedSummary {
	if len(samples) == 0 {
		return domain.WindowedSummary{}
	}

	durations := make([]time.Duration, 0, len(samples))
	var (
		succeeded    int
		totalDur     time.Duration
		minDur       time.Duration
		maxDur       time.Duration
		totalCost    float64
		costCount    int
		totalQuality float64
		qualityCount int
	)
	for i, sample := range samples {
		durations = append(durations, sample.Duration)
		totalDur += sample.Duration
		if i == 0 || sample.Duration < minDur {
			minDur = sample.Duration
		}
		if sample.Duration > maxDur {
			maxDur = sample.Duration
		}
		if sample.Succeeded {
			succeeded++
		}
		if sample.Cost > 0 {
			totalCost += sample.Cost
			costCount++
		}
		if sample.QualityScore > 0 {
			totalQuality += sample.QualityScore
			qualityCount++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	count := len(samples)
	successRate := float64(succeeded) / float64(count)

	summary := domain.WindowedSummary{
		Count:       count,
		SuccessRate: successRate,
		ErrorRate:   1 - successRate,
		AvgDuration: totalDur / time.Duration(count),
		MinDuration: minDur,
		MaxDuration: maxDur,
		P95Duration: percentile(durations, 0.95),
		P99Duration: percentile(durations, 0.99),
	}
	if costCount > 0 {
		summary.AvgCost = totalCost / float64(costCount)
	}
	if qualityCount > 0 {
		summary.AvgQuality = totalQuality / float64(qualityCount)
	}
	return summary
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
