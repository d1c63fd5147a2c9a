package domain

import "time"

// Strategy selects the weight profile used when scoring backends.
type Strategy string

const (
	// StrategyLowestLatency weights latency dominant.
	StrategyLowestLatency Strategy = "lowest-latency"
	// StrategyHighestQuality weights quality dominant.
	StrategyHighestQuality Strategy = "highest-quality"
	// StrategyCostEffective weights cost dominant.
	StrategyCostEffective Strategy = "cost-effective"
	// StrategyBalanced weights the three objectives evenly.
	StrategyBalanced Strategy = "balanced"
	// StrategyAdaptive starts balanced and drifts with tuner rebalancing.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyLoadBalanced favors latency with a strong utilization term.
	StrategyLoadBalanced Strategy = "load-balanced"
)

// StrategyWeights is the objective weight triple for one strategy.
// Readers always observe a whole triple, never a partial update.
type StrategyWeights struct {
	Latency float64 `json:"latency"`
	Quality float64 `json:"quality"`
	Cost    float64 `json:"cost"`
}

// Sum returns the total weight mass, used for normalization.
func (w StrategyWeights) Sum() float64 {
	return w.Latency + w.Quality + w.Cost
}

// RoutingDecision is the outcome of one backend selection. Not persisted
// by the engine; callers may log it.
type RoutingDecision struct {
	TaskID              string    `json:"taskId"`
	Backend             string    `json:"backend"`
	Confidence          float64   `json:"confidence"`
	ExpectedImprovement float64   `json:"expectedImprovement"`
	Reasoning           string    `json:"reasoning"`
	Timestamp           time.Time `json:"timestamp"`
}
