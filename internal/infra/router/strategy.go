package router

import (
	"perfd/internal/domain"
)

// Utilization weight per strategy; load-balanced leans on it harder.
const (
	defaultUtilizationWeight      = 0.1
	loadBalancedUtilizationWeight = 0.3
)

// defaultWeights returns the fixed objective triples per strategy.
// The adaptive strategy starts balanced and drifts as the tuner
// rebalances it.
func defaultWeights() map[domain.Strategy]domain.StrategyWeights {
	return map[domain.Strategy]domain.StrategyWeights{
		domain.StrategyLowestLatency:  {Latency: 0.7, Quality: 0.2, Cost: 0.1},
		domain.StrategyHighestQuality: {Latency: 0.15, Quality: 0.7, Cost: 0.15},
		domain.StrategyCostEffective:  {Latency: 0.15, Quality: 0.15, Cost: 0.7},
		domain.StrategyBalanced:       {Latency: 1.0 / 3, Quality: 1.0 / 3, Cost: 1.0 / 3},
		domain.StrategyAdaptive:       {Latency: 1.0 / 3, Quality: 1.0 / 3, Cost: 1.0 / 3},
		domain.StrategyLoadBalanced:   {Latency: 0.5, Quality: 0.25, Cost: 0.25},
	}
}

func utilizationWeight(strategy domain.Strategy) float64 {
	if strategy == domain.StrategyLoadBalanced {
		return loadBalancedUtilizationWeight
	}
	return defaultUtilizationWeight
}
