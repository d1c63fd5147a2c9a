package router

import (
	"context"
	"time"

	"perfd/internal/domain"
)

// Selector is the routing surface consumed by the engine.
type Selector interface {
	Select(ctx context.Context, features domain.TaskFeatures, eligible []string, strategy domain.Strategy) (domain.RoutingDecision, error)
	Recommend(ctx context.Context, features domain.TaskFeatures, eligible []string, topN int) ([]domain.RoutingDecision, error)
}

var _ Selector = (*Router)(nil)
var _ Selector = (*ObservedSelector)(nil)

// ObservedSelector decorates a Selector with telemetry.
type ObservedSelector struct {
	next    Selector
	metrics domain.Metrics
}

// NewObservedSelector wraps next; a nil metrics sink returns next
// unwrapped.
func NewObservedSelector(next Selector, metrics domain.Metrics) Selector {
	if metrics == nil {
		return next
	}
	return &ObservedSelector{next: next, metrics: metrics}
}

func (o *ObservedSelector) Select(ctx context.Context, features domain.TaskFeatures, eligible []string, strategy domain.Strategy) (domain.RoutingDecision, error) {
	start := time.Now()
	decision, err := o.next.Select(ctx, features, eligible, strategy)
	if err != nil {
		return decision, err
	}
	o.metrics.ObserveSelect(domain.SelectMetric{
		Strategy:   strategy,
		Backend:    decision.Backend,
		Degraded:   decision.Confidence <= fallbackConfidence,
		Confidence: decision.Confidence,
		Duration:   time.Since(start),
	})
	return decision, nil
}

func (o *ObservedSelector) Recommend(ctx context.Context, features domain.TaskFeatures, eligible []string, topN int) ([]domain.RoutingDecision, error) {
	return o.next.Recommend(ctx, features, eligible, topN)
}
