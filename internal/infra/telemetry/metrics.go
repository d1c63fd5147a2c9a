package telemetry

import (
	"time"

	"perfd/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveRecord(_ string, _ domain.RecordStatus, _ time.Duration) {}

func (n *NoopMetrics) ObserveSelect(_ domain.SelectMetric) {}

func (n *NoopMetrics) ObserveTuningCycle(_ domain.TuningCycleMetric) {}

func (n *NoopMetrics) ObserveSystemSample(_ domain.SystemSample) {}

func (n *NoopMetrics) SetActiveAlerts(_ int) {}

func (n *NoopMetrics) ObserveThresholdViolation(_ domain.MetricKind, _ string) {}

func (n *NoopMetrics) ObserveScaleDecision(_ domain.ScaleDirection) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
