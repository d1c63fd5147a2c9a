package domain

import "fmt"

// MetricKind names the metric a threshold bounds.
type MetricKind string

const (
	// MetricLatency bounds average/percentile task duration in seconds.
	MetricLatency MetricKind = "latency"
	// MetricErrorRate bounds the windowed error rate.
	MetricErrorRate MetricKind = "error_rate"
	// MetricQuality bounds the windowed average quality score.
	MetricQuality MetricKind = "quality"
)

// BoundKind tells which direction a threshold constrains.
type BoundKind string

const (
	// BoundMax violates when the observed value exceeds the level.
	BoundMax BoundKind = "max"
	// BoundMin violates when the observed value falls below the level.
	BoundMin BoundKind = "min"
)

// Threshold is a configured bound on a windowed metric with tiered
// severity. Only the monitor mutates thresholds; the tuner requests
// adjustments through it.
type Threshold struct {
	Name          string     `json:"name"`
	Metric        MetricKind `json:"metric"`
	Bound         BoundKind  `json:"bound"`
	WarningLevel  float64    `json:"warningLevel"`
	CriticalLevel float64    `json:"criticalLevel"`
	// BackendID scopes the threshold to one backend; empty means global.
	BackendID string `json:"backendId,omitempty"`
}

// Validate rejects malformed thresholds synchronously at registration.
// The critical level must be strictly more restrictive than the warning
// level in the direction of the bound.
func (t Threshold) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: threshold name is required", ErrInvalidThreshold)
	}
	switch t.Metric {
	case MetricLatency, MetricErrorRate, MetricQuality:
	default:
		return fmt.Errorf("%w: unknown metric kind %q", ErrInvalidThreshold, t.Metric)
	}
	switch t.Bound {
	case BoundMax:
		if t.CriticalLevel <= t.WarningLevel {
			return fmt.Errorf("%w: critical level %.4f must exceed warning level %.4f for max bound",
				ErrInvalidThreshold, t.CriticalLevel, t.WarningLevel)
		}
	case BoundMin:
		if t.CriticalLevel >= t.WarningLevel {
			return fmt.Errorf("%w: critical level %.4f must be below warning level %.4f for min bound",
				ErrInvalidThreshold, t.CriticalLevel, t.WarningLevel)
		}
	default:
		return fmt.Errorf("%w: unknown bound kind %q", ErrInvalidThreshold, t.Bound)
	}
	return nil
}

// Matches reports whether the threshold applies to a backend.
func (t Threshold) Matches(backendID string) bool {
	return t.BackendID == "" || t.BackendID == backendID
}

// Violated reports whether an observed value breaks the warning level.
func (t Threshold) Violated(observed float64) bool {
	switch t.Bound {
	case BoundMin:
		return observed < t.WarningLevel
	default:
		return observed > t.WarningLevel
	}
}

// CriticalViolated reports whether an observed value breaks the critical level.
func (t Threshold) CriticalViolated(observed float64) bool {
	switch t.Bound {
	case BoundMin:
		return observed < t.CriticalLevel
	default:
		return observed > t.CriticalLevel
	}
}
