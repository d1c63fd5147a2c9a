package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrorKind classifies a failed task execution.
type ErrorKind string

const (
	// ErrorKindNone indicates the task succeeded.
	ErrorKindNone ErrorKind = ""
	// ErrorKindTimeout indicates the task exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindRateLimited indicates the backend rejected the task for rate limiting.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindBackendError indicates the backend failed internally.
	ErrorKindBackendError ErrorKind = "backend_error"
	// ErrorKindInvalidInput indicates the task input was rejected.
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	// ErrorKindUnknown indicates an unclassified failure.
	ErrorKindUnknown ErrorKind = "unknown"
)

// MetricSample is one task execution outcome reported by a backend caller.
// Samples are immutable once recorded.
type MetricSample struct {
	ID           string        `json:"id"`
	BackendID    string        `json:"backendId"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	InputSize    int           `json:"inputSize"`
	OutputSize   int           `json:"outputSize"`
	Succeeded    bool          `json:"succeeded"`
	ErrorKind    ErrorKind     `json:"errorKind,omitempty"`
	Cost         float64       `json:"cost,omitempty"`
	QualityScore float64       `json:"qualityScore,omitempty"`
}

// WithDefaults fills the generated ID and timestamp when the caller left
// them empty. The ID makes duplicate appends detectable by the store.
func (s MetricSample) WithDefaults(now time.Time) MetricSample {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	return s
}

// Validate rejects samples the monitor cannot index.
func (s MetricSample) Validate() error {
	if s.BackendID == "" {
		return ErrUnknownBackend
	}
	if s.Duration < 0 {
		return ErrInvalidSample
	}
	if s.QualityScore < 0 || s.QualityScore > 1 {
		return ErrInvalidSample
	}
	return nil
}

// WindowedSummary holds aggregate statistics for one backend over a
// trailing time window. A zero Count means no data; all other fields are
// zero in that case and the summary is still a valid value.
type WindowedSummary struct {
	BackendID   string        `json:"backendId"`
	Window      time.Duration `json:"window"`
	Count       int           `json:"count"`
	SuccessRate float64       `json:"successRate"`
	ErrorRate   float64       `json:"errorRate"`
	AvgDuration time.Duration `json:"avgDuration"`
	MinDuration time.Duration `json:"minDuration"`
	MaxDuration time.Duration `json:"maxDuration"`
	P95Duration time.Duration `json:"p95Duration"`
	P99Duration time.Duration `json:"p99Duration"`
	AvgCost     float64       `json:"avgCost"`
	AvgQuality  float64       `json:"avgQuality"`
}

// NoData reports whether the summary covers zero samples.
func (s WindowedSummary) NoData() bool {
	return s.Count == 0
}
