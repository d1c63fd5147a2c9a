package domain

import "time"

// RecordStatus labels the outcome of a sample recording.
type RecordStatus string

const (
	// RecordStatusPersisted means the sample reached the durable store.
	RecordStatusPersisted RecordStatus = "persisted"
	// RecordStatusMemoryOnly means durable write failed after retries.
	RecordStatusMemoryOnly RecordStatus = "memory_only"
	// RecordStatusRejected means the sample failed validation.
	RecordStatusRejected RecordStatus = "rejected"
)

// SelectMetric captures telemetry for one routing selection.
type SelectMetric struct {
	Strategy   Strategy
	Backend    string
	Degraded   bool
	Confidence float64
	Duration   time.Duration
}

// TuningCycleMetric captures telemetry for one tuning cycle.
type TuningCycleMetric struct {
	Recommended int
	Applied     int
	Surfaced    int
	Duration    time.Duration
}

// Metrics records operational telemetry for the engine.
type Metrics interface {
	ObserveRecord(backendID string, status RecordStatus, duration time.Duration)
	ObserveSelect(metric SelectMetric)
	ObserveTuningCycle(metric TuningCycleMetric)
	ObserveSystemSample(sample SystemSample)
	SetActiveAlerts(count int)
	ObserveThresholdViolation(metric MetricKind, backendID string)
	ObserveScaleDecision(direction ScaleDirection)
}
