package domain

import "time"

// ResourceKind names a sampled host resource.
type ResourceKind string

const (
	// ResourceCPU is host CPU utilization in percent.
	ResourceCPU ResourceKind = "cpu"
	// ResourceMemory is host memory utilization in percent.
	ResourceMemory ResourceKind = "memory"
	// ResourceDisk is host disk utilization in percent.
	ResourceDisk ResourceKind = "disk"
	// ResourceConnections is the open connection count.
	ResourceConnections ResourceKind = "connections"
	// ResourceQueueDepth is the pending task queue depth.
	ResourceQueueDepth ResourceKind = "queue_depth"
)

// SystemSample is one snapshot of host/process resource usage.
type SystemSample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemoryPercent   float64   `json:"memoryPercent"`
	DiskPercent     float64   `json:"diskPercent"`
	NetSentBytes    uint64    `json:"netSentBytes"`
	NetRecvBytes    uint64    `json:"netRecvBytes"`
	OpenConnections int       `json:"openConnections"`
	QueueDepth      int       `json:"queueDepth"`
}

// Resource returns the sampled value for a resource kind.
func (s SystemSample) Resource(kind ResourceKind) float64 {
	switch kind {
	case ResourceCPU:
		return s.CPUPercent
	case ResourceMemory:
		return s.MemoryPercent
	case ResourceDisk:
		return s.DiskPercent
	case ResourceConnections:
		return float64(s.OpenConnections)
	case ResourceQueueDepth:
		return float64(s.QueueDepth)
	default:
		return 0
	}
}

// AlertSeverity tiers resource alerts.
type AlertSeverity string

const (
	// SeverityInfo is informational.
	SeverityInfo AlertSeverity = "info"
	// SeverityWarning crossed the warning tier.
	SeverityWarning AlertSeverity = "warning"
	// SeverityCritical crossed the critical tier.
	SeverityCritical AlertSeverity = "critical"
	// SeverityEmergency crossed the emergency tier.
	SeverityEmergency AlertSeverity = "emergency"
)

// Alert records a resource threshold crossing. Alerts resolve
// automatically on the next evaluation once the condition clears.
type Alert struct {
	ID             string        `json:"id"`
	Resource       ResourceKind  `json:"resource"`
	CurrentValue   float64       `json:"currentValue"`
	ThresholdValue float64       `json:"thresholdValue"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	Timestamp      time.Time     `json:"timestamp"`
	Resolved       bool          `json:"resolved"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
}

// PatternKind names a detected usage pattern.
type PatternKind string

const (
	// PatternSpike is an abrupt short-horizon increase.
	PatternSpike PatternKind = "spike"
	// PatternGradualTrend is a sustained increase over the window.
	PatternGradualTrend PatternKind = "gradual_trend"
	// PatternCyclical is a periodic load signature.
	PatternCyclical PatternKind = "cyclical"
)

// UsagePattern is a derived observation over a sliding window of system
// samples. Immutable after creation.
type UsagePattern struct {
	Kind               PatternKind  `json:"kind"`
	Resource           ResourceKind `json:"resource"`
	Start              time.Time    `json:"start"`
	End                *time.Time   `json:"end,omitempty"`
	Severity           float64      `json:"severity"`
	Description        string       `json:"description"`
	RecommendedActions []string     `json:"recommendedActions,omitempty"`
}

// ScaleDirection tells the orchestration layer which way to scale.
type ScaleDirection string

const (
	// ScaleUp requests more capacity.
	ScaleUp ScaleDirection = "up"
	// ScaleDown requests less capacity.
	ScaleDown ScaleDirection = "down"
)

// ScalingDecision is a capacity proposal for the external orchestrator.
type ScalingDecision struct {
	Direction ScaleDirection `json:"direction"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResourceEventKind labels a sampler event.
type ResourceEventKind string

const (
	// ResourceEventAlert carries an Alert.
	ResourceEventAlert ResourceEventKind = "alert"
	// ResourceEventPattern carries a UsagePattern.
	ResourceEventPattern ResourceEventKind = "pattern"
	// ResourceEventScale carries a ScalingDecision.
	ResourceEventScale ResourceEventKind = "scale"
)

// ResourceEvent is delivered to sampler subscribers over a bounded
// channel; slow subscribers miss events rather than stalling the loop.
type ResourceEvent struct {
	Kind    ResourceEventKind `json:"kind"`
	Alert   *Alert            `json:"alert,omitempty"`
	Pattern *UsagePattern     `json:"pattern,omitempty"`
	Scale   *ScalingDecision  `json:"scale,omitempty"`
}

// ResourceSummary aggregates ring-buffer contents over a window.
type ResourceSummary struct {
	Window        time.Duration `json:"window"`
	SampleCount   int           `json:"sampleCount"`
	AvgCPU        float64       `json:"avgCpu"`
	MaxCPU        float64       `json:"maxCpu"`
	AvgMemory     float64       `json:"avgMemory"`
	MaxMemory     float64       `json:"maxMemory"`
	AvgQueueDepth float64       `json:"avgQueueDepth"`
	MaxQueueDepth int           `json:"maxQueueDepth"`
}

// ResourceTierThresholds holds the static alert tiers for one resource.
type ResourceTierThresholds struct {
	Warning   float64 `json:"warning"`
	Critical  float64 `json:"critical"`
	Emergency float64 `json:"emergency"`
}
