package sysmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfd/internal/domain"
)

const (
	scaleWindow        = 10
	scaleUpCPU         = 80.0
	scaleUpMemory      = 85.0
	scaleUpQueueDepth  = 50.0
	scaleDownCPU       = 20.0
	scaleDownMemory    = 30.0
	scaleDownQueue     = 10.0
	eventBufferSize    = 64
	resolvedAlertLimit = 200
)

// Sampler runs a fixed-interval loop snapshotting resource usage,
// evaluating alert tiers, running pattern detectors, and proposing
// scale decisions. It owns its ring buffer and alert list exclusively.
// Events reach subscribers over bounded channels; a slow subscriber
// misses events instead of stalling the loop.
type Sampler struct {
	probe    Probe
	logger   *zap.Logger
	metrics  domain.Metrics
	interval time.Duration
	tiers    map[domain.ResourceKind]domain.ResourceTierThresholds
	detect   domain.DetectorConfig
	now      func() time.Time

	mu       sync.RWMutex
	ring     *ring
	active   map[domain.ResourceKind]*domain.Alert
	resolved []domain.Alert

	subMu sync.Mutex
	subs  map[chan domain.ResourceEvent]struct{}

	lifecycleMu sync.Mutex
	stop        chan struct{}
	done        chan struct{}
}

// SamplerOptions configures a Sampler.
type SamplerOptions struct {
	Probe        Probe
	Logger       *zap.Logger
	Metrics      domain.Metrics
	Interval     time.Duration
	RingCapacity int
	Tiers        map[domain.ResourceKind]domain.ResourceTierThresholds
	Detectors    domain.DetectorConfig
	Now          func() time.Time
}

// NewSampler constructs a stopped Sampler.
func NewSampler(opts SamplerOptions) *Sampler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = domain.DefaultSamplingIntervalSeconds * time.Second
	}
	tiers := opts.Tiers
	if tiers == nil {
		tiers = domain.DefaultResourceThresholds()
	}
	probe := opts.Probe
	if probe == nil {
		probe = NewRuntimeProbe(0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sampler{
		probe:    probe,
		logger:   logger.Named("sysmon"),
		metrics:  opts.Metrics,
		interval: interval,
		tiers:    tiers,
		detect:   opts.Detectors,
		now:      now,
		ring:     newRing(opts.RingCapacity),
		active:   make(map[domain.ResourceKind]*domain.Alert),
		subs:     make(map[chan domain.ResourceEvent]struct{}),
	}
}

// Start launches the sampling loop. Idempotent.
func (s *Sampler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	s.logger.Info("resource sampling started", zap.Duration("interval", s.interval))
}

// Stop signals the loop and joins it before returning. Idempotent.
func (s *Sampler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
	s.logger.Info("resource sampling stopped")
}

// Running reports whether the loop is active.
func (s *Sampler) Running() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stop != nil
}

func (s *Sampler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick executes one sampling pass. Exposed so tests and the benchmark
// harness can drive the pipeline without the timer.
func (s *Sampler) Tick(ctx context.Context) {
	sample, err := s.probe.Sample(ctx)
	if err != nil {
		s.logger.Warn("resource probe failed", zap.Error(err))
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	if s.metrics != nil {
		s.metrics.ObserveSystemSample(sample)
	}

	s.mu.Lock()
	s.ring.push(sample)
	window := s.ring.snapshot()
	events := s.evaluateLocked(sample, window)
	s.mu.Unlock()

	for _, event := range events {
		s.publish(event)
	}
}

func (s *Sampler) evaluateLocked(sample domain.SystemSample, window []domain.SystemSample) []domain.ResourceEvent {
	var events []domain.ResourceEvent
	events = append(events, s.evaluateTiersLocked(sample)...)

	for _, resource := range []domain.ResourceKind{domain.ResourceCPU, domain.ResourceMemory} {
		if pattern := detectSpike(window, resource); pattern != nil {
			events = append(events, domain.ResourceEvent{Kind: domain.ResourceEventPattern, Pattern: pattern})
		}
		if pattern := detectTrend(window, resource, s.detect.TrendMinSamples); pattern != nil {
			events = append(events, domain.ResourceEvent{Kind: domain.ResourceEventPattern, Pattern: pattern})
		}
		if pattern := detectCycle(window, resource, s.detect.AutocorrelationLag, s.detect.CycleMinSamples); pattern != nil {
			events = append(events, domain.ResourceEvent{Kind: domain.ResourceEventPattern, Pattern: pattern})
		}
	}

	if decision := evaluateScale(window, s.now()); decision != nil {
		if s.metrics != nil {
			s.metrics.ObserveScaleDecision(decision.Direction)
		}
		events = append(events, domain.ResourceEvent{Kind: domain.ResourceEventScale, Scale: decision})
	}
	return events
}

func (s *Sampler) evaluateTiersLocked(sample domain.SystemSample) []domain.ResourceEvent {
	var events []domain.ResourceEvent
	for resource, tiers := range s.tiers {
		value := sample.Resource(resource)
		severity, level := classifyTier(value, tiers)

		current := s.active[resource]
		if severity == "" {
			// Condition cleared: auto-resolve on this evaluation.
			if current != nil && !current.Resolved {
				resolvedAt := sample.Timestamp
				current.Resolved = true
				current.ResolvedAt = &resolvedAt
				s.resolved = append(s.resolved, *current)
				if len(s.resolved) > resolvedAlertLimit {
					s.resolved = s.resolved[len(s.resolved)-resolvedAlertLimit:]
				}
				delete(s.active, resource)
				s.logger.Info("resource alert resolved",
					zap.String("resource", string(resource)),
					zap.Float64("value", value))
			}
			continue
		}

		if current != nil && current.Severity == severity {
			current.CurrentValue = value
			continue
		}

		alert := &domain.Alert{
			ID:             uuid.NewString(),
			Resource:       resource,
			CurrentValue:   value,
			ThresholdValue: level,
			Severity:       severity,
			Message: fmt.Sprintf("%s at %.1f crossed %s tier (%.1f)",
				resource, value, severity, level),
			Timestamp: sample.Timestamp,
		}
		if current != nil {
			resolvedAt := sample.Timestamp
			current.Resolved = true
			current.ResolvedAt = &resolvedAt
			s.resolved = append(s.resolved, *current)
		}
		s.active[resource] = alert
		s.logger.Warn("resource alert raised",
			zap.String("resource", string(resource)),
			zap.String("severity", string(severity)),
			zap.Float64("value", value))
		events = append(events, domain.ResourceEvent{Kind: domain.ResourceEventAlert, Alert: cloneAlert(alert)})
	}
	if s.metrics != nil {
		s.metrics.SetActiveAlerts(len(s.active))
	}
	return events
}

func classifyTier(value float64, tiers domain.ResourceTierThresholds) (domain.AlertSeverity, float64) {
	switch {
	case tiers.Emergency > 0 && value >= tiers.Emergency:
		return domain.SeverityEmergency, tiers.Emergency
	case tiers.Critical > 0 && value >= tiers.Critical:
		return domain.SeverityCritical, tiers.Critical
	case tiers.Warning > 0 && value >= tiers.Warning:
		return domain.SeverityWarning, tiers.Warning
	default:
		return "", 0
	}
}

// evaluateScale proposes a scale decision over the last ten samples:
// two of three pressure conditions hold on average for up, all three
// idle conditions for down.
func evaluateScale(window []domain.SystemSample, at time.Time) *domain.ScalingDecision {
	if len(window) < scaleWindow {
		return nil
	}
	recent := window[len(window)-scaleWindow:]
	avgCPU := mean(recent, domain.ResourceCPU)
	avgMemory := mean(recent, domain.ResourceMemory)
	avgQueue := mean(recent, domain.ResourceQueueDepth)

	pressure := 0
	if avgCPU > scaleUpCPU {
		pressure++
	}
	if avgMemory > scaleUpMemory {
		pressure++
	}
	if avgQueue > scaleUpQueueDepth {
		pressure++
	}
	if pressure >= 2 {
		return &domain.ScalingDecision{
			Direction: domain.ScaleUp,
			Reason: fmt.Sprintf("sustained pressure: cpu %.1f%%, memory %.1f%%, queue %.0f",
				avgCPU, avgMemory, avgQueue),
			Timestamp: at,
		}
	}
	if avgCPU < scaleDownCPU && avgMemory < scaleDownMemory && avgQueue < scaleDownQueue {
		return &domain.ScalingDecision{
			Direction: domain.ScaleDown,
			Reason: fmt.Sprintf("sustained idle: cpu %.1f%%, memory %.1f%%, queue %.0f",
				avgCPU, avgMemory, avgQueue),
			Timestamp: at,
		}
	}
	return nil
}

// Subscribe returns a bounded channel of sampler events. The channel
// closes when ctx is cancelled.
func (s *Sampler) Subscribe(ctx context.Context) <-chan domain.ResourceEvent {
	ch := make(chan domain.ResourceEvent, eventBufferSize)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
		close(ch)
	}()
	return ch
}

func (s *Sampler) publish(event domain.ResourceEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- event:
		default:
			s.logger.Debug("subscriber event buffer full, dropping event",
				zap.String("kind", string(event.Kind)))
		}
	}
}

// Summary aggregates ring contents over a trailing window.
func (s *Sampler) Summary(window time.Duration) domain.ResourceSummary {
	cutoff := s.now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.ResourceSummary{Window: window}
	var totalCPU, totalMemory, totalQueue float64
	for _, sample := range s.ring.snapshot() {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		summary.SampleCount++
		totalCPU += sample.CPUPercent
		totalMemory += sample.MemoryPercent
		totalQueue += float64(sample.QueueDepth)
		if sample.CPUPercent > summary.MaxCPU {
			summary.MaxCPU = sample.CPUPercent
		}
		if sample.MemoryPercent > summary.MaxMemory {
			summary.MaxMemory = sample.MemoryPercent
		}
		if sample.QueueDepth > summary.MaxQueueDepth {
			summary.MaxQueueDepth = sample.QueueDepth
		}
	}
	if summary.SampleCount > 0 {
		summary.AvgCPU = totalCPU / float64(summary.SampleCount)
		summary.AvgMemory = totalMemory / float64(summary.SampleCount)
		summary.AvgQueueDepth = totalQueue / float64(summary.SampleCount)
	}
	return summary
}

// Alerts returns alerts, optionally filtered by resolved state.
func (s *Sampler) Alerts(resolved *bool) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	if resolved == nil || !*resolved {
		for _, alert := range s.active {
			out = append(out, *cloneAlert(alert))
		}
	}
	if resolved == nil || *resolved {
		out = append(out, s.resolved...)
	}
	return out
}

// Utilization reports a load factor in [0,1] derived from the latest
// sample; the router folds it into scoring.
func (s *Sampler) Utilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ring.len() == 0 {
		return 0
	}
	latest := s.ring.tail(1)[0]
	load := latest.CPUPercent / 100
	if memory := latest.MemoryPercent / 100; memory > load {
		load = memory
	}
	if load > 1 {
		load = 1
	}
	return load
}

func cloneAlert(alert *domain.Alert) *domain.Alert {
	copied := *alert
	if alert.ResolvedAt != nil {
		at := *alert.ResolvedAt
		copied.ResolvedAt = &at
	}
	return &copied
}
