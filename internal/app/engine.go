package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"perfd/internal/domain"
	"perfd/internal/infra/monitor"
	"perfd/internal/infra/router"
	"perfd/internal/infra/sysmon"
	"perfd/internal/infra/tuner"
)

// Engine assembles the monitor, sampler, router, and tuner behind one
// explicitly constructed facade. Nothing here is a package-level
// singleton; callers own the lifecycle and must Close when done.
type Engine struct {
	cfg      domain.EngineConfig
	logger   *zap.Logger
	store    domain.SampleStore
	monitor  *monitor.Monitor
	sampler  *sysmon.Sampler
	router   *router.Router
	selector router.Selector
	tuner    *tuner.Tuner

	backendMu sync.RWMutex
	backends  map[string]struct{}
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Config  domain.EngineConfig
	Logger  *zap.Logger
	Metrics domain.Metrics
	// Store is optional; without it samples live in memory only.
	Store domain.SampleStore
	// Probe overrides the runtime resource probe.
	Probe sysmon.Probe
	Now   func() time.Time
}

// NewEngine wires the engine from validated configuration. Registered
// thresholds are validated here so a bad config fails construction,
// not the first tuning cycle.
func NewEngine(opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.SamplingInterval == 0 {
		cfg = domain.DefaultEngineConfig()
	}

	mon := monitor.New(monitor.Options{
		Store:        opts.Store,
		Logger:       logger,
		Metrics:      opts.Metrics,
		StoreTimeout: cfg.StoreTimeout,
		StoreRetries: cfg.StoreRetries,
		Horizon:      cfg.RetentionHorizon,
		Now:          opts.Now,
	})
	for _, threshold := range cfg.Thresholds {
		if err := mon.SetThreshold(threshold); err != nil {
			return nil, err
		}
	}

	sampler := sysmon.NewSampler(sysmon.SamplerOptions{
		Probe:        opts.Probe,
		Logger:       logger,
		Metrics:      opts.Metrics,
		Interval:     cfg.SamplingInterval,
		RingCapacity: cfg.RingCapacity,
		Tiers:        cfg.ResourceThresholds,
		Detectors:    cfg.Detectors,
		Now:          opts.Now,
	})

	rtr := router.New(router.Options{
		Perf:     mon,
		Load:     sampler,
		Logger:   logger,
		CacheTTL: cfg.RoutingCacheTTL,
		Profiles: cfg.Profiles,
		Now:      opts.Now,
	})

	engine := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		store:    opts.Store,
		monitor:  mon,
		sampler:  sampler,
		router:   rtr,
		selector: router.NewObservedSelector(rtr, opts.Metrics),
		backends: make(map[string]struct{}, len(cfg.Profiles)),
	}
	for _, profile := range cfg.Profiles {
		engine.backends[profile.BackendID] = struct{}{}
	}

	engine.tuner = tuner.New(tuner.Options{
		Perf:                mon,
		Weights:             rtr,
		Logger:              logger,
		Metrics:             opts.Metrics,
		Backends:            engine.trackedBackends,
		Interval:            cfg.TuningInterval,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		AutoApplyConfidence: cfg.AutoApplyConfidence,
		LearningRate:        cfg.LearningRate,
		MaxActive:           cfg.MaxActiveTunings,
		ActiveTTL:           cfg.ActiveTuningTTL,
		Now:                 opts.Now,
	})
	return engine, nil
}

func (e *Engine) trackedBackends() []string {
	e.backendMu.RLock()
	defer e.backendMu.RUnlock()
	out := make([]string, 0, len(e.backends))
	for backendID := range e.backends {
		out = append(out, backendID)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) trackBackend(backendID string) {
	e.backendMu.Lock()
	defer e.backendMu.Unlock()
	e.backends[backendID] = struct{}{}
}

// RecordPerformance ingests one task execution sample and evaluates the
// backend's thresholds against its refreshed aggregates.
func (e *Engine) RecordPerformance(ctx context.Context, sample domain.MetricSample) error {
	if err := e.monitor.Record(ctx, sample); err != nil {
		return err
	}
	e.trackBackend(sample.BackendID)

	violated, err := e.monitor.CheckThresholds(ctx, sample)
	if err != nil {
		return err
	}
	for _, threshold := range violated {
		e.logger.Warn("performance threshold violated",
			zap.String("threshold", threshold.Name),
			zap.String("metric", string(threshold.Metric)),
			zap.String("backend", sample.BackendID))
	}
	return nil
}

// GetSummary returns windowed aggregates for one backend.
func (e *Engine) GetSummary(ctx context.Context, backendID string, window time.Duration) (domain.WindowedSummary, error) {
	return e.monitor.Summarize(ctx, backendID, window)
}

// SelectBackend picks a backend for the task. An empty eligible set
// falls back to every backend the engine has seen.
func (e *Engine) SelectBackend(ctx context.Context, features domain.TaskFeatures, eligible []string, strategy domain.Strategy) (domain.RoutingDecision, error) {
	if len(eligible) == 0 {
		eligible = e.trackedBackends()
	}
	return e.selector.Select(ctx, features, eligible, strategy)
}

// RecommendBackends returns the top-N ranked candidates for the task.
// An empty eligible set falls back to every backend the engine has seen.
func (e *Engine) RecommendBackends(ctx context.Context, features domain.TaskFeatures, eligible []string, topN int) ([]domain.RoutingDecision, error) {
	if len(eligible) == 0 {
		eligible = e.trackedBackends()
	}
	return e.selector.Recommend(ctx, features, eligible, topN)
}

// SetThreshold registers or replaces a performance threshold.
func (e *Engine) SetThreshold(threshold domain.Threshold) error {
	return e.monitor.SetThreshold(threshold)
}

// RemoveThreshold deletes a threshold by name.
func (e *Engine) RemoveThreshold(name string) {
	e.monitor.RemoveThreshold(name)
}

// Thresholds lists the registered thresholds.
func (e *Engine) Thresholds() []domain.Threshold {
	return e.monitor.Thresholds()
}

// SetBackendProfile registers or replaces a backend capability profile.
func (e *Engine) SetBackendProfile(profile domain.BackendProfile) error {
	if err := e.router.SetProfile(profile); err != nil {
		return err
	}
	e.trackBackend(profile.BackendID)
	return nil
}

// RunTuningCycle runs one tuning cycle immediately.
func (e *Engine) RunTuningCycle(ctx context.Context) ([]domain.TuningRecommendation, error) {
	return e.tuner.RunCycle(ctx)
}

// GetTuningStatus returns the tuner's current state.
func (e *Engine) GetTuningStatus() domain.TuningStatus {
	return e.tuner.Status()
}

// StartResourceMonitoring launches the background sampling loop.
func (e *Engine) StartResourceMonitoring() {
	e.sampler.Start()
}

// StopResourceMonitoring halts the sampling loop.
func (e *Engine) StopResourceMonitoring() {
	e.sampler.Stop()
}

// GetResourceSummary aggregates resource usage over the trailing window.
func (e *Engine) GetResourceSummary(window time.Duration) domain.ResourceSummary {
	return e.sampler.Summary(window)
}

// GetAlerts returns resource alerts. A nil filter returns everything,
// otherwise only alerts matching the resolved flag.
func (e *Engine) GetAlerts(resolved *bool) []domain.Alert {
	return e.sampler.Alerts(resolved)
}

// SubscribeResourceEvents returns a bounded channel of resource events
// closed when ctx ends.
func (e *Engine) SubscribeResourceEvents(ctx context.Context) <-chan domain.ResourceEvent {
	return e.sampler.Subscribe(ctx)
}

// StartTuning launches the periodic tuning loop.
func (e *Engine) StartTuning() {
	e.tuner.Start()
}

// StopTuning halts the tuning loop.
func (e *Engine) StopTuning() {
	e.tuner.Stop()
}

// PruneStore drops samples past the retention horizon.
func (e *Engine) PruneStore(ctx context.Context) (int, error) {
	return e.monitor.Prune(ctx, e.cfg.RetentionHorizon)
}

// ApplyConfig hot-applies the reloadable parts of a new configuration:
// thresholds and backend profiles. Everything else requires a restart.
func (e *Engine) ApplyConfig(cfg domain.EngineConfig) error {
	next := make(map[string]struct{}, len(cfg.Thresholds))
	for _, threshold := range cfg.Thresholds {
		if err := e.monitor.SetThreshold(threshold); err != nil {
			return err
		}
		next[threshold.Name] = struct{}{}
	}
	for _, existing := range e.monitor.Thresholds() {
		if _, keep := next[existing.Name]; !keep {
			e.monitor.RemoveThreshold(existing.Name)
		}
	}
	for _, profile := range cfg.Profiles {
		if err := e.SetBackendProfile(profile); err != nil {
			return err
		}
	}
	e.logger.Info("configuration applied",
		zap.Int("thresholds", len(cfg.Thresholds)),
		zap.Int("profiles", len(cfg.Profiles)))
	return nil
}

// Close stops the background loops and releases the store. Safe to call
// more than once.
func (e *Engine) Close() error {
	e.tuner.Stop()
	e.sampler.Stop()
	if e.store != nil {
		if err := e.store.Close(); err != nil && err != domain.ErrStoreClosed {
			return err
		}
	}
	return nil
}
