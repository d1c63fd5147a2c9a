package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"perfd/internal/domain"
)

const (
	// indexBucket granularity for the in-memory rolling index.
	bucketSize = time.Minute
	// evictEvery bounds how often Record scans for expired buckets.
	evictEvery = 256

	retryBaseBackoff = 50 * time.Millisecond
)

// Monitor ingests per-task execution samples, keeps a short-horizon
// in-memory index, and evaluates alerting thresholds. It exclusively
// owns threshold mutation; the tuner requests changes through it.
type Monitor struct {
	store   domain.SampleStore
	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time

	storeTimeout time.Duration
	storeRetries int
	horizon      time.Duration

	mu          sync.RWMutex
	index       map[string]map[int64][]indexedSample
	recordCount int

	thresholdMu sync.RWMutex
	thresholds  map[string]domain.Threshold
}

type indexedSample struct {
	sample    domain.MetricSample
	persisted bool
}

// Options configures a Monitor.
type Options struct {
	Store        domain.SampleStore
	Logger       *zap.Logger
	Metrics      domain.Metrics
	StoreTimeout time.Duration
	StoreRetries int
	// Horizon bounds the in-memory index; windows beyond it are served
	// by the store.
	Horizon time.Duration
	Now     func() time.Time
}

// New constructs a Monitor.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = domain.DefaultStoreTimeoutSeconds * time.Second
	}
	storeRetries := opts.StoreRetries
	if storeRetries <= 0 {
		storeRetries = domain.DefaultStoreRetries
	}
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		store:        opts.Store,
		logger:       logger.Named("monitor"),
		metrics:      opts.Metrics,
		now:          now,
		storeTimeout: storeTimeout,
		storeRetries: storeRetries,
		horizon:      horizon,
		index:        make(map[string]map[int64][]indexedSample),
		thresholds:   make(map[string]domain.Threshold),
	}
}

// Record ingests one sample. The in-memory index is updated before the
// durable write so a store outage degrades durability, never the
// caller's view of recent aggregates. Safe for concurrent use.
func (m *Monitor) Record(ctx context.Context, sample domain.MetricSample) error {
	start := m.now()
	if err := sample.Validate(); err != nil {
		m.observeRecord(sample.BackendID, domain.RecordStatusRejected, m.now().Sub(start))
		return err
	}
	sample = sample.WithDefaults(start)

	m.insert(sample, false)

	status := domain.RecordStatusPersisted
	switch {
	case m.store == nil:
		// Memory-only mode: the index is the source of truth, so the
		// sample must stay visible to reads.
		status = domain.RecordStatusMemoryOnly
	default:
		if err := m.persist(ctx, sample); err != nil {
			status = domain.RecordStatusMemoryOnly
			m.logger.Warn("sample not durably persisted, aggregate kept in memory only",
				zap.String("backend", sample.BackendID),
				zap.String("sample", sample.ID),
				zap.Error(err))
		} else {
			m.markPersisted(sample)
		}
	}
	m.observeRecord(sample.BackendID, status, m.now().Sub(start))
	return nil
}

func (m *Monitor) observeRecord(backendID string, status domain.RecordStatus, duration time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveRecord(backendID, status, duration)
}

func (m *Monitor) persist(ctx context.Context, sample domain.MetricSample) error {
	var lastErr error
	for attempt := 0; attempt < m.storeRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
		lastErr = m.store.Append(attemptCtx, sample)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (m *Monitor) insert(sample domain.MetricSample, persisted bool) {
	bucket := sample.Timestamp.Truncate(bucketSize).UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	backend := m.index[sample.BackendID]
	if backend == nil {
		backend = make(map[int64][]indexedSample)
		m.index[sample.BackendID] = backend
	}
	backend[bucket] = append(backend[bucket], indexedSample{sample: sample, persisted: persisted})
	m.recordCount++
	if m.recordCount%evictEvery == 0 {
		m.evictLocked()
	}
}

func (m *Monitor) markPersisted(sample domain.MetricSample) {
	bucket := sample.Timestamp.Truncate(bucketSize).UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.index[sample.BackendID][bucket] {
		if entry.sample.ID == sample.ID {
			m.index[sample.BackendID][bucket][i].persisted = true
			return
		}
	}
}

func (m *Monitor) evictLocked() {
	cutoff := m.now().Add(-m.horizon).Truncate(bucketSize).UnixNano()
	for backendID, buckets := range m.index {
		for bucket := range buckets {
			if bucket < cutoff {
				delete(buckets, bucket)
			}
		}
		if len(buckets) == 0 {
			delete(m.index, backendID)
		}
	}
}

// Summarize computes windowed statistics for one backend over
// [now-window, now). No data yields an explicit zero summary.
func (m *Monitor) Summarize(ctx context.Context, backendID string, window time.Duration) (domain.WindowedSummary, error) {
	end := m.now()
	start := end.Add(-window)

	samples := m.storeRange(ctx, backendID, start, end)
	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		seen[sample.ID] = struct{}{}
	}
	// Merge in samples the store does not have (failed persists and
	// anything still in flight).
	for _, entry := range m.memoryRange(backendID, start, end) {
		if _, ok := seen[entry.sample.ID]; ok {
			continue
		}
		if entry.persisted {
			continue
		}
		samples = append(samples, entry.sample)
	}

	summary := summarize(samples)
	summary.BackendID = backendID
	summary.Window = window
	return summary, nil
}

func (m *Monitor) storeRange(ctx context.Context, backendID string, start, end time.Time) []domain.MetricSample {
	if m.store == nil {
		return nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	samples, err := m.store.RangeQuery(queryCtx, backendID, start, end)
	if err != nil {
		m.logger.Warn("store range query failed, serving in-memory aggregates",
			zap.String("backend", backendID),
			zap.Error(err))
		entries := m.memoryRange(backendID, start, end)
		samples = make([]domain.MetricSample, 0, len(entries))
		for _, entry := range entries {
			samples = append(samples, entry.sample)
		}
	}
	return samples
}

func (m *Monitor) memoryRange(backendID string, start, end time.Time) []indexedSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []indexedSample
	for _, bucket := range m.index[backendID] {
		for _, entry := range bucket {
			ts := entry.sample.Timestamp
			if ts.Before(start) || !ts.Before(end) {
				continue
			}
			out = append(out, entry)
		}
	}
	return out
}

// CheckThresholds recomputes the one-hour summary for the sample's
// backend and returns every registered threshold it violates.
func (m *Monitor) CheckThresholds(ctx context.Context, sample domain.MetricSample) ([]domain.Threshold, error) {
	summary, err := m.Summarize(ctx, sample.BackendID, time.Hour)
	if err != nil {
		return nil, err
	}
	if summary.NoData() {
		return nil, nil
	}

	m.thresholdMu.RLock()
	defer m.thresholdMu.RUnlock()
	var violated []domain.Threshold
	for _, threshold := range m.thresholds {
		if !threshold.Matches(sample.BackendID) {
			continue
		}
		observed, ok := observedValue(summary, threshold.Metric)
		if !ok {
			continue
		}
		if threshold.Violated(observed) {
			violated = append(violated, threshold)
			if m.metrics != nil {
				m.metrics.ObserveThresholdViolation(threshold.Metric, sample.BackendID)
			}
		}
	}
	return violated, nil
}

func observedValue(summary domain.WindowedSummary, metric domain.MetricKind) (float64, bool) {
	switch metric {
	case domain.MetricLatency:
		return summary.P95Duration.Seconds(), true
	case domain.MetricErrorRate:
		return summary.ErrorRate, true
	case domain.MetricQuality:
		return summary.AvgQuality, true
	default:
		return 0, false
	}
}

// ViolationRate returns the fraction of samples in [now-window, now)
// whose per-sample metric violates the threshold's warning level, along
// with the sample count. Latency compares each sample's duration,
// error rate treats each failure as a full violation, quality compares
// each sample's score.
func (m *Monitor) ViolationRate(ctx context.Context, backendID string, window time.Duration, threshold domain.Threshold) (float64, int, error) {
	end := m.now()
	start := end.Add(-window)

	samples := m.storeRange(ctx, backendID, start, end)
	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		seen[sample.ID] = struct{}{}
	}
	for _, entry := range m.memoryRange(backendID, start, end) {
		if _, ok := seen[entry.sample.ID]; ok {
			continue
		}
		if entry.persisted {
			continue
		}
		samples = append(samples, entry.sample)
	}
	if len(samples) == 0 {
		return 0, 0, nil
	}

	violations := 0
	for _, sample := range samples {
		var observed float64
		switch threshold.Metric {
		case domain.MetricLatency:
			observed = sample.Duration.Seconds()
		case domain.MetricErrorRate:
			if !sample.Succeeded {
				observed = 1
			}
		case domain.MetricQuality:
			observed = sample.QualityScore
		default:
			return 0, len(samples), nil
		}
		if threshold.Violated(observed) {
			violations++
		}
	}
	return float64(violations) / float64(len(samples)), len(samples), nil
}

// SetThreshold registers or replaces a threshold after validation.
func (m *Monitor) SetThreshold(threshold domain.Threshold) error {
	if err := threshold.Validate(); err != nil {
		return err
	}
	m.thresholdMu.Lock()
	defer m.thresholdMu.Unlock()
	m.thresholds[threshold.Name] = threshold
	return nil
}

// RemoveThreshold deletes a threshold by name.
func (m *Monitor) RemoveThreshold(name string) {
	m.thresholdMu.Lock()
	defer m.thresholdMu.Unlock()
	delete(m.thresholds, name)
}

// Threshold returns one threshold by name.
func (m *Monitor) Threshold(name string) (domain.Threshold, bool) {
	m.thresholdMu.RLock()
	defer m.thresholdMu.RUnlock()
	threshold, ok := m.thresholds[name]
	return threshold, ok
}

// Thresholds returns a copy of the registered thresholds.
func (m *Monitor) Thresholds() []domain.Threshold {
	m.thresholdMu.RLock()
	defer m.thresholdMu.RUnlock()
	out := make([]domain.Threshold, 0, len(m.thresholds))
	for _, threshold := range m.thresholds {
		out = append(out, threshold)
	}
	return out
}

// AdjustThreshold moves a threshold's warning level to newWarning and
// rescales the critical level proportionally so the severity invariant
// holds. Used by the tuner's bounded auto-apply.
func (m *Monitor) AdjustThreshold(name string, newWarning float64) error {
	m.thresholdMu.Lock()
	defer m.thresholdMu.Unlock()
	threshold, ok := m.thresholds[name]
	if !ok {
		return domain.ErrThresholdNotFound
	}
	if threshold.WarningLevel != 0 {
		ratio := newWarning / threshold.WarningLevel
		threshold.CriticalLevel *= ratio
	}
	threshold.WarningLevel = newWarning
	if err := threshold.Validate(); err != nil {
		return err
	}
	m.thresholds[name] = threshold
	return nil
}

// Prune enforces the retention horizon on the durable store.
func (m *Monitor) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	return m.store.PruneBefore(ctx, m.now().Add(-retention))
}
