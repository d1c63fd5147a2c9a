package metricstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"perfd/internal/domain"
)

// MemoryStore keeps samples in process memory. It backs tests and
// deployments that run without a durable store path.
type MemoryStore struct {
	mu       sync.RWMutex
	backends map[string][]domain.MetricSample
	ids      map[string]struct{}
	closed   bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backends: make(map[string][]domain.MetricSample),
		ids:      make(map[string]struct{}),
	}
}

// Append records one sample; duplicate IDs are dropped silently.
func (s *MemoryStore) Append(ctx context.Context, sample domain.MetricSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	if sample.ID != "" {
		if _, seen := s.ids[sample.ID]; seen {
			return nil
		}
		s.ids[sample.ID] = struct{}{}
	}
	list := s.backends[sample.BackendID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(sample.Timestamp)
	})
	list = append(list, domain.MetricSample{})
	copy(list[idx+1:], list[idx:])
	list[idx] = sample
	s.backends[sample.BackendID] = list
	return nil
}

// RangeQuery returns samples in [start, end), ascending.
func (s *MemoryStore) RangeQuery(ctx context.Context, backendID string, start, end time.Time) ([]domain.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	var out []domain.MetricSample
	for _, sample := range s.backends[backendID] {
		if sample.Timestamp.Before(start) {
			continue
		}
		if !sample.Timestamp.Before(end) {
			break
		}
		out = append(out, sample)
	}
	return out, nil
}

// PruneBefore drops samples older than cutoff.
func (s *MemoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, domain.ErrStoreClosed
	}
	removed := 0
	for backendID, list := range s.backends {
		idx := sort.Search(len(list), func(i int) bool {
			return !list[i].Timestamp.Before(cutoff)
		})
		if idx == 0 {
			continue
		}
		for _, dropped := range list[:idx] {
			delete(s.ids, dropped.ID)
		}
		s.backends[backendID] = append([]domain.MetricSample(nil), list[idx:]...)
		removed += idx
	}
	return removed, nil
}

// Close marks the store closed. Idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ domain.SampleStore = (*MemoryStore)(nil)
