package metricstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfd/internal/domain"
)

func newStores(t *testing.T) map[string]domain.SampleStore {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	memory := NewMemoryStore()
	t.Cleanup(func() { _ = memory.Close() })

	return map[string]domain.SampleStore{
		"bolt":   bolt,
		"memory": memory,
	}
}

func sampleAt(backendID string, ts time.Time, d time.Duration) domain.MetricSample {
	return domain.MetricSample{
		BackendID: backendID,
		Timestamp: ts,
		Duration:  d,
		Succeeded: true,
	}.WithDefaults(ts)
}

func TestRangeQuery_HalfOpenAscending(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 4; i >= 0; i-- {
				ts := base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, store.Append(ctx, sampleAt("model-a", ts, time.Second)))
			}

			got, err := store.RangeQuery(ctx, "model-a", base.Add(time.Minute), base.Add(4*time.Minute))
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, base.Add(time.Minute).UnixNano(), got[0].Timestamp.UnixNano())
			assert.Equal(t, base.Add(3*time.Minute).UnixNano(), got[2].Timestamp.UnixNano())
			for i := 1; i < len(got); i++ {
				assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
			}
		})
	}
}

func TestRangeQuery_UnknownBackendIsEmpty(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.RangeQuery(ctx, "never-seen", time.Unix(0, 0), time.Now())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestAppend_DuplicateIDIsIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	sample := sampleAt("model-a", base, time.Second)

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(ctx, sample))
			require.NoError(t, store.Append(ctx, sample))

			got, err := store.RangeQuery(ctx, "model-a", base.Add(-time.Minute), base.Add(time.Minute))
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestPruneBefore(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 6; i++ {
				ts := base.Add(time.Duration(i) * time.Hour)
				require.NoError(t, store.Append(ctx, sampleAt("model-a", ts, time.Second)))
			}

			removed, err := store.PruneBefore(ctx, base.Add(3*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 3, removed)

			got, err := store.RangeQuery(ctx, "model-a", base, base.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Len(t, got, 3)
		})
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Close())
			err := store.Append(ctx, sampleAt("model-a", time.Now(), time.Second))
			assert.ErrorIs(t, err, domain.ErrStoreClosed)
			require.NoError(t, store.Close())
		})
	}
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.db")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	store, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, sampleAt("model-a", base, 2*time.Second)))
	require.NoError(t, store.Close())

	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.RangeQuery(ctx, "model-a", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2*time.Second, got[0].Duration)
}
