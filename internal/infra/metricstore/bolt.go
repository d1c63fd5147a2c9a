package metricstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"perfd/internal/domain"
)

var samplesBucket = []byte("samples")

// BoltStore is a bbolt-backed sample store. Samples live in one nested
// bucket per backend, keyed by big-endian unix nanos plus the sample ID
// so range scans come back time-ordered and duplicate appends of the
// same sample overwrite the same key.
type BoltStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
}

// OpenBolt opens (or creates) the sample database at path.
func OpenBolt(path string) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("sample store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	db, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open sample db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(samplesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sample schema: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Append durably writes one sample.
func (s *BoltStore) Append(ctx context.Context, sample domain.MetricSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(samplesBucket)
		backend, err := root.CreateBucketIfNotExists([]byte(sample.BackendID))
		if err != nil {
			return err
		}
		return backend.Put(sampleKey(sample), data)
	})
}

// RangeQuery returns samples for a backend in [start, end), ascending.
func (s *BoltStore) RangeQuery(ctx context.Context, backendID string, start, end time.Time) ([]domain.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	var samples []domain.MetricSample
	err := s.db.View(func(tx *bolt.Tx) error {
		backend := tx.Bucket(samplesBucket).Bucket([]byte(backendID))
		if backend == nil {
			return nil
		}
		lo := timeKeyPrefix(start)
		hi := timeKeyPrefix(end)
		cursor := backend.Cursor()
		for key, value := cursor.Seek(lo); key != nil && bytes.Compare(key[:8], hi) < 0; key, value = cursor.Next() {
			var sample domain.MetricSample
			if err := json.Unmarshal(value, &sample); err != nil {
				return fmt.Errorf("decode sample: %w", err)
			}
			samples = append(samples, sample)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// PruneBefore removes samples older than cutoff across all backends.
func (s *BoltStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, domain.ErrStoreClosed
	}
	removed := 0
	limit := timeKeyPrefix(cutoff)
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(samplesBucket)
		return root.ForEachBucket(func(name []byte) error {
			backend := root.Bucket(name)
			cursor := backend.Cursor()
			for key, _ := cursor.First(); key != nil && bytes.Compare(key[:8], limit) < 0; key, _ = cursor.Next() {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Close closes the underlying database. Idempotent.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func sampleKey(sample domain.MetricSample) []byte {
	key := make([]byte, 8+len(sample.ID))
	binary.BigEndian.PutUint64(key[:8], uint64(sample.Timestamp.UnixNano()))
	copy(key[8:], sample.ID)
	return key
}

func timeKeyPrefix(t time.Time) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, uint64(t.UnixNano()))
	return prefix
}

var _ domain.SampleStore = (*BoltStore)(nil)
