package domain

import (
	"context"
	"time"
)

// SampleStore is the durable sink for metric samples. Implementations
// must tolerate duplicate appends of the same sample ID and return
// range results ordered by timestamp ascending over the half-open
// interval [start, end).
type SampleStore interface {
	Append(ctx context.Context, sample MetricSample) error
	RangeQuery(ctx context.Context, backendID string, start, end time.Time) ([]MetricSample, error)
	// PruneBefore drops samples older than cutoff and returns how many
	// were removed. Enforces the retention horizon.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
