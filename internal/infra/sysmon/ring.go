package sysmon

import "perfd/internal/domain"

// ring is a fixed-capacity buffer of system samples. Oldest entries are
// evicted once capacity is reached. Only the sampling loop mutates it.
type ring struct {
	buf   []domain.SystemSample
	start int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = domain.DefaultRingCapacity
	}
	return &ring{buf: make([]domain.SystemSample, capacity)}
}

func (r *ring) push(sample domain.SystemSample) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = sample
		r.count++
		return
	}
	r.buf[r.start] = sample
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.count
}

// snapshot returns samples oldest-first.
func (r *ring) snapshot() []domain.SystemSample {
	out := make([]domain.SystemSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// tail returns the most recent n samples, oldest-first.
func (r *ring) tail(n int) []domain.SystemSample {
	if n > r.count {
		n = r.count
	}
	out := make([]domain.SystemSample, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+r.count-n+i)%len(r.buf)]
	}
	return out
}
