package sysmon

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"perfd/internal/domain"
)

// Probe captures one system sample per tick.
type Probe interface {
	Sample(ctx context.Context) (domain.SystemSample, error)
}

// RuntimeProbe samples process-level resource usage from the Go runtime
// plus host-fed gauges (queue depth, open connections, network counters)
// that the embedding service reports through the setters.
type RuntimeProbe struct {
	memoryLimit     uint64
	queueDepth      atomic.Int64
	openConnections atomic.Int64
	netSent         atomic.Uint64
	netRecv         atomic.Uint64
}

// NewRuntimeProbe constructs a probe with a memory ceiling used to
// derive the memory utilization percentage.
func NewRuntimeProbe(memoryLimitBytes uint64) *RuntimeProbe {
	if memoryLimitBytes == 0 {
		memoryLimitBytes = 4 << 30
	}
	return &RuntimeProbe{memoryLimit: memoryLimitBytes}
}

// SetQueueDepth reports the current pending task queue depth.
func (p *RuntimeProbe) SetQueueDepth(depth int) {
	p.queueDepth.Store(int64(depth))
}

// SetOpenConnections reports the current open connection count.
func (p *RuntimeProbe) SetOpenConnections(count int) {
	p.openConnections.Store(int64(count))
}

// AddNetworkBytes accumulates sent/received byte counters.
func (p *RuntimeProbe) AddNetworkBytes(sent, recv uint64) {
	p.netSent.Add(sent)
	p.netRecv.Add(recv)
}

// Sample captures a snapshot. CPU is approximated from goroutine load
// relative to available cores when no platform counter is wired.
func (p *RuntimeProbe) Sample(ctx context.Context) (domain.SystemSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.SystemSample{}, err
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	memoryPct := float64(stats.HeapAlloc) / float64(p.memoryLimit) * 100
	if memoryPct > 100 {
		memoryPct = 100
	}

	cpuPct := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()*100) * 100
	if cpuPct > 100 {
		cpuPct = 100
	}

	return domain.SystemSample{
		Timestamp:       time.Now(),
		CPUPercent:      cpuPct,
		MemoryPercent:   memoryPct,
		NetSentBytes:    p.netSent.Load(),
		NetRecvBytes:    p.netRecv.Load(),
		OpenConnections: int(p.openConnections.Load()),
		QueueDepth:      int(p.queueDepth.Load()),
	}, nil
}

// StaticProbe replays a scripted sequence of samples; used by tests and
// the benchmark harness.
type StaticProbe struct {
	mu      sync.Mutex
	samples []domain.SystemSample
	next    int
}

// NewStaticProbe constructs a probe over a fixed sequence. Once the
// sequence is exhausted the last sample repeats.
func NewStaticProbe(samples ...domain.SystemSample) *StaticProbe {
	return &StaticProbe{samples: samples}
}

// Sample returns the next scripted sample.
func (p *StaticProbe) Sample(ctx context.Context) (domain.SystemSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.SystemSample{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return domain.SystemSample{Timestamp: time.Now()}, nil
	}
	sample := p.samples[p.next]
	if p.next < len(p.samples)-1 {
		p.next++
	}
	return sample, nil
}

var (
	_ Probe = (*RuntimeProbe)(nil)
	_ Probe = (*StaticProbe)(nil)
)
