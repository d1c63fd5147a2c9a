package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"perfd/internal/domain"
)

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveRecord("backend-a", domain.RecordStatusPersisted, 5*time.Millisecond)
	m.ObserveSelect(domain.SelectMetric{
		Strategy:   domain.StrategyBalanced,
		Backend:    "backend-a",
		Confidence: 0.8,
		Duration:   time.Millisecond,
	})
	m.ObserveTuningCycle(domain.TuningCycleMetric{Recommended: 3, Applied: 1, Surfaced: 2, Duration: time.Second})
	m.ObserveSystemSample(domain.SystemSample{CPUPercent: 42, MemoryPercent: 60, QueueDepth: 7})
	m.SetActiveAlerts(2)
	m.ObserveThresholdViolation(domain.MetricLatency, "backend-a")
	m.ObserveScaleDecision(domain.ScaleUp)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		names = append(names, metric.GetName())
	}

	assert.Contains(t, names, "perfd_samples_recorded_total")
	assert.Contains(t, names, "perfd_record_duration_seconds")
	assert.Contains(t, names, "perfd_selections_total")
	assert.Contains(t, names, "perfd_select_duration_seconds")
	assert.Contains(t, names, "perfd_tuning_cycles_total")
	assert.Contains(t, names, "perfd_tuning_applied_total")
	assert.Contains(t, names, "perfd_active_alerts")
	assert.Contains(t, names, "perfd_system_cpu_percent")
	assert.Contains(t, names, "perfd_threshold_violations_total")
	assert.Contains(t, names, "perfd_scale_decisions_total")
}

func TestNoopMetrics_ImplementsInterface(t *testing.T) {
	var m domain.Metrics = NewNoopMetrics()
	assert.NotPanics(t, func() {
		m.ObserveRecord("backend-a", domain.RecordStatusRejected, 0)
		m.ObserveSelect(domain.SelectMetric{})
		m.ObserveTuningCycle(domain.TuningCycleMetric{})
		m.ObserveSystemSample(domain.SystemSample{})
		m.SetActiveAlerts(0)
		m.ObserveThresholdViolation(domain.MetricQuality, "backend-a")
		m.ObserveScaleDecision(domain.ScaleDown)
	})
}

func TestHealthTracker_Report(t *testing.T) {
	tracker := NewHealthTracker()
	report := tracker.Report()
	assert.Equal(t, "ok", report.Status)

	tracker.SetActiveAlerts(3)
	tracker.SetDegraded(true)
	report = tracker.Report()
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, 3, report.ActiveAlerts)
}

func TestStartHTTPServer_MetricsAndHealthz(t *testing.T) {
	listener := mustListen(t)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	registry := prometheus.NewRegistry()
	NewPrometheusMetrics(registry).SetActiveAlerts(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, HTTPServerOptions{
			Addr:          fmt.Sprintf("127.0.0.1:%d", port),
			EnableMetrics: true,
			EnableHealthz: true,
			Health:        NewHealthTracker(),
			Registry:      registry,
		}, zap.NewNop())
	}()

	waitForHTTPStatus(t, fmt.Sprintf("http://127.0.0.1:%d/healthz", port), http.StatusOK)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "perfd_active_alerts")

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestStartHTTPServer_DisabledIsNoop(t *testing.T) {
	err := StartHTTPServer(context.Background(), HTTPServerOptions{}, zap.NewNop())
	assert.NoError(t, err)
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	return listener
}

func waitForHTTPStatus(t *testing.T, url string, status int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != status {
			return false
		}
		var report HealthReport
		return json.NewDecoder(resp.Body).Decode(&report) == nil
	}, 2*time.Second, 25*time.Millisecond)
}
