package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"perfd/internal/domain"
)

type PrometheusMetrics struct {
	samplesRecorded     *prometheus.CounterVec
	recordDuration      *prometheus.HistogramVec
	selections          *prometheus.CounterVec
	selectDuration      *prometheus.HistogramVec
	selectConfidence    prometheus.Histogram
	tuningCycles        prometheus.Counter
	tuningApplied       prometheus.Counter
	tuningSurfaced      prometheus.Counter
	tuningCycleDuration prometheus.Histogram
	systemCPU           prometheus.Gauge
	systemMemory        prometheus.Gauge
	systemQueueDepth    prometheus.Gauge
	activeAlerts        prometheus.Gauge
	thresholdViolations *prometheus.CounterVec
	scaleDecisions      *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		samplesRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfd_samples_recorded_total",
				Help: "Total number of performance samples ingested",
			},
			[]string{"backend", "status"},
		),
		recordDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perfd_record_duration_seconds",
				Help:    "Duration of sample ingestion including the durable write",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend"},
		),
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfd_selections_total",
				Help: "Total number of backend selections",
			},
			[]string{"strategy", "backend", "degraded"},
		),
		selectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perfd_select_duration_seconds",
				Help:    "Duration of backend selection in seconds",
				Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
			},
			[]string{"strategy"},
		),
		selectConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "perfd_select_confidence",
				Help:    "Confidence of backend selections",
				Buckets: []float64{.1, .25, .5, .6, .7, .8, .9, .95, 1},
			},
		),
		tuningCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "perfd_tuning_cycles_total",
				Help: "Total number of completed tuning cycles",
			},
		),
		tuningApplied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "perfd_tuning_applied_total",
				Help: "Total number of auto-applied tuning recommendations",
			},
		),
		tuningSurfaced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "perfd_tuning_surfaced_total",
				Help: "Total number of tuning recommendations surfaced for operators",
			},
		),
		tuningCycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "perfd_tuning_cycle_duration_seconds",
				Help:    "Duration of tuning cycles in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		systemCPU: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfd_system_cpu_percent",
				Help: "Most recent sampled CPU utilization percentage",
			},
		),
		systemMemory: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfd_system_memory_percent",
				Help: "Most recent sampled memory utilization percentage",
			},
		),
		systemQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfd_system_queue_depth",
				Help: "Most recent sampled work queue depth",
			},
		),
		activeAlerts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfd_active_alerts",
				Help: "Current number of unresolved resource alerts",
			},
		),
		thresholdViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfd_threshold_violations_total",
				Help: "Total number of performance threshold violations",
			},
			[]string{"metric", "backend"},
		),
		scaleDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfd_scale_decisions_total",
				Help: "Total number of scaling decisions emitted",
			},
			[]string{"direction"},
		),
	}
}

func (p *PrometheusMetrics) ObserveRecord(backendID string, status domain.RecordStatus, duration time.Duration) {
	p.samplesRecorded.WithLabelValues(backendID, string(status)).Inc()
	p.recordDuration.WithLabelValues(backendID).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveSelect(metric domain.SelectMetric) {
	p.selections.WithLabelValues(string(metric.Strategy), metric.Backend, strconv.FormatBool(metric.Degraded)).Inc()
	p.selectDuration.WithLabelValues(string(metric.Strategy)).Observe(metric.Duration.Seconds())
	p.selectConfidence.Observe(metric.Confidence)
}

func (p *PrometheusMetrics) ObserveTuningCycle(metric domain.TuningCycleMetric) {
	p.tuningCycles.Inc()
	p.tuningApplied.Add(float64(metric.Applied))
	p.tuningSurfaced.Add(float64(metric.Surfaced))
	p.tuningCycleDuration.Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveSystemSample(sample domain.SystemSample) {
	p.systemCPU.Set(sample.CPUPercent)
	p.systemMemory.Set(sample.MemoryPercent)
	p.systemQueueDepth.Set(float64(sample.QueueDepth))
}

func (p *PrometheusMetrics) SetActiveAlerts(count int) {
	p.activeAlerts.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveThresholdViolation(metric domain.MetricKind, backendID string) {
	p.thresholdViolations.WithLabelValues(string(metric), backendID).Inc()
}

func (p *PrometheusMetrics) ObserveScaleDecision(direction domain.ScaleDirection) {
	p.scaleDecisions.WithLabelValues(string(direction)).Inc()
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
