package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"perfd/internal/domain"
	"perfd/internal/infra/engineconfig"
	"perfd/internal/infra/metricstore"
	"perfd/internal/infra/telemetry"
)

const pruneInterval = time.Hour

// ServeConfig configures a daemon run.
type ServeConfig struct {
	ConfigPath string
	Logger     *zap.Logger
}

// Serve runs the engine until ctx is cancelled: config load and watch,
// durable store, background sampling and tuning, observability server,
// periodic retention pruning. Shutdown is graceful.
func Serve(ctx context.Context, cfg ServeConfig) error {
	logging := NewLogging(LoggingConfig{Logger: cfg.Logger})
	logger := logging.Logger

	var engine *Engine
	provider, err := NewDynamicConfigProvider(ctx, cfg.ConfigPath, func(next domain.EngineConfig) error {
		if engine == nil {
			return nil
		}
		return engine.ApplyConfig(next)
	}, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	econf := provider.Snapshot()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewPrometheusMetrics(registry)

	var store domain.SampleStore
	if econf.StorePath != "" {
		bolt, err := metricstore.OpenBolt(econf.StorePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		store = bolt
	} else {
		logger.Warn("no store path configured, samples are memory only")
		store = metricstore.NewMemoryStore()
	}

	engine, err = NewEngine(EngineOptions{
		Config:  econf,
		Logger:  logger,
		Metrics: metrics,
		Store:   store,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	engine.StartResourceMonitoring()
	engine.StartTuning()
	provider.Watch(ctx)

	health := telemetry.NewHealthTracker()
	go watchAlerts(ctx, engine, health)
	go pruneLoop(ctx, engine, logger)

	logger.Info("engine running",
		zap.String("config", cfg.ConfigPath),
		zap.String("observability", econf.ObservabilityAddress),
		zap.Int("profiles", len(econf.Profiles)),
		zap.Int("thresholds", len(econf.Thresholds)))

	return telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
		Addr:          econf.ObservabilityAddress,
		EnableMetrics: true,
		EnableHealthz: true,
		Health:        health,
		Registry:      registry,
	}, logger)
}

// ValidateConfig checks a config file and returns the first batch of
// validation errors, if any.
func ValidateConfig(ctx context.Context, path string, logger *zap.Logger) error {
	return engineconfig.NewLoader(logger).Validate(ctx, path)
}

// watchAlerts mirrors the engine's unresolved alert count into the
// health endpoint.
func watchAlerts(ctx context.Context, engine *Engine, health *telemetry.HealthTracker) {
	events := engine.SubscribeResourceEvents(ctx)
	for event := range events {
		if event.Kind != domain.ResourceEventAlert {
			continue
		}
		unresolved := false
		active := engine.GetAlerts(&unresolved)
		health.SetActiveAlerts(len(active))
		health.SetDegraded(hasEmergency(active))
	}
}

func hasEmergency(alerts []domain.Alert) bool {
	for _, alert := range alerts {
		if alert.Severity == domain.SeverityEmergency {
			return true
		}
	}
	return false
}

func pruneLoop(ctx context.Context, engine *Engine, logger *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := engine.PruneStore(ctx)
			if err != nil {
				logger.Warn("retention prune failed", zap.Error(err))
				continue
			}
			if pruned > 0 {
				logger.Info("retention prune complete", zap.Int("samples", pruned))
			}
		}
	}
}
