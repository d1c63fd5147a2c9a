package engineconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"perfd/internal/domain"
)

// Loader reads and validates engine configuration files.
type Loader struct {
	logger *zap.Logger
}

// LoadOptions controls loader behavior.
type LoadOptions struct {
	// AllowCreate seeds a default config file when the path is missing.
	AllowCreate bool
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("engineconfig")}
}

func newEngineViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setEngineDefaults(v)
	return v
}

func setEngineDefaults(v *viper.Viper) {
	v.SetDefault("samplingIntervalSeconds", domain.DefaultSamplingIntervalSeconds)
	v.SetDefault("ringCapacity", domain.DefaultRingCapacity)
	v.SetDefault("tuningIntervalMinutes", domain.DefaultTuningIntervalMinutes)
	v.SetDefault("confidenceThreshold", domain.DefaultConfidenceThreshold)
	v.SetDefault("autoApplyConfidence", domain.DefaultAutoApplyConfidence)
	v.SetDefault("learningRate", domain.DefaultLearningRate)
	v.SetDefault("maxActiveTunings", domain.DefaultMaxActiveTunings)
	v.SetDefault("activeTuningTTLMinutes", domain.DefaultActiveTuningTTLMinutes)
	v.SetDefault("routingCacheTTLMinutes", domain.DefaultRoutingCacheTTLMinutes)
	v.SetDefault("retentionHours", domain.DefaultRetentionHours)
	v.SetDefault("storeTimeoutSeconds", domain.DefaultStoreTimeoutSeconds)
	v.SetDefault("storeRetries", domain.DefaultStoreRetries)
	v.SetDefault("detectors.autocorrelationLag", domain.DefaultAutocorrelationLag)
	v.SetDefault("detectors.trendMinSamples", domain.DefaultTrendMinSamples)
	v.SetDefault("detectors.cycleMinSamples", domain.DefaultCycleMinSamples)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityAddress)
}

type rawEngineConfig struct {
	SamplingIntervalSeconds int                          `mapstructure:"samplingIntervalSeconds"`
	RingCapacity            int                          `mapstructure:"ringCapacity"`
	ResourceThresholds      map[string]rawTierThresholds `mapstructure:"resourceThresholds"`
	Detectors               rawDetectorConfig            `mapstructure:"detectors"`
	TuningIntervalMinutes   int                          `mapstructure:"tuningIntervalMinutes"`
	ConfidenceThreshold     float64                      `mapstructure:"confidenceThreshold"`
	AutoApplyConfidence     float64                      `mapstructure:"autoApplyConfidence"`
	LearningRate            float64                      `mapstructure:"learningRate"`
	MaxActiveTunings        int                          `mapstructure:"maxActiveTunings"`
	ActiveTuningTTLMinutes  int                          `mapstructure:"activeTuningTTLMinutes"`
	RoutingCacheTTLMinutes  int                          `mapstructure:"routingCacheTTLMinutes"`
	RetentionHours          int                          `mapstructure:"retentionHours"`
	StoreTimeoutSeconds     int                          `mapstructure:"storeTimeoutSeconds"`
	StoreRetries            int                          `mapstructure:"storeRetries"`
	StorePath               string                       `mapstructure:"storePath"`
	Observability           rawObservabilityConfig       `mapstructure:"observability"`
	Thresholds              []rawThreshold               `mapstructure:"thresholds"`
	Profiles                []rawProfile                 `mapstructure:"profiles"`
}

type rawTierThresholds struct {
	Warning   float64 `mapstructure:"warning"`
	Critical  float64 `mapstructure:"critical"`
	Emergency float64 `mapstructure:"emergency"`
}

type rawDetectorConfig struct {
	AutocorrelationLag int `mapstructure:"autocorrelationLag"`
	TrendMinSamples    int `mapstructure:"trendMinSamples"`
	CycleMinSamples    int `mapstructure:"cycleMinSamples"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawThreshold struct {
	Name          string  `mapstructure:"name"`
	Metric        string  `mapstructure:"metric"`
	Bound         string  `mapstructure:"bound"`
	WarningLevel  float64 `mapstructure:"warningLevel"`
	CriticalLevel float64 `mapstructure:"criticalLevel"`
	BackendID     string  `mapstructure:"backendId"`
}

type rawProfile struct {
	BackendID       string   `mapstructure:"backendId"`
	MaxInputSize    int      `mapstructure:"maxInputSize"`
	ContextCapacity int      `mapstructure:"contextCapacity"`
	Modalities      []string `mapstructure:"modalities"`
	CreativityScore float64  `mapstructure:"creativityScore"`
	ReasoningScore  float64  `mapstructure:"reasoningScore"`
	SpeedScore      float64  `mapstructure:"speedScore"`
	CostPerUnit     float64  `mapstructure:"costPerUnit"`
}

// Load reads the config file at path, falling back to defaults when the
// path is empty. With AllowCreate a missing file is seeded first.
func (l *Loader) Load(ctx context.Context, path string, opts LoadOptions) (domain.EngineConfig, error) {
	if path == "" {
		return domain.DefaultEngineConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && opts.AllowCreate {
			if seedErr := seedDefaultConfig(path); seedErr != nil {
				return domain.EngineConfig{}, fmt.Errorf("seed config: %w", seedErr)
			}
			l.logger.Info("seeded default config", zap.String("path", path))
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return domain.EngineConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	v := newEngineViper()
	if err := v.ReadConfig(bytes.NewBuffer(data)); err != nil {
		return domain.EngineConfig{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawEngineConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.EngineConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.EngineConfig{}, err
	}

	cfg, errs := normalizeEngineConfig(raw)
	if len(errs) > 0 {
		return domain.EngineConfig{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks a config file without returning the loaded config.
func (l *Loader) Validate(ctx context.Context, path string) error {
	_, err := l.Load(ctx, path, LoadOptions{})
	return err
}

func normalizeEngineConfig(raw rawEngineConfig) (domain.EngineConfig, []string) {
	var errs []string

	if raw.SamplingIntervalSeconds <= 0 {
		errs = append(errs, "samplingIntervalSeconds must be > 0")
	}
	if raw.RingCapacity < 10 {
		errs = append(errs, "ringCapacity must be >= 10")
	}
	if raw.TuningIntervalMinutes <= 0 {
		errs = append(errs, "tuningIntervalMinutes must be > 0")
	}
	if raw.ConfidenceThreshold <= 0 || raw.ConfidenceThreshold > 1 {
		errs = append(errs, "confidenceThreshold must be in (0, 1]")
	}
	if raw.AutoApplyConfidence < raw.ConfidenceThreshold || raw.AutoApplyConfidence > 1 {
		errs = append(errs, "autoApplyConfidence must be in [confidenceThreshold, 1]")
	}
	if raw.LearningRate <= 0 || raw.LearningRate > 1 {
		errs = append(errs, "learningRate must be in (0, 1]")
	}
	if raw.MaxActiveTunings < 1 {
		errs = append(errs, "maxActiveTunings must be >= 1")
	}
	if raw.ActiveTuningTTLMinutes <= 0 {
		errs = append(errs, "activeTuningTTLMinutes must be > 0")
	}
	if raw.RoutingCacheTTLMinutes <= 0 {
		errs = append(errs, "routingCacheTTLMinutes must be > 0")
	}
	if raw.RetentionHours <= 0 {
		errs = append(errs, "retentionHours must be > 0")
	}
	if raw.StoreTimeoutSeconds <= 0 {
		errs = append(errs, "storeTimeoutSeconds must be > 0")
	}
	if raw.StoreRetries < 1 {
		errs = append(errs, "storeRetries must be >= 1")
	}
	if raw.Detectors.AutocorrelationLag < 1 {
		errs = append(errs, "detectors.autocorrelationLag must be >= 1")
	}
	if raw.Detectors.TrendMinSamples < 2 {
		errs = append(errs, "detectors.trendMinSamples must be >= 2")
	}
	if raw.Detectors.CycleMinSamples <= raw.Detectors.AutocorrelationLag*2 {
		errs = append(errs, "detectors.cycleMinSamples must exceed twice the autocorrelation lag")
	}

	resourceThresholds := domain.DefaultResourceThresholds()
	for name, tiers := range raw.ResourceThresholds {
		kind := domain.ResourceKind(name)
		if _, known := resourceThresholds[kind]; !known {
			errs = append(errs, fmt.Sprintf("resourceThresholds.%s: unknown resource kind", name))
			continue
		}
		if !(tiers.Warning < tiers.Critical && tiers.Critical < tiers.Emergency) {
			errs = append(errs, fmt.Sprintf("resourceThresholds.%s: tiers must be strictly increasing", name))
			continue
		}
		resourceThresholds[kind] = domain.ResourceTierThresholds{
			Warning:   tiers.Warning,
			Critical:  tiers.Critical,
			Emergency: tiers.Emergency,
		}
	}

	thresholds := make([]domain.Threshold, 0, len(raw.Thresholds))
	for i, t := range raw.Thresholds {
		threshold := domain.Threshold{
			Name:          t.Name,
			Metric:        domain.MetricKind(t.Metric),
			Bound:         domain.BoundKind(t.Bound),
			WarningLevel:  t.WarningLevel,
			CriticalLevel: t.CriticalLevel,
			BackendID:     t.BackendID,
		}
		if err := threshold.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("thresholds[%d]: %v", i, err))
			continue
		}
		thresholds = append(thresholds, threshold)
	}

	profiles := make([]domain.BackendProfile, 0, len(raw.Profiles))
	seen := make(map[string]struct{})
	for i, p := range raw.Profiles {
		if p.BackendID == "" {
			errs = append(errs, fmt.Sprintf("profiles[%d]: backendId is required", i))
			continue
		}
		if _, dup := seen[p.BackendID]; dup {
			errs = append(errs, fmt.Sprintf("profiles[%d]: duplicate backendId %q", i, p.BackendID))
			continue
		}
		seen[p.BackendID] = struct{}{}
		modalities := make([]domain.Modality, 0, len(p.Modalities))
		for _, m := range p.Modalities {
			modalities = append(modalities, domain.Modality(m))
		}
		profiles = append(profiles, domain.BackendProfile{
			BackendID:       p.BackendID,
			MaxInputSize:    p.MaxInputSize,
			ContextCapacity: p.ContextCapacity,
			Modalities:      modalities,
			CreativityScore: p.CreativityScore,
			ReasoningScore:  p.ReasoningScore,
			SpeedScore:      p.SpeedScore,
			CostPerUnit:     p.CostPerUnit,
		})
	}

	return domain.EngineConfig{
		SamplingInterval:   time.Duration(raw.SamplingIntervalSeconds) * time.Second,
		RingCapacity:       raw.RingCapacity,
		ResourceThresholds: resourceThresholds,
		Detectors: domain.DetectorConfig{
			AutocorrelationLag: raw.Detectors.AutocorrelationLag,
			TrendMinSamples:    raw.Detectors.TrendMinSamples,
			CycleMinSamples:    raw.Detectors.CycleMinSamples,
		},
		TuningInterval:       time.Duration(raw.TuningIntervalMinutes) * time.Minute,
		ConfidenceThreshold:  raw.ConfidenceThreshold,
		AutoApplyConfidence:  raw.AutoApplyConfidence,
		LearningRate:         raw.LearningRate,
		MaxActiveTunings:     raw.MaxActiveTunings,
		ActiveTuningTTL:      time.Duration(raw.ActiveTuningTTLMinutes) * time.Minute,
		RoutingCacheTTL:      time.Duration(raw.RoutingCacheTTLMinutes) * time.Minute,
		RetentionHorizon:     time.Duration(raw.RetentionHours) * time.Hour,
		StoreTimeout:         time.Duration(raw.StoreTimeoutSeconds) * time.Second,
		StoreRetries:         raw.StoreRetries,
		StorePath:            raw.StorePath,
		ObservabilityAddress: strings.TrimSpace(raw.Observability.ListenAddress),
		Thresholds:           thresholds,
		Profiles:             profiles,
	}, errs
}

type seedFile struct {
	SamplingIntervalSeconds int                  `yaml:"samplingIntervalSeconds"`
	RingCapacity            int                  `yaml:"ringCapacity"`
	TuningIntervalMinutes   int                  `yaml:"tuningIntervalMinutes"`
	ConfidenceThreshold     float64              `yaml:"confidenceThreshold"`
	AutoApplyConfidence     float64              `yaml:"autoApplyConfidence"`
	LearningRate            float64              `yaml:"learningRate"`
	MaxActiveTunings        int                  `yaml:"maxActiveTunings"`
	ActiveTuningTTLMinutes  int                  `yaml:"activeTuningTTLMinutes"`
	RoutingCacheTTLMinutes  int                  `yaml:"routingCacheTTLMinutes"`
	RetentionHours          int                  `yaml:"retentionHours"`
	StorePath               string               `yaml:"storePath"`
	Observability           seedObservability    `yaml:"observability"`
	Thresholds              []domain.Threshold   `yaml:"thresholds"`
	Profiles                []seedProfile        `yaml:"profiles"`
}

type seedObservability struct {
	ListenAddress string `yaml:"listenAddress"`
}

type seedProfile struct {
	BackendID  string   `yaml:"backendId"`
	Modalities []string `yaml:"modalities"`
	SpeedScore float64  `yaml:"speedScore"`
}

func seedDefaultConfig(path string) error {
	seed := seedFile{
		SamplingIntervalSeconds: domain.DefaultSamplingIntervalSeconds,
		RingCapacity:            domain.DefaultRingCapacity,
		TuningIntervalMinutes:   domain.DefaultTuningIntervalMinutes,
		ConfidenceThreshold:     domain.DefaultConfidenceThreshold,
		AutoApplyConfidence:     domain.DefaultAutoApplyConfidence,
		LearningRate:            domain.DefaultLearningRate,
		MaxActiveTunings:        domain.DefaultMaxActiveTunings,
		ActiveTuningTTLMinutes:  domain.DefaultActiveTuningTTLMinutes,
		RoutingCacheTTLMinutes:  domain.DefaultRoutingCacheTTLMinutes,
		RetentionHours:          domain.DefaultRetentionHours,
		StorePath:               "perfd.db",
		Observability: seedObservability{
			ListenAddress: domain.DefaultObservabilityAddress,
		},
	}
	data, err := yaml.Marshal(seed)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
