package domain

import "time"

// Defaults for every recognized configuration option. The detector
// constants (lag, minimum windows) are inherited heuristics whose
// statistical validity depends on the sampling interval, so they are
// configuration rather than hardcoded values.
const (
	DefaultSamplingIntervalSeconds = 5
	DefaultRingCapacity            = 1000
	DefaultTuningIntervalMinutes   = 30
	DefaultConfidenceThreshold     = 0.7
	DefaultAutoApplyConfidence     = 0.9
	DefaultLearningRate            = 0.1
	DefaultMaxActiveTunings        = 3
	DefaultActiveTuningTTLMinutes  = 120
	DefaultRoutingCacheTTLMinutes  = 5
	DefaultRetentionHours          = 72
	DefaultStoreTimeoutSeconds     = 2
	DefaultStoreRetries            = 3
	DefaultAutocorrelationLag      = 10
	DefaultTrendMinSamples         = 30
	DefaultCycleMinSamples         = 100
	DefaultObservabilityAddress    = "127.0.0.1:9464"
)

// DetectorConfig tunes the sampler's pattern detectors.
type DetectorConfig struct {
	AutocorrelationLag int `json:"autocorrelationLag"`
	TrendMinSamples    int `json:"trendMinSamples"`
	CycleMinSamples    int `json:"cycleMinSamples"`
}

// EngineConfig is the full configuration surface of the engine.
type EngineConfig struct {
	SamplingInterval   time.Duration                           `json:"samplingInterval"`
	RingCapacity       int                                     `json:"ringCapacity"`
	ResourceThresholds map[ResourceKind]ResourceTierThresholds `json:"resourceThresholds"`
	Detectors          DetectorConfig                          `json:"detectors"`

	TuningInterval      time.Duration `json:"tuningInterval"`
	ConfidenceThreshold float64       `json:"confidenceThreshold"`
	AutoApplyConfidence float64       `json:"autoApplyConfidence"`
	LearningRate        float64       `json:"learningRate"`
	MaxActiveTunings    int           `json:"maxActiveTunings"`
	ActiveTuningTTL     time.Duration `json:"activeTuningTtl"`

	RoutingCacheTTL  time.Duration `json:"routingCacheTtl"`
	RetentionHorizon time.Duration `json:"retentionHorizon"`
	StoreTimeout     time.Duration `json:"storeTimeout"`
	StoreRetries     int           `json:"storeRetries"`
	StorePath        string        `json:"storePath"`

	ObservabilityAddress string `json:"observabilityAddress"`

	Thresholds []Threshold      `json:"thresholds"`
	Profiles   []BackendProfile `json:"profiles"`
}

// DefaultEngineConfig returns the configuration used when no file is
// provided.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SamplingInterval:   DefaultSamplingIntervalSeconds * time.Second,
		RingCapacity:       DefaultRingCapacity,
		ResourceThresholds: DefaultResourceThresholds(),
		Detectors: DetectorConfig{
			AutocorrelationLag: DefaultAutocorrelationLag,
			TrendMinSamples:    DefaultTrendMinSamples,
			CycleMinSamples:    DefaultCycleMinSamples,
		},
		TuningInterval:       DefaultTuningIntervalMinutes * time.Minute,
		ConfidenceThreshold:  DefaultConfidenceThreshold,
		AutoApplyConfidence:  DefaultAutoApplyConfidence,
		LearningRate:         DefaultLearningRate,
		MaxActiveTunings:     DefaultMaxActiveTunings,
		ActiveTuningTTL:      DefaultActiveTuningTTLMinutes * time.Minute,
		RoutingCacheTTL:      DefaultRoutingCacheTTLMinutes * time.Minute,
		RetentionHorizon:     DefaultRetentionHours * time.Hour,
		StoreTimeout:         DefaultStoreTimeoutSeconds * time.Second,
		StoreRetries:         DefaultStoreRetries,
		ObservabilityAddress: DefaultObservabilityAddress,
	}
}

// DefaultResourceThresholds returns the static alert tiers.
func DefaultResourceThresholds() map[ResourceKind]ResourceTierThresholds {
	return map[ResourceKind]ResourceTierThresholds{
		ResourceCPU:        {Warning: 70, Critical: 85, Emergency: 95},
		ResourceMemory:     {Warning: 75, Critical: 88, Emergency: 96},
		ResourceDisk:       {Warning: 80, Critical: 90, Emergency: 97},
		ResourceQueueDepth: {Warning: 50, Critical: 100, Emergency: 200},
	}
}
