package domain

// Modality names an input/output capability of a backend.
type Modality string

const (
	// ModalityText is plain text.
	ModalityText Modality = "text"
	// ModalityImage is image input/output.
	ModalityImage Modality = "image"
	// ModalityAudio is audio input/output.
	ModalityAudio Modality = "audio"
	// ModalityCode is code generation.
	ModalityCode Modality = "code"
)

// BackendProfile is the static capability description of one backend.
// SpeedScore drifts toward observed performance over time; everything
// else is operator-maintained reference data.
type BackendProfile struct {
	BackendID       string     `json:"backendId"`
	MaxInputSize    int        `json:"maxInputSize"`
	ContextCapacity int        `json:"contextCapacity"`
	Modalities      []Modality `json:"modalities"`
	CreativityScore float64    `json:"creativityScore"`
	ReasoningScore  float64    `json:"reasoningScore"`
	SpeedScore      float64    `json:"speedScore"`
	CostPerUnit     float64    `json:"costPerUnit"`
}

// SupportsModality reports whether the backend declares a modality.
func (p BackendProfile) SupportsModality(m Modality) bool {
	for _, have := range p.Modalities {
		if have == m {
			return true
		}
	}
	return false
}

// BlendObservedSpeed folds an observed speed score into the static one
// with exponential weighting. alpha is the weight of the observation.
func (p BackendProfile) BlendObservedSpeed(observed, alpha float64) BackendProfile {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	p.SpeedScore = p.SpeedScore*(1-alpha) + observed*alpha
	return p
}

// TaskFeatures describes the work unit being routed.
type TaskFeatures struct {
	TaskID             string     `json:"taskId"`
	InputSize          int        `json:"inputSize"`
	ContextNeeded      int        `json:"contextNeeded"`
	RequiredModalities []Modality `json:"requiredModalities,omitempty"`
	CreativityRequired float64    `json:"creativityRequired"`
	ReasoningRequired  float64    `json:"reasoningRequired"`
}
