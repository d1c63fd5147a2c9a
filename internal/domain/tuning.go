package domain

import "time"

// TuningAction names what a recommendation changes.
type TuningAction string

const (
	// TuningAdjustThreshold changes a monitor threshold level.
	TuningAdjustThreshold TuningAction = "adjust_threshold"
	// TuningRebalanceRouting changes router strategy weights.
	TuningRebalanceRouting TuningAction = "rebalance_routing"
	// TuningAlertOperator surfaces a condition that is unsafe to auto-apply.
	TuningAlertOperator TuningAction = "alert_operator"
)

// TuningState tracks a recommendation through its lifecycle.
// proposed → (filtered_out | surfaced | auto_applying) → applied | expired.
type TuningState string

const (
	// TuningProposed is the initial state for every recommendation.
	TuningProposed TuningState = "proposed"
	// TuningFilteredOut means the recommendation was dropped by the filter.
	TuningFilteredOut TuningState = "filtered_out"
	// TuningSurfaced means the recommendation awaits operator action.
	TuningSurfaced TuningState = "surfaced"
	// TuningAutoApplying means the tuner is applying a bounded step.
	TuningAutoApplying TuningState = "auto_applying"
	// TuningApplied is terminal; the bounded step landed.
	TuningApplied TuningState = "applied"
	// TuningExpired is terminal; the tuning aged out without action.
	TuningExpired TuningState = "expired"
)

// Terminal reports whether the state ends the lifecycle.
func (s TuningState) Terminal() bool {
	return s == TuningApplied || s == TuningExpired
}

// TuningRecommendation is one proposed configuration change from a
// tuning cycle. There is no automatic rollback; reverting is a new
// recommendation in the opposite direction.
type TuningRecommendation struct {
	ID               string       `json:"id"`
	Action           TuningAction `json:"action"`
	Target           string       `json:"target"`
	CurrentValue     float64      `json:"currentValue"`
	RecommendedValue float64      `json:"recommendedValue"`
	Confidence       float64      `json:"confidence"`
	Reasoning        string       `json:"reasoning"`
	Priority         int          `json:"priority"`
	State            TuningState  `json:"state"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// ActiveTuning is an applied tuning that has not yet expired; it blocks
// duplicate recommendations against the same target.
type ActiveTuning struct {
	Target    string       `json:"target"`
	Action    TuningAction `json:"action"`
	AppliedAt time.Time    `json:"appliedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// TuningStatus is the tuner's externally visible state.
type TuningStatus struct {
	CycleInFlight bool                   `json:"cycleInFlight"`
	LastCycleAt   time.Time              `json:"lastCycleAt"`
	CycleCount    int                    `json:"cycleCount"`
	Active        []ActiveTuning         `json:"active"`
	Surfaced      []TuningRecommendation `json:"surfaced"`
}
