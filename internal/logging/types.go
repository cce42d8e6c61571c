package logging

import "time"

// #region transition-entry
// Transition kinds recorded in curriculum_log.
const (
	KindTransition = "transition"
	KindEvolution  = "evolution"
	KindSafety     = "safety"
)

// TransitionEntry is a single row in the curriculum_log table.
type TransitionEntry struct {
	RunID        string
	Episode      int
	Kind         string // "transition" | "evolution" | "safety"
	FromPhase    string
	ToPhase      string
	StageVersion int
	ParamsJSON   string // stage parameters after the decision
	SignalsJSON  string // detector inputs that drove it
	Reason       string
	CreatedAt    time.Time
}
// #endregion transition-entry

// #region transition-signals
// TransitionSignals captures the plateau detector inputs at decision time.
// Serialized as JSON into curriculum_log.signals_json.
type TransitionSignals struct {
	Confidence  float64 `json:"confidence"`
	Trend       float64 `json:"trend"`
	Stability   float64 `json:"stability"`
	Performance float64 `json:"performance"`
	Streak      int     `json:"streak"`
	Fallback    bool    `json:"fallback"`
	Improvement float64 `json:"improvement,omitempty"`
	MeanLength  float64 `json:"mean_length,omitempty"`
	LengthCV    float64 `json:"length_cv,omitempty"`
	SafetyKind  string  `json:"safety_kind,omitempty"`
	SafetyValue float64 `json:"safety_value,omitempty"`
	SafetyLimit float64 `json:"safety_limit,omitempty"`
}
// #endregion transition-signals
