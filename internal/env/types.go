// Package env implements the partitioning MDP: buses are assigned one at a
// time to one of K partitions under an adjacency mask, and each step is
// rewarded for load balance, electrical decoupling and power balance.
package env

import (
	"fmt"

	"github.com/danielpatrickdp/gridzone/internal/grid"
)

// Unassigned marks a bus that has not been placed in a partition.
const Unassigned = -1

// #region config

// Mode selects the reward shaping variant. It is chosen once per run.
type Mode string

const (
	ModeEnhanced  Mode = "enhanced"
	ModeLegacy    Mode = "legacy"
	ModeDualLayer Mode = "dual_layer"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEnhanced, ModeLegacy, ModeDualLayer:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown reward mode %q", s)
}

// Config holds per-run environment parameters.
type Config struct {
	MaxSteps         int  // hard cap on steps per episode
	MinEpisodeLength int  // episodes ending earlier are flagged EarlyTermination
	RelaxationHops   int  // hop budget added at mask_relaxation = 1
	Mode             Mode // reward shaping variant
}

// DefaultConfig returns the training defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:         200,
		MinEpisodeLength: 5,
		RelaxationHops:   2,
		Mode:             ModeDualLayer,
	}
}

// #endregion config

// #region weights

// Weights scale the three reward components.
type Weights struct {
	LoadBalance  float64 `json:"load_balance" yaml:"load_balance" mapstructure:"load_balance"`
	Decoupling   float64 `json:"decoupling" yaml:"decoupling" mapstructure:"decoupling"`
	PowerBalance float64 `json:"power_balance" yaml:"power_balance" mapstructure:"power_balance"`
}

// DefaultWeights returns the balanced starting weights.
func DefaultWeights() Weights {
	return Weights{LoadBalance: 0.4, Decoupling: 0.4, PowerBalance: 0.2}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 { return w.LoadBalance + w.Decoupling + w.PowerBalance }

// Lerp interpolates from w to to at t in [0,1].
func (w Weights) Lerp(to Weights, t float64) Weights {
	return Weights{
		LoadBalance:  w.LoadBalance + (to.LoadBalance-w.LoadBalance)*t,
		Decoupling:   w.Decoupling + (to.Decoupling-w.Decoupling)*t,
		PowerBalance: w.PowerBalance + (to.PowerBalance-w.PowerBalance)*t,
	}
}

// #endregion weights

// #region action

// Action places Bus into Partition.
type Action struct {
	Bus       int
	Partition int
}

// Termination records why an episode ended.
type Termination string

const (
	TerminationNone     Termination = ""
	TerminationComplete Termination = "complete"
	TerminationTimeout  Termination = "timeout"
	TerminationStuck    Termination = "stuck"
)

// #endregion action

// #region results

// RewardComponents are the raw component values (each in [-1, 0]), their
// weighted sum, and the mode-specific scalar actually returned by Step.
type RewardComponents struct {
	LoadBalance  float64 `json:"load_balance"`
	Decoupling   float64 `json:"decoupling"`
	PowerBalance float64 `json:"power_balance"`
	Weighted     float64 `json:"weighted"`
	Shaped       float64 `json:"shaped"`
}

// PartitionMetrics summarises the current partition quality.
type PartitionMetrics struct {
	LoadCV        float64 `json:"load_cv"`        // coefficient of variation of per-partition load
	CouplingRatio float64 `json:"coupling_ratio"` // boundary capacity / total capacity
	MismatchRatio float64 `json:"mismatch_ratio"` // Σ|gen-load| / (total load + total gen)
	Connectivity  float64 `json:"connectivity"`   // fraction of non-empty partitions that are connected
	CouplingEdges int     `json:"coupling_edges"`
	Assigned      int     `json:"assigned"`
	NonEmpty      int     `json:"non_empty"`
}

// StepInfo carries per-step diagnostics.
type StepInfo struct {
	Step             int
	Components       RewardComponents
	Metrics          PartitionMetrics
	Termination      Termination
	TerminalReward   float64
	EarlyTermination bool
}

// StateInfo is a compact summary for logging.
type StateInfo struct {
	Step       int
	MaxSteps   int
	Partitions int
	Buses      int
	Assigned   int
	Done       bool
}

// Observation is the agent-facing snapshot after Reset or Step. Slices are
// copies; the Network is shared and immutable.
type Observation struct {
	Network       *grid.Network
	Assignment    []int
	PartitionLoad []float64
	PartitionSize []int
	Mask          ActionMask
	Step          int
	MaxSteps      int
	Partitions    int
	Metrics       PartitionMetrics
}

// #endregion results
