// Package curriculum adapts training difficulty and reward shaping from
// measured learning progress, and watches training health.
package curriculum

import (
	"github.com/danielpatrickdp/gridzone/internal/env"
)

// #region phase
// Phase is the curriculum stage machine state.
type Phase string

const (
	PhaseWarmup      Phase = "warmup"
	PhaseProgressing Phase = "progressing"
	PhasePlateaued   Phase = "plateaued"
	PhaseConverged   Phase = "converged"
)
// #endregion phase

// #region params
// Params are the stage-controlled training parameters.
type Params struct {
	PartitionTarget int         `json:"partition_target"`
	Weights         env.Weights `json:"weights"`
	MaskRelaxation  float64     `json:"mask_relaxation"`
	LRDecay         float64     `json:"lr_decay"`
	SuccessScale    float64     `json:"success_scale"` // multiplier on the success CV threshold
}

// Stage is a value snapshot of the curriculum. Version increases on every
// mutation; consumers compare versions to detect change.
type Stage struct {
	Phase      Phase  `json:"phase"`
	Version    int    `json:"version"`
	Evolutions int    `json:"evolutions"`
	EnteredAt  int    `json:"entered_at"` // episode at which Phase was entered
	Params     Params `json:"params"`
}
// #endregion params

// #region config
// WarmupConfig gates the exit from Warmup on stable episode lengths.
type WarmupConfig struct {
	Window            int     // episode-length window size
	LengthCVThreshold float64 // max CV of lengths
	MinEpisodeLength  float64 // min mean length
	Sustain           int     // consecutive qualifying episodes required
}

// PlateauConfig drives plateau detection and recovery.
type PlateauConfig struct {
	ShortWindow                  int
	MediumWindow                 int
	LongWindow                   int
	TrendWeight                  float64
	StabilityWeight              float64
	PerformanceWeight            float64
	ConfidenceThreshold          float64
	StabilityWindow              int     // consecutive confident episodes required
	TrendTolerance               float64 // relative drift over a window that counts as no trend
	StabilityCVRef               float64 // CV at which stability reaches zero
	FallbackWindow               int
	FallbackPerformanceThreshold float64
	MinImprovement               float64 // relative improvement that ends a plateau
}

// EvolutionConfig bounds every stage parameter and the step taken per evolution.
type EvolutionConfig struct {
	PartitionStart   int
	PartitionStep    int
	PartitionMax     int
	WeightsStart     env.Weights
	WeightsEnd       env.Weights
	RelaxationStart  float64
	RelaxationStep   float64
	RelaxationMax    float64
	LRDecayFactor    float64
	LRDecayMin       float64
	SuccessScaleStep float64
	SuccessScaleMin  float64
	MaxEvolutions    int
}

// Config groups the controller settings.
type Config struct {
	Warmup    WarmupConfig
	Plateau   PlateauConfig
	Evolution EvolutionConfig
}

// DefaultConfig returns the training defaults.
func DefaultConfig() Config {
	return Config{
		Warmup: WarmupConfig{
			Window:            20,
			LengthCVThreshold: 0.2,
			MinEpisodeLength:  5,
			Sustain:           5,
		},
		Plateau: PlateauConfig{
			ShortWindow:                  10,
			MediumWindow:                 25,
			LongWindow:                   50,
			TrendWeight:                  0.4,
			StabilityWeight:              0.4,
			PerformanceWeight:            0.2,
			ConfidenceThreshold:          0.75,
			StabilityWindow:              10,
			TrendTolerance:               0.1,
			StabilityCVRef:               0.1,
			FallbackWindow:               20,
			FallbackPerformanceThreshold: 0.85,
			MinImprovement:               0.05,
		},
		Evolution: EvolutionConfig{
			PartitionStart:   3,
			PartitionStep:    1,
			PartitionMax:     6,
			WeightsStart:     env.Weights{LoadBalance: 0.5, Decoupling: 0.3, PowerBalance: 0.2},
			WeightsEnd:       env.Weights{LoadBalance: 0.35, Decoupling: 0.45, PowerBalance: 0.2},
			RelaxationStart:  0,
			RelaxationStep:   0.1,
			RelaxationMax:    1,
			LRDecayFactor:    0.9,
			LRDecayMin:       0.1,
			SuccessScaleStep: 0.1,
			SuccessScaleMin:  0.5,
			MaxEvolutions:    10,
		},
	}
}

// InitialParams returns the starting parameters for cfg.
func (c EvolutionConfig) InitialParams() Params {
	return Params{
		PartitionTarget: c.PartitionStart,
		Weights:         c.WeightsStart,
		MaskRelaxation:  c.RelaxationStart,
		LRDecay:         1,
		SuccessScale:    1,
	}
}
// #endregion config

// #region outcome
// Outcome is what the controller learns from one finished episode.
type Outcome struct {
	Episode int
	Length  int
	Reward  float64
	Metrics env.PartitionMetrics
}

// CompositeScore folds partition quality into [0,1]: balance, decoupling and
// connectivity weighted 0.4/0.3/0.3.
func CompositeScore(m env.PartitionMetrics) float64 {
	cv := m.LoadCV
	if cv > 1 {
		cv = 1
	}
	coupling := m.CouplingRatio
	if coupling > 1 {
		coupling = 1
	}
	return 0.4*(1-cv) + 0.3*(1-coupling) + 0.3*m.Connectivity
}
// #endregion outcome
