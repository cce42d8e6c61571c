package env

import (
	"fmt"
	"math"
)

// #region components

// Evaluate maps partition metrics to the three reward components and weights
// them. It is a pure function: identical inputs give identical output.
func Evaluate(m PartitionMetrics, w Weights) RewardComponents {
	rc := RewardComponents{
		LoadBalance:  -math.Min(m.LoadCV, 1),
		Decoupling:   -math.Min(m.CouplingRatio, 1),
		PowerBalance: -math.Min(m.MismatchRatio, 1),
	}
	rc.Weighted = w.LoadBalance*rc.LoadBalance + w.Decoupling*rc.Decoupling + w.PowerBalance*rc.PowerBalance
	rc.Shaped = rc.Weighted
	return rc
}

// #endregion components

// #region shaper

// ShapeContext carries episode progress into the shapers.
type ShapeContext struct {
	Step         int
	MaxSteps     int
	Assigned     int
	Buses        int
	Weights      Weights
	Disconnected bool // some non-empty partition is not connected
}

// CompletionRatio is the assigned share of buses.
func (c ShapeContext) CompletionRatio() float64 {
	if c.Buses == 0 {
		return 0
	}
	return float64(c.Assigned) / float64(c.Buses)
}

// Shaper turns component values into the scalar reward for one mode.
type Shaper interface {
	Mode() Mode
	// Shape returns the per-step reward given the components after and before the step.
	Shape(cur, prev RewardComponents, ctx ShapeContext) float64
	// Final returns the terminal reward added on the last step.
	Final(m PartitionMetrics, term Termination, ctx ShapeContext) float64
}

// NewShaper returns the shaper for mode.
func NewShaper(mode Mode) (Shaper, error) {
	switch mode {
	case ModeEnhanced:
		return enhancedShaper{}, nil
	case ModeLegacy:
		return legacyShaper{}, nil
	case ModeDualLayer:
		return dualLayerShaper{}, nil
	}
	return nil, fmt.Errorf("unknown reward mode %q", mode)
}

// #endregion shaper

// #region enhanced

// enhancedShaper returns the dense weighted sum every step. An incomplete
// episode is charged the worst per-step reward for each bus left unassigned,
// so ending early never pays.
type enhancedShaper struct{}

func (enhancedShaper) Mode() Mode { return ModeEnhanced }

func (enhancedShaper) Shape(cur, _ RewardComponents, _ ShapeContext) float64 {
	return cur.Weighted
}

func (enhancedShaper) Final(_ PartitionMetrics, term Termination, ctx ShapeContext) float64 {
	if term == TerminationComplete {
		return 0
	}
	return -float64(ctx.Buses-ctx.Assigned) * ctx.Weights.Sum()
}

// #endregion enhanced

// #region legacy

const (
	legacyProgress   = 0.1
	legacyCVGain     = 5.0
	legacyCouplGain  = 2.0
	legacyPowerGain  = 3.0
	legacyQualityCV  = 0.2
	legacyQualityPay = 0.3
	legacyEfficiency = 0.005
	legacyMin        = -3.0
	legacyMax        = 2.0
	legacyBroken     = -10.0
)

// legacyShaper rewards improvement over the previous step. A step that leaves
// a partition disconnected earns legacyBroken instead, outside the clip range.
type legacyShaper struct{}

func (legacyShaper) Mode() Mode { return ModeLegacy }

func (legacyShaper) Shape(cur, prev RewardComponents, ctx ShapeContext) float64 {
	if ctx.Disconnected {
		return legacyBroken
	}
	r := legacyProgress
	r += legacyCVGain * (cur.LoadBalance - prev.LoadBalance)
	r += legacyCouplGain * (cur.Decoupling - prev.Decoupling)
	r += legacyPowerGain * (cur.PowerBalance - prev.PowerBalance)
	if -cur.LoadBalance < legacyQualityCV {
		r += legacyQualityPay
	}
	if ctx.MaxSteps > ctx.Step {
		r += legacyEfficiency * float64(ctx.MaxSteps-ctx.Step)
	}
	return clamp(r, legacyMin, legacyMax)
}

func (legacyShaper) Final(m PartitionMetrics, term Termination, ctx ShapeContext) float64 {
	return terminalReward(m, term, ctx)
}

// #endregion legacy

// #region dual-layer

// dualLayerShaper pays the change in weighted quality each step and a
// terminal quality reward at the end.
type dualLayerShaper struct{}

func (dualLayerShaper) Mode() Mode { return ModeDualLayer }

func (dualLayerShaper) Shape(cur, prev RewardComponents, _ ShapeContext) float64 {
	return cur.Weighted - prev.Weighted
}

func (dualLayerShaper) Final(m PartitionMetrics, term Termination, ctx ShapeContext) float64 {
	return terminalReward(m, term, ctx)
}

// #endregion dual-layer

// #region terminal

const (
	completionBonus      = 15.0
	disconnectedPenalty  = -30.0
	connectedBonus       = 5.0
	efficiencyBonus      = 10.0
	efficiencyCutoff     = 0.8
	timeoutCompleteScale = 0.7
	stuckScale           = 0.3
	timeoutBase          = -5.0
	timeoutIncomplete    = -10.0
)

// qualityBonus scores a finished partition. A disconnected partition replaces
// the whole quality bonus with a fixed penalty.
func qualityBonus(m PartitionMetrics) float64 {
	if m.Connectivity < 1 {
		return disconnectedPenalty
	}
	var q float64
	switch {
	case m.LoadCV < 0.1:
		q += 20
	case m.LoadCV < 0.2:
		q += 10
	case m.LoadCV < 0.3:
		q += 5
	}
	switch {
	case m.CouplingRatio < 0.3:
		q += 10
	case m.CouplingRatio < 0.5:
		q += 5
	}
	switch {
	case m.MismatchRatio < 0.05:
		q += 8
	case m.MismatchRatio < 0.2:
		q += 4
	}
	return q + connectedBonus
}

func completeReward(m PartitionMetrics, ctx ShapeContext) float64 {
	r := completionBonus + qualityBonus(m)
	if ctx.MaxSteps > 0 && float64(ctx.Step) < efficiencyCutoff*float64(ctx.MaxSteps) {
		r += efficiencyBonus * (1 - float64(ctx.Step)/float64(ctx.MaxSteps))
	}
	return r
}

// terminalReward is the end-of-episode reward shared by legacy and dual-layer.
func terminalReward(m PartitionMetrics, term Termination, ctx ShapeContext) float64 {
	ratio := ctx.CompletionRatio()
	switch term {
	case TerminationComplete:
		return completeReward(m, ctx)
	case TerminationTimeout:
		if ctx.Assigned == ctx.Buses {
			return timeoutCompleteScale * completeReward(m, ctx)
		}
		return timeoutBase + timeoutIncomplete*(1-ratio)
	case TerminationStuck:
		return stuckScale * ratio * completeReward(m, ctx)
	}
	return 0
}

// #endregion terminal

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
