package curriculum

import (
	"fmt"
	"math"

	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
)

// #region evolve
// Evolve returns the parameters after the n-th evolution (n counted from 1).
// It never mutates p, and every field stays within its configured range.
func Evolve(p Params, n int, cfg EvolutionConfig) Params {
	next := p

	next.PartitionTarget = clampInt(p.PartitionTarget+cfg.PartitionStep, cfg.PartitionStart, cfg.PartitionMax)

	t := 1.0
	if cfg.MaxEvolutions > 0 {
		t = math.Min(float64(n)/float64(cfg.MaxEvolutions), 1)
	}
	if t < 0 {
		t = 0
	}
	next.Weights = cfg.WeightsStart.Lerp(cfg.WeightsEnd, t)

	next.MaskRelaxation = clampFloat(p.MaskRelaxation+cfg.RelaxationStep, cfg.RelaxationStart, cfg.RelaxationMax)
	next.LRDecay = clampFloat(p.LRDecay*cfg.LRDecayFactor, cfg.LRDecayMin, 1)
	next.SuccessScale = clampFloat(p.SuccessScale-cfg.SuccessScaleStep, cfg.SuccessScaleMin, 1)
	return next
}

// Saturated reports whether no further evolution can change p.
func Saturated(p Params, n int, cfg EvolutionConfig) bool {
	if cfg.MaxEvolutions > 0 && n >= cfg.MaxEvolutions {
		return true
	}
	return p.PartitionTarget >= cfg.PartitionMax &&
		p.MaskRelaxation >= cfg.RelaxationMax &&
		p.LRDecay <= cfg.LRDecayMin &&
		p.SuccessScale <= cfg.SuccessScaleMin
}
// #endregion evolve

// #region validate
// Validate checks that every range is well formed.
func (c EvolutionConfig) Validate() error {
	switch {
	case c.PartitionStart < 1:
		return fmt.Errorf("partition_start %d < 1", c.PartitionStart)
	case c.PartitionMax < c.PartitionStart:
		return fmt.Errorf("partition_max %d < partition_start %d", c.PartitionMax, c.PartitionStart)
	case c.PartitionStep < 0:
		return fmt.Errorf("partition_step %d < 0", c.PartitionStep)
	case c.RelaxationStart < 0 || c.RelaxationMax < c.RelaxationStart:
		return fmt.Errorf("mask relaxation range [%g, %g] invalid", c.RelaxationStart, c.RelaxationMax)
	case c.RelaxationStep < 0:
		return fmt.Errorf("relaxation_step %g < 0", c.RelaxationStep)
	case c.LRDecayFactor <= 0 || c.LRDecayFactor > 1:
		return fmt.Errorf("lr_decay_factor %g not in (0, 1]", c.LRDecayFactor)
	case c.LRDecayMin <= 0 || c.LRDecayMin > 1:
		return fmt.Errorf("lr_decay_min %g not in (0, 1]", c.LRDecayMin)
	case c.SuccessScaleMin <= 0 || c.SuccessScaleMin > 1:
		return fmt.Errorf("success_scale_min %g not in (0, 1]", c.SuccessScaleMin)
	case c.SuccessScaleStep < 0:
		return fmt.Errorf("success_scale_step %g < 0", c.SuccessScaleStep)
	case c.MaxEvolutions < 0:
		return fmt.Errorf("max_evolutions %d < 0", c.MaxEvolutions)
	}
	for _, w := range []struct {
		name string
		w    float64
	}{
		{"weights_start.load_balance", c.WeightsStart.LoadBalance},
		{"weights_start.decoupling", c.WeightsStart.Decoupling},
		{"weights_start.power_balance", c.WeightsStart.PowerBalance},
		{"weights_end.load_balance", c.WeightsEnd.LoadBalance},
		{"weights_end.decoupling", c.WeightsEnd.Decoupling},
		{"weights_end.power_balance", c.WeightsEnd.PowerBalance},
	} {
		if w.w < 0 || math.IsNaN(w.w) {
			return fmt.Errorf("%s %g < 0", w.name, w.w)
		}
	}
	return nil
}

// Validate checks the whole controller configuration.
func (c Config) Validate() error {
	wrap := func(err error) error { return gzerrors.NewConfigurationError("curriculum", err) }
	if c.Warmup.Window < 2 || c.Warmup.Sustain < 1 {
		return wrap(fmt.Errorf("warmup window %d / sustain %d too small", c.Warmup.Window, c.Warmup.Sustain))
	}
	p := c.Plateau
	if p.ShortWindow < 2 || p.MediumWindow < p.ShortWindow || p.LongWindow < p.MediumWindow {
		return wrap(fmt.Errorf("plateau windows %d/%d/%d must be >= 2 and non-decreasing",
			p.ShortWindow, p.MediumWindow, p.LongWindow))
	}
	if p.StabilityWindow < 1 || p.FallbackWindow < 1 {
		return wrap(fmt.Errorf("stability_window %d / fallback_window %d must be >= 1",
			p.StabilityWindow, p.FallbackWindow))
	}
	if p.TrendWeight < 0 || p.StabilityWeight < 0 || p.PerformanceWeight < 0 {
		return wrap(fmt.Errorf("plateau weights must be non-negative"))
	}
	if err := c.Evolution.Validate(); err != nil {
		return wrap(err)
	}
	return nil
}
// #endregion validate

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
