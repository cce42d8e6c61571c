// Package scenario perturbs a base network per episode (N-1 contingencies and
// load/generation fluctuation) to give training diversity. Generation is
// deterministic in (seed, index).
package scenario

import (
	"fmt"
	"math/rand/v2"

	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/grid"
)

// #region types

// Kind names the perturbation applied to a scenario.
type Kind string

const (
	KindNone        Kind = "none"
	KindContingency Kind = "contingency"
	KindFluctuation Kind = "fluctuation"
	KindBoth        Kind = "both"
)

// Config holds perturbation parameters.
type Config struct {
	PerturbProb float64 // probability that any perturbation is applied
	ScaleMin    float64 // lower bound of the multiplicative load/gen factor
	ScaleMax    float64 // upper bound of the multiplicative load/gen factor
	MaxRetries  int     // contingency resample budget before giving up
}

// DefaultConfig returns the training defaults.
func DefaultConfig() Config {
	return Config{
		PerturbProb: 0.5,
		ScaleMin:    0.8,
		ScaleMax:    1.2,
		MaxRetries:  10,
	}
}

// Scenario is one episode's network instance.
type Scenario struct {
	Index         int
	Kind          Kind
	RemovedBranch int // -1 when no contingency was applied
	LoadScale     []float64
	GenScale      []float64
	Attempts      int // contingency draws consumed (0 when none)
	Network       *grid.Network
}

// #endregion types

// #region generator

// Generator produces perturbed copies of a base network.
type Generator struct {
	base *grid.Network
	cfg  Config
}

// NewGenerator validates the config and returns a Generator.
func NewGenerator(base *grid.Network, cfg Config) (*Generator, error) {
	if base == nil {
		return nil, fmt.Errorf("scenario: nil base network")
	}
	if !base.Finite() {
		return nil, gzerrors.NewInvalidNetworkError("base network has non-finite injections", base.NumBuses(), 0)
	}
	if !base.IsConnected() {
		return nil, gzerrors.NewInvalidNetworkError("base network is not connected", base.NumBuses(), 0)
	}
	if cfg.PerturbProb < 0 || cfg.PerturbProb > 1 {
		return nil, fmt.Errorf("scenario: perturb probability %f outside [0,1]", cfg.PerturbProb)
	}
	if cfg.ScaleMin <= 0 || cfg.ScaleMax < cfg.ScaleMin {
		return nil, fmt.Errorf("scenario: invalid scale range [%f, %f]", cfg.ScaleMin, cfg.ScaleMax)
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Generator{base: base, cfg: cfg}, nil
}

// Base returns the unperturbed network.
func (g *Generator) Base() *grid.Network { return g.base }

// Generate draws the scenario for episode index under seed. The same
// (seed, index) pair always yields the same scenario. A contingency that
// disconnects the network is resampled up to MaxRetries times; exhausting the
// budget returns an InvalidNetworkError and no scenario.
func (g *Generator) Generate(seed uint64, index int) (Scenario, error) {
	rng := rand.New(rand.NewPCG(seed, uint64(index)))

	sc := Scenario{
		Index:         index,
		Kind:          KindNone,
		RemovedBranch: -1,
		Network:       g.base,
	}

	if rng.Float64() < g.cfg.PerturbProb {
		kinds := []Kind{KindContingency, KindFluctuation, KindBoth}
		sc.Kind = kinds[rng.IntN(len(kinds))]
	}

	net := g.base
	if sc.Kind == KindFluctuation || sc.Kind == KindBoth {
		sc.LoadScale = g.drawScales(rng, net.NumBuses())
		sc.GenScale = g.drawScales(rng, net.NumBuses())
		net = net.Scaled(sc.LoadScale, sc.GenScale)
	}

	if sc.Kind == KindContingency || sc.Kind == KindBoth {
		cut, removed, attempts, err := g.contingency(rng, net)
		sc.Attempts = attempts
		if err != nil {
			return Scenario{}, gzerrors.NewInvalidNetworkError(
				fmt.Sprintf("no feasible N-1 contingency after %d attempts", attempts),
				net.NumBuses(), 0,
			).WithCause(err)
		}
		net = cut
		sc.RemovedBranch = removed
	}

	sc.Network = net
	return sc, nil
}

func (g *Generator) drawScales(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	span := g.cfg.ScaleMax - g.cfg.ScaleMin
	for i := range out {
		out[i] = g.cfg.ScaleMin + rng.Float64()*span
	}
	return out
}

// contingency removes one branch, resampling while the result is disconnected.
func (g *Generator) contingency(rng *rand.Rand, net *grid.Network) (*grid.Network, int, int, error) {
	order := rng.Perm(net.NumBranches())
	attempts := 0
	var lastErr error
	for _, idx := range order {
		if attempts >= g.cfg.MaxRetries {
			break
		}
		attempts++
		cut, err := net.WithoutBranch(idx)
		if err != nil {
			lastErr = err
			continue
		}
		if !cut.IsConnected() {
			lastErr = fmt.Errorf("removing branch %d disconnects the network", idx)
			continue
		}
		return cut, idx, attempts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("network has no removable branch")
	}
	return nil, -1, attempts, lastErr
}

// #endregion generator
