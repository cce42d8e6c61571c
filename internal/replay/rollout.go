// Package replay plays partitioning episodes: the rollout loop shared by
// training workers and the greedy evaluation harness that scores a policy on
// a fixed set of held-out scenarios.
package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/grid"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region types

// PickFunc chooses an action for an observation.
type PickFunc func(obs env.Observation, emb encoder.Embedding) (agent.Decision, error)

// ObserveFunc receives every decision with the reward it earned.
type ObserveFunc func(d agent.Decision, reward float64, done bool)

// Result is one finished episode.
type Result struct {
	Reward           float64
	Length           int
	Components       env.RewardComponents // last step's components
	Metrics          env.PartitionMetrics
	Termination      env.Termination
	EarlyTermination bool
	Partitions       int
	TargetClamped    bool // the stage asked for more partitions than the network has buses
}

// #endregion types

// #region rollout

// Rollout drives one Environment with one Encoder. It is not safe for
// concurrent use; parallel workers each own a Rollout.
type Rollout struct {
	env *env.Environment
	enc encoder.Encoder
	log *slog.Logger
}

// NewRollout builds a fresh environment from cfg.
func NewRollout(cfg env.Config, enc encoder.Encoder) (*Rollout, error) {
	if enc == nil {
		return nil, fmt.Errorf("rollout: nil encoder")
	}
	e, err := env.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Rollout{env: e, enc: enc, log: logging.New("rollout")}, nil
}

// Env exposes the underlying environment.
func (r *Rollout) Env() *env.Environment { return r.env }

// Play runs an episode on net under params until it terminates. A partition
// target above the bus count is clamped, logged and flagged on the result.
// observe may be nil.
func (r *Rollout) Play(ctx context.Context, net *grid.Network, params curriculum.Params, pick PickFunc, observe ObserveFunc) (Result, error) {
	k := params.PartitionTarget
	clamped := false
	if n := net.NumBuses(); k > n {
		r.log.Warn("partition target exceeds bus count, clamping",
			"network", net.Name, "target", k, "buses", n)
		k, clamped = n, true
	}
	obs, err := r.env.Reset(net, k, params.Weights, params.MaskRelaxation)
	if err != nil {
		return Result{}, err
	}

	res := Result{Partitions: k, TargetClamped: clamped}
	if !obs.Mask.Any() {
		res.Termination = env.TerminationStuck
		res.Metrics = obs.Metrics
		res.EarlyTermination = true
		return res, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		emb, err := r.enc.Encode(ctx, encoder.BuildGraph(obs))
		if err != nil {
			return res, fmt.Errorf("encode step %d: %w", res.Length, err)
		}
		d, err := pick(obs, emb)
		if err != nil {
			return res, err
		}
		next, reward, done, info, err := r.env.Step(d.Action)
		if err != nil {
			return res, err
		}
		if observe != nil {
			observe(d, reward, done)
		}

		res.Reward += reward
		res.Length = info.Step
		res.Components = info.Components
		res.Metrics = info.Metrics
		if done {
			res.Termination = info.Termination
			res.EarlyTermination = info.EarlyTermination
			return res, nil
		}
		obs = next
	}
}

// #endregion rollout

// #region scenario

// Draw generates scenario index, substituting the unperturbed base network
// when no feasible contingency was found.
func Draw(gen *scenario.Generator, seed uint64, index int) (scenario.Scenario, bool, error) {
	sc, err := gen.Generate(seed, index)
	if err == nil {
		return sc, false, nil
	}
	if !gzerrors.Is(err, gzerrors.ErrInvalidNetwork) {
		return scenario.Scenario{}, false, err
	}
	return scenario.Scenario{
		Index:         index,
		Kind:          scenario.KindNone,
		RemovedBranch: -1,
		Network:       gen.Base(),
	}, true, nil
}

// #endregion scenario
