package env

import (
	"fmt"

	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/grid"
)

// #region environment

// Environment is one partitioning episode at a time. It is not safe for
// concurrent use; parallel rollout gives each worker its own Environment.
type Environment struct {
	cfg    Config
	shaper Shaper

	net        *grid.Network
	k          int
	weights    Weights
	relaxation float64

	state *PartitionState
	mask  ActionMask
	prev  RewardComponents
	done  bool
	term  Termination
}

// New validates cfg and returns an Environment ready for Reset.
func New(cfg Config) (*Environment, error) {
	if cfg.MaxSteps < 1 {
		return nil, gzerrors.NewConfigurationError("environment.max_steps", fmt.Errorf("must be positive, got %d", cfg.MaxSteps))
	}
	if cfg.RelaxationHops < 0 {
		return nil, gzerrors.NewConfigurationError("environment.relaxation_hops", fmt.Errorf("must be non-negative, got %d", cfg.RelaxationHops))
	}
	shaper, err := NewShaper(cfg.Mode)
	if err != nil {
		return nil, gzerrors.NewConfigurationError("environment.reward_mode", err)
	}
	return &Environment{cfg: cfg, shaper: shaper}, nil
}

// Config returns the environment configuration.
func (e *Environment) Config() Config { return e.cfg }

// Reset starts a new episode. The network must have at least k buses, finite
// injections, no isolated bus and a single connected component.
func (e *Environment) Reset(net *grid.Network, k int, weights Weights, relaxation float64) (Observation, error) {
	if net == nil {
		return Observation{}, gzerrors.NewInvalidNetworkError("nil network", 0, k)
	}
	n := net.NumBuses()
	switch {
	case k < 1:
		return Observation{}, gzerrors.NewInvalidNetworkError("partition target must be positive", n, k)
	case n < k:
		return Observation{}, gzerrors.NewInvalidNetworkError("fewer buses than partitions", n, k)
	case !net.Finite():
		return Observation{}, gzerrors.NewInvalidNetworkError("non-finite bus injection", n, k)
	case n > 1 && len(net.IsolatedBuses()) > 0:
		return Observation{}, gzerrors.NewInvalidNetworkError(
			fmt.Sprintf("isolated buses %v", net.IsolatedBuses()), n, k)
	case !net.IsConnected():
		return Observation{}, gzerrors.NewInvalidNetworkError(
			fmt.Sprintf("%d connected components", len(net.Components())), n, k)
	}

	e.net = net
	e.k = k
	e.weights = weights
	e.relaxation = relaxation
	e.state = NewPartitionState(net, k)
	e.done = false
	e.term = TerminationNone
	e.mask = computeMask(e.state, e.relaxation, e.cfg.RelaxationHops)
	e.prev = Evaluate(e.state.Metrics(), e.weights)
	return e.observation(), nil
}

// SetWeights replaces the reward weights; the next Step uses them.
func (e *Environment) SetWeights(w Weights) { e.weights = w }

// Weights returns the current reward weights.
func (e *Environment) Weights() Weights { return e.weights }

// Step applies action a. A masked-out action, or any action after the
// episode has ended, is an InvalidActionError.
func (e *Environment) Step(a Action) (Observation, float64, bool, StepInfo, error) {
	if e.state == nil {
		return Observation{}, 0, false, StepInfo{}, gzerrors.NewInvalidActionError(a.Bus, a.Partition, "environment not reset")
	}
	if e.done {
		return Observation{}, 0, true, StepInfo{}, gzerrors.NewInvalidActionError(a.Bus, a.Partition, "episode already done")
	}
	if !e.mask.Allowed(a.Bus, a.Partition) {
		return Observation{}, 0, false, StepInfo{}, gzerrors.NewInvalidActionError(a.Bus, a.Partition, "masked out")
	}

	e.state.Assign(a.Bus, a.Partition)
	e.state.stepInc()

	metrics := e.state.Metrics()
	cur := Evaluate(metrics, e.weights)
	ctx := e.shapeContext()
	ctx.Disconnected = metrics.NonEmpty > 0 && metrics.Connectivity < 1

	reward := e.shaper.Shape(cur, e.prev, ctx)

	e.mask = computeMask(e.state, e.relaxation, e.cfg.RelaxationHops)
	switch {
	case e.state.Complete():
		e.term = TerminationComplete
	case e.state.step >= e.cfg.MaxSteps:
		e.term = TerminationTimeout
	case !e.mask.Any():
		e.term = TerminationStuck
	}

	info := StepInfo{Step: e.state.step, Metrics: metrics}
	if e.term != TerminationNone {
		e.done = true
		info.Termination = e.term
		info.TerminalReward = e.shaper.Final(metrics, e.term, ctx)
		info.EarlyTermination = e.state.step < e.cfg.MinEpisodeLength
		reward += info.TerminalReward
	}
	cur.Shaped = reward
	info.Components = cur
	e.prev = cur

	if !finite(reward) {
		return e.observation(), 0, e.done, info, &gzerrors.NumericInstabilityError{Where: "reward"}
	}
	return e.observation(), reward, e.done, info, nil
}

// Metrics returns the current partition metrics.
func (e *Environment) Metrics() PartitionMetrics {
	if e.state == nil {
		return PartitionMetrics{}
	}
	return e.state.Metrics()
}

// Components re-evaluates the reward components for the current state
// without advancing the episode.
func (e *Environment) Components() RewardComponents {
	return Evaluate(e.Metrics(), e.weights)
}

// StateInfo summarises the episode so far.
func (e *Environment) StateInfo() StateInfo {
	if e.state == nil {
		return StateInfo{MaxSteps: e.cfg.MaxSteps}
	}
	return StateInfo{
		Step:       e.state.step,
		MaxSteps:   e.cfg.MaxSteps,
		Partitions: e.k,
		Buses:      e.net.NumBuses(),
		Assigned:   e.state.Assigned(),
		Done:       e.done,
	}
}

// Termination returns why the current episode ended (empty while running).
func (e *Environment) Termination() Termination { return e.term }

// Observation returns the current snapshot.
func (e *Environment) Observation() Observation { return e.observation() }

func (e *Environment) shapeContext() ShapeContext {
	return ShapeContext{
		Step:     e.state.step,
		MaxSteps: e.cfg.MaxSteps,
		Assigned: e.state.Assigned(),
		Buses:    e.net.NumBuses(),
		Weights:  e.weights,
	}
}

func (e *Environment) observation() Observation {
	if e.state == nil {
		return Observation{}
	}
	return Observation{
		Network:       e.net,
		Assignment:    e.state.Assignment(),
		PartitionLoad: append([]float64(nil), e.state.load...),
		PartitionSize: append([]int(nil), e.state.size...),
		Mask:          e.mask,
		Step:          e.state.step,
		MaxSteps:      e.cfg.MaxSteps,
		Partitions:    e.k,
		Metrics:       e.state.Metrics(),
	}
}

// #endregion environment

// #region success

// SuccessCriteria decides whether a finished episode counts as a success.
type SuccessCriteria struct {
	CVThreshold           float64 `mapstructure:"cv_threshold" yaml:"cv_threshold"`
	ConnectivityThreshold float64 `mapstructure:"connectivity_threshold" yaml:"connectivity_threshold"`
	MinEpisodeLength      int     `mapstructure:"min_episode_length" yaml:"min_episode_length"`
}

// DefaultSuccessCriteria returns the base thresholds.
func DefaultSuccessCriteria() SuccessCriteria {
	return SuccessCriteria{CVThreshold: 0.3, ConnectivityThreshold: 0.9, MinEpisodeLength: 1}
}

// Scaled tightens the CV threshold by scale (1 leaves it unchanged).
func (c SuccessCriteria) Scaled(scale float64) SuccessCriteria {
	if scale > 0 {
		c.CVThreshold *= scale
	}
	return c
}

// Evaluate reports success for a finished episode of the given length.
func (c SuccessCriteria) Evaluate(m PartitionMetrics, length int) bool {
	return m.LoadCV <= c.CVThreshold &&
		m.Connectivity >= c.ConnectivityThreshold &&
		length >= c.MinEpisodeLength
}

// #endregion success
