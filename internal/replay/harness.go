package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region types

// Config selects the held-out scenarios. Indices start far above any
// training episode so evaluation never replays a training draw.
type Config struct {
	Scenarios  int
	StartIndex int
	Seed       uint64
}

// DefaultConfig returns eight scenarios from index 1,000,000.
func DefaultConfig() Config {
	return Config{Scenarios: 8, StartIndex: 1_000_000}
}

// Policy is the greedy side of an agent.
type Policy interface {
	Greedy(obs env.Observation, emb encoder.Embedding) (agent.Decision, error)
}

// Check is one pass/fail test on an evaluated episode.
type Check struct {
	Name  string
	Value float64
	Pass  bool
}

// Episode is the outcome of replaying one scenario greedily.
type Episode struct {
	Index       int
	Kind        scenario.Kind
	Fallback    bool // base network substituted for an infeasible draw
	Reward      float64
	Length      int
	Metrics     env.PartitionMetrics
	Termination env.Termination
	Success     bool
	Checks      []Check
	Reason      string
}

// Summary aggregates an evaluation run.
type Summary struct {
	Episodes     int
	Successes    int
	SuccessRate  float64
	MeanReward   float64
	MeanCV       float64
	MeanCoupling float64
	MeanLength   float64
}

// #endregion types

// #region harness

// Harness replays a fixed scenario set with greedy actions.
type Harness struct {
	cfg      Config
	gen      *scenario.Generator
	rollout  *Rollout
	criteria env.SuccessCriteria
	log      *slog.Logger
}

// NewHarness builds a harness with its own environment.
func NewHarness(cfg Config, gen *scenario.Generator, envCfg env.Config, enc encoder.Encoder, criteria env.SuccessCriteria) (*Harness, error) {
	if cfg.Scenarios < 0 || cfg.StartIndex < 0 {
		return nil, fmt.Errorf("replay: negative scenario range %d@%d", cfg.Scenarios, cfg.StartIndex)
	}
	if gen == nil {
		return nil, fmt.Errorf("replay: nil generator")
	}
	r, err := NewRollout(envCfg, enc)
	if err != nil {
		return nil, err
	}
	return &Harness{cfg: cfg, gen: gen, rollout: r, criteria: criteria, log: logging.New("replay")}, nil
}

// Config returns the scenario selection.
func (h *Harness) Config() Config { return h.cfg }

// Run plays every scenario once under params. Success uses the criteria
// tightened by params.SuccessScale, the same bar training applies.
func (h *Harness) Run(ctx context.Context, p Policy, params curriculum.Params) ([]Episode, error) {
	criteria := h.criteria.Scaled(params.SuccessScale)
	out := make([]Episode, 0, h.cfg.Scenarios)

	for i := 0; i < h.cfg.Scenarios; i++ {
		idx := h.cfg.StartIndex + i
		sc, fallback, err := Draw(h.gen, h.cfg.Seed, idx)
		if err != nil {
			return out, fmt.Errorf("scenario %d: %w", idx, err)
		}
		res, err := h.rollout.Play(ctx, sc.Network, params, p.Greedy, nil)
		if err != nil {
			return out, fmt.Errorf("evaluate scenario %d: %w", idx, err)
		}
		out = append(out, judge(sc, fallback, res, criteria))
	}

	s := Summarize(out)
	h.log.Info("evaluation finished",
		"episodes", s.Episodes,
		"success_rate", s.SuccessRate,
		"mean_reward", s.MeanReward,
		"mean_cv", s.MeanCV,
	)
	return out, nil
}

func judge(sc scenario.Scenario, fallback bool, res Result, c env.SuccessCriteria) Episode {
	m := res.Metrics
	checks := []Check{
		{Name: "load_cv", Value: m.LoadCV, Pass: m.LoadCV <= c.CVThreshold},
		{Name: "connectivity", Value: m.Connectivity, Pass: m.Connectivity >= c.ConnectivityThreshold},
		{Name: "length", Value: float64(res.Length), Pass: res.Length >= c.MinEpisodeLength},
		{Name: "complete", Value: boolValue(res.Termination == env.TerminationComplete), Pass: res.Termination == env.TerminationComplete},
	}

	var failed []string
	for _, ch := range checks {
		if !ch.Pass {
			failed = append(failed, ch.Name)
		}
	}

	ep := Episode{
		Index:       sc.Index,
		Kind:        sc.Kind,
		Fallback:    fallback,
		Reward:      res.Reward,
		Length:      res.Length,
		Metrics:     m,
		Termination: res.Termination,
		Success:     c.Evaluate(m, res.Length),
		Checks:      checks,
	}
	if len(failed) > 0 {
		ep.Reason = "failed: " + strings.Join(failed, ", ")
	}
	return ep
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Summarize computes aggregate stats over evaluated episodes.
func Summarize(eps []Episode) Summary {
	s := Summary{Episodes: len(eps)}
	if len(eps) == 0 {
		return s
	}
	rewards := make([]float64, len(eps))
	cvs := make([]float64, len(eps))
	coupling := make([]float64, len(eps))
	lengths := make([]float64, len(eps))
	for i, e := range eps {
		if e.Success {
			s.Successes++
		}
		rewards[i] = e.Reward
		cvs[i] = e.Metrics.LoadCV
		coupling[i] = e.Metrics.CouplingRatio
		lengths[i] = float64(e.Length)
	}
	s.SuccessRate = float64(s.Successes) / float64(len(eps))
	s.MeanReward = stat.Mean(rewards, nil)
	s.MeanCV = stat.Mean(cvs, nil)
	s.MeanCoupling = stat.Mean(coupling, nil)
	s.MeanLength = stat.Mean(lengths, nil)
	return s
}

// #endregion harness
