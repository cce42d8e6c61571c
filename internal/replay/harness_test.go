package replay

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	"github.com/danielpatrickdp/gridzone/internal/grid"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region helpers

func newEncoder(t *testing.T) *encoder.Propagation {
	t.Helper()
	enc, err := encoder.NewPropagation(encoder.PropagationConfig{Dim: 4, Layers: 1, Seed: 3})
	if err != nil {
		t.Fatalf("NewPropagation: %v", err)
	}
	return enc
}

func newAgent(t *testing.T, dim int) *agent.Agent {
	t.Helper()
	cfg := agent.DefaultConfig()
	cfg.Hidden = 8
	cfg.Seed = 11
	a, err := agent.New(cfg, dim)
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a
}

func newGenerator(t *testing.T, base *grid.Network, prob float64) *scenario.Generator {
	t.Helper()
	cfg := scenario.DefaultConfig()
	cfg.PerturbProb = prob
	g, err := scenario.NewGenerator(base, cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func params() curriculum.Params {
	return curriculum.DefaultConfig().Evolution.InitialParams()
}

// chain is a path network; removing any branch disconnects it.
func chain(n int) *grid.Network {
	buses := make([]grid.Bus, n)
	branches := make([]grid.Branch, n-1)
	for i := range buses {
		buses[i] = grid.Bus{ID: i, Load: 10, Generation: 5}
	}
	for i := range branches {
		branches[i] = grid.Branch{From: i, To: i + 1, Admittance: 1, Rating: 100}
	}
	return grid.MustNetwork("chain", buses, branches)
}

// #endregion helpers

// #region rollout-tests

func TestPlayTerminatesAndReportsEveryStep(t *testing.T) {
	enc := newEncoder(t)
	a := newAgent(t, enc.Dim())
	r, err := NewRollout(env.DefaultConfig(), enc)
	if err != nil {
		t.Fatalf("NewRollout: %v", err)
	}

	steps := 0
	total := 0.0
	sawDone := false
	res, err := r.Play(context.Background(), grid.Case14(), params(), a.Act,
		func(_ agent.Decision, reward float64, done bool) {
			steps++
			total += reward
			sawDone = done
		})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Termination == env.TerminationNone {
		t.Fatal("episode ended without a termination reason")
	}
	if steps != res.Length {
		t.Errorf("observe called %d times for %d steps", steps, res.Length)
	}
	if !sawDone {
		t.Error("last observed step not flagged done")
	}
	if math.Abs(total-res.Reward) > 1e-9 {
		t.Errorf("reward sum %f != result %f", total, res.Reward)
	}
}

func TestPlayClampsPartitionTarget(t *testing.T) {
	enc := newEncoder(t)
	a := newAgent(t, enc.Dim())
	r, err := NewRollout(env.DefaultConfig(), enc)
	if err != nil {
		t.Fatalf("NewRollout: %v", err)
	}
	p := params()
	p.PartitionTarget = 50

	res, err := r.Play(context.Background(), grid.Case9(), p, a.Greedy, nil)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Partitions != 9 || !res.TargetClamped {
		t.Errorf("partitions = %d clamped %v, want 9 and flagged", res.Partitions, res.TargetClamped)
	}

	p.PartitionTarget = 3
	res, err = r.Play(context.Background(), grid.Case9(), p, a.Greedy, nil)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Partitions != 3 || res.TargetClamped {
		t.Errorf("partitions = %d clamped %v, want 3 unflagged", res.Partitions, res.TargetClamped)
	}
}

func TestPlayStopsOnCancelledContext(t *testing.T) {
	enc := newEncoder(t)
	a := newAgent(t, enc.Dim())
	r, err := NewRollout(env.DefaultConfig(), enc)
	if err != nil {
		t.Fatalf("NewRollout: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Play(ctx, grid.Case14(), params(), a.Act, nil); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDrawFallsBackToBase(t *testing.T) {
	base := chain(6)
	gen := newGenerator(t, base, 1)

	fallbacks := 0
	for idx := 0; idx < 30; idx++ {
		sc, fallback, err := Draw(gen, 5, idx)
		if err != nil {
			t.Fatalf("Draw %d: %v", idx, err)
		}
		if fallback {
			fallbacks++
			if sc.Network != base || sc.Kind != scenario.KindNone || sc.Index != idx {
				t.Fatalf("fallback scenario %d not the base network: %+v", idx, sc)
			}
		}
	}
	if fallbacks == 0 {
		t.Fatal("expected contingencies on a chain to fall back")
	}
}

// #endregion rollout-tests

// #region harness-tests

func TestHarnessIsDeterministic(t *testing.T) {
	enc := newEncoder(t)
	a := newAgent(t, enc.Dim())
	gen := newGenerator(t, grid.Case14(), 0.5)
	cfg := Config{Scenarios: 4, StartIndex: 1_000_000, Seed: 9}

	run := func() []Episode {
		h, err := NewHarness(cfg, gen, env.DefaultConfig(), enc, env.DefaultSuccessCriteria())
		if err != nil {
			t.Fatalf("NewHarness: %v", err)
		}
		eps, err := h.Run(context.Background(), a, params())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return eps
	}

	first, second := run(), run()
	if len(first) != cfg.Scenarios {
		t.Fatalf("got %d episodes, want %d", len(first), cfg.Scenarios)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("greedy evaluation differs between runs (-first +second):\n%s", diff)
	}
	for _, ep := range first {
		if len(ep.Checks) != 4 {
			t.Errorf("episode %d: %d checks", ep.Index, len(ep.Checks))
		}
		if ep.Success && !(ep.Checks[0].Pass && ep.Checks[1].Pass && ep.Checks[2].Pass) {
			t.Errorf("episode %d: success with failed checks %+v", ep.Index, ep.Checks)
		}
	}
}

func TestJudgeAppliesScaledCriteria(t *testing.T) {
	sc := scenario.Scenario{Index: 3, Kind: scenario.KindFluctuation}
	res := Result{
		Length:      14,
		Termination: env.TerminationComplete,
		Metrics:     env.PartitionMetrics{LoadCV: 0.2, Connectivity: 1},
	}
	base := env.DefaultSuccessCriteria()

	if ep := judge(sc, false, res, base); !ep.Success || ep.Reason != "" {
		t.Fatalf("base criteria: success=%v reason=%q", ep.Success, ep.Reason)
	}
	ep := judge(sc, false, res, base.Scaled(0.5))
	if ep.Success {
		t.Fatal("tightened criteria should reject cv 0.2")
	}
	if ep.Reason != "failed: load_cv" {
		t.Errorf("reason = %q", ep.Reason)
	}
}

func TestSummarize(t *testing.T) {
	eps := []Episode{
		{Success: true, Reward: 2, Length: 10, Metrics: env.PartitionMetrics{LoadCV: 0.1, CouplingRatio: 0.2}},
		{Success: false, Reward: -1, Length: 6, Metrics: env.PartitionMetrics{LoadCV: 0.5, CouplingRatio: 0.4}},
	}
	got := Summarize(eps)
	want := Summary{
		Episodes:     2,
		Successes:    1,
		SuccessRate:  0.5,
		MeanReward:   0.5,
		MeanCV:       0.3,
		MeanCoupling: 0.30000000000000004,
		MeanLength:   8,
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(x, y float64) bool { return math.Abs(x-y) < 1e-12 })); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if s := Summarize(nil); s != (Summary{}) {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestNewHarnessRejectsBadConfig(t *testing.T) {
	enc := newEncoder(t)
	gen := newGenerator(t, grid.Case14(), 0)
	if _, err := NewHarness(Config{Scenarios: -1}, gen, env.DefaultConfig(), enc, env.DefaultSuccessCriteria()); err == nil {
		t.Error("expected error for negative scenario count")
	}
	if _, err := NewHarness(DefaultConfig(), nil, env.DefaultConfig(), enc, env.DefaultSuccessCriteria()); err == nil {
		t.Error("expected error for nil generator")
	}
}

// #endregion harness-tests
