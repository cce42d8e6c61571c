package scenario

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/grid"
)

func newGen(t *testing.T, cfg Config) *Generator {
	t.Helper()
	g, err := NewGenerator(grid.Case14(), cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

var ignoreAdj = cmpopts.IgnoreUnexported(grid.Network{})

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerturbProb = 1
	g := newGen(t, cfg)

	for idx := 0; idx < 25; idx++ {
		a, errA := g.Generate(42, idx)
		b, errB := g.Generate(42, idx)
		if (errA == nil) != (errB == nil) {
			t.Fatalf("index %d: error mismatch %v vs %v", idx, errA, errB)
		}
		if diff := cmp.Diff(a, b, ignoreAdj); diff != "" {
			t.Fatalf("index %d: scenarios differ (-a +b):\n%s", idx, diff)
		}
	}
}

func TestGenerateVariesWithIndexAndSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerturbProb = 1
	g := newGen(t, cfg)

	a, _ := g.Generate(1, 0)
	distinct := false
	for idx := 1; idx < 10; idx++ {
		b, _ := g.Generate(1, idx)
		if !cmp.Equal(a, b, ignoreAdj) {
			distinct = true
			break
		}
	}
	if !distinct {
		t.Fatal("expected different scenarios for different indices")
	}
}

func TestZeroProbabilityReturnsBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerturbProb = 0
	g := newGen(t, cfg)

	for idx := 0; idx < 20; idx++ {
		sc, err := g.Generate(7, idx)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if sc.Kind != KindNone || sc.RemovedBranch != -1 {
			t.Fatalf("index %d: expected unperturbed scenario, got %s", idx, sc.Kind)
		}
		if sc.Network != g.Base() {
			t.Fatal("expected the base network to be reused")
		}
	}
}

func TestContingencyKeepsNetworkConnected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerturbProb = 1
	cfg.MaxRetries = 20
	g := newGen(t, cfg)

	seen := 0
	for idx := 0; idx < 100; idx++ {
		sc, err := g.Generate(3, idx)
		if err != nil {
			t.Fatalf("index %d: %v", idx, err)
		}
		if sc.RemovedBranch < 0 {
			continue
		}
		seen++
		if !sc.Network.IsConnected() {
			t.Fatalf("index %d: contingency left network disconnected", idx)
		}
		if sc.Network.NumBranches() != 19 {
			t.Fatalf("index %d: expected 19 branches, got %d", idx, sc.Network.NumBranches())
		}
	}
	if seen == 0 {
		t.Fatal("expected at least one contingency in 100 draws")
	}
}

func TestFluctuationStaysInRange(t *testing.T) {
	cfg := Config{PerturbProb: 1, ScaleMin: 0.9, ScaleMax: 1.1, MaxRetries: 10}
	g := newGen(t, cfg)
	base := g.Base()

	for idx := 0; idx < 50; idx++ {
		sc, err := g.Generate(11, idx)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if sc.LoadScale == nil {
			continue
		}
		for i, s := range sc.LoadScale {
			if s < 0.9 || s > 1.1 {
				t.Fatalf("scale %f out of range", s)
			}
			want := base.Buses[i].Load * s
			if got := sc.Network.Buses[i].Load; got != want {
				t.Fatalf("bus %d load %f, want %f", i, got, want)
			}
		}
	}
}

func TestExhaustedRetriesReturnInvalidNetwork(t *testing.T) {
	// A path graph: every branch is a bridge, so no contingency is feasible.
	buses := []grid.Bus{{ID: 0, Load: 1}, {ID: 1, Load: 1}, {ID: 2, Load: 1}}
	branches := []grid.Branch{{From: 0, To: 1, Admittance: 1}, {From: 1, To: 2, Admittance: 1}}
	g, err := NewGenerator(grid.MustNetwork("path", buses, branches), Config{
		PerturbProb: 1, ScaleMin: 1, ScaleMax: 1, MaxRetries: 5,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	failures := 0
	for idx := 0; idx < 30; idx++ {
		sc, err := g.Generate(5, idx)
		if err == nil {
			if sc.RemovedBranch >= 0 {
				t.Fatal("no branch can be removed from a path")
			}
			continue
		}
		failures++
		if !gzerrors.Is(err, gzerrors.ErrInvalidNetwork) {
			t.Fatalf("expected InvalidNetworkError, got %v", err)
		}
	}
	if failures == 0 {
		t.Fatal("expected contingency draws to fail on a path graph")
	}
}

func TestNewGeneratorValidates(t *testing.T) {
	base := grid.Case14()
	bad := []Config{
		{PerturbProb: -0.1, ScaleMin: 1, ScaleMax: 1},
		{PerturbProb: 1.5, ScaleMin: 1, ScaleMax: 1},
		{PerturbProb: 0.5, ScaleMin: 0, ScaleMax: 1},
		{PerturbProb: 0.5, ScaleMin: 1.2, ScaleMax: 1.0},
	}
	for i, cfg := range bad {
		if _, err := NewGenerator(base, cfg); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestNewGeneratorRejectsUnusableBase(t *testing.T) {
	inf := grid.Case14()
	inf.Buses[3].Load = math.Inf(1)
	if _, err := NewGenerator(inf, DefaultConfig()); !gzerrors.Is(err, gzerrors.ErrInvalidNetwork) {
		t.Errorf("infinite load: err = %v, want invalid network", err)
	}
	split, err := grid.Case14().WithoutBranch(13)
	if err != nil {
		t.Fatalf("WithoutBranch: %v", err)
	}
	if _, err := NewGenerator(split, DefaultConfig()); !gzerrors.Is(err, gzerrors.ErrInvalidNetwork) {
		t.Errorf("disconnected base: err = %v, want invalid network", err)
	}
}
