package curriculum

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/gridzone/internal/env"
)

// flatOutcome scores about 0.83 with a small periodic wobble.
func flatOutcome(episode int) Outcome {
	return Outcome{
		Episode: episode,
		Length:  10,
		Metrics: env.PartitionMetrics{
			LoadCV:        0.2 + 0.01*float64(episode%3-1),
			CouplingRatio: 0.3,
			Connectivity:  1,
		},
	}
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestControllerStartsInWarmup(t *testing.T) {
	c := newController(t, DefaultConfig())
	st := c.Stage()
	if st.Phase != PhaseWarmup || st.Version != 0 {
		t.Fatalf("expected warmup v0, got %s v%d", st.Phase, st.Version)
	}
	if diff := cmp.Diff(DefaultConfig().Evolution.InitialParams(), st.Params); diff != "" {
		t.Fatalf("initial params mismatch (-want +got):\n%s", diff)
	}
}

func TestWarmupExitsOnStableLengths(t *testing.T) {
	cfg := DefaultConfig()
	c := newController(t, cfg)

	exit := -1
	for ep := 0; ep < 40; ep++ {
		d := c.Observe(flatOutcome(ep))
		if d.Changed {
			exit = ep
			if d.Stage.Phase != PhaseProgressing || !d.Evolved {
				t.Fatalf("expected evolved progressing, got %+v", d)
			}
			break
		}
	}
	// window fills at episode Window-1, then Sustain qualifying episodes
	want := cfg.Warmup.Window - 1 + cfg.Warmup.Sustain - 1
	if exit != want {
		t.Fatalf("expected warmup exit at episode %d, got %d", want, exit)
	}
}

func TestWarmupHoldsOnShortEpisodes(t *testing.T) {
	c := newController(t, DefaultConfig())
	for ep := 0; ep < 100; ep++ {
		o := flatOutcome(ep)
		o.Length = 3
		c.Observe(o)
	}
	if c.Stage().Phase != PhaseWarmup {
		t.Fatalf("short episodes should keep warmup, got %s", c.Stage().Phase)
	}
}

func TestFlatScoreDeclaresPlateau(t *testing.T) {
	cfg := DefaultConfig()
	c := newController(t, cfg)

	var beforePlateau, atPlateau float64
	plateaued := false
	for ep := 0; ep < 80; ep++ {
		prev := c.Stage().Params.MaskRelaxation
		d := c.Observe(flatOutcome(ep))
		if d.Changed && d.Stage.Phase == PhasePlateaued && !plateaued {
			plateaued = true
			beforePlateau, atPlateau = prev, d.Stage.Params.MaskRelaxation
			if d.Signals.Fallback {
				t.Fatal("plateau should come from confidence, not fallback")
			}
			if d.Signals.Streak < cfg.Plateau.StabilityWindow {
				t.Fatalf("streak %d below stability window", d.Signals.Streak)
			}
		}
	}
	if !plateaued {
		t.Fatalf("expected a plateau within 80 episodes, stage %+v", c.Stage())
	}
	if atPlateau-beforePlateau < cfg.Evolution.RelaxationStep-1e-12 {
		t.Fatalf("mask relaxation %f -> %f, expected at least one step", beforePlateau, atPlateau)
	}
	if c.Stage().Phase != PhasePlateaued {
		t.Fatalf("flat scores should stay plateaued, got %s", c.Stage().Phase)
	}
}

func TestFallbackDeclaresPlateauBelowConfidence(t *testing.T) {
	cfg := DefaultConfig()
	c := newController(t, cfg)

	noisy := func(ep int) Outcome {
		cv := 0.0
		if ep%2 == 1 {
			cv = 0.4
		}
		return Outcome{Episode: ep, Length: 10, Metrics: env.PartitionMetrics{LoadCV: cv, Connectivity: 1}}
	}

	var got Decision
	for ep := 0; ep < 120; ep++ {
		d := c.Observe(noisy(ep))
		if d.Changed && d.Stage.Phase == PhasePlateaued {
			got = d
			break
		}
	}
	if got.Stage.Phase != PhasePlateaued {
		t.Fatal("fallback should have declared a plateau")
	}
	if !got.Signals.Fallback {
		t.Fatalf("expected fallback signal, got %+v", got.Signals)
	}
	if got.Signals.Confidence >= cfg.Plateau.ConfidenceThreshold {
		t.Fatalf("confidence %f should be below threshold", got.Signals.Confidence)
	}
}

func TestPlateauRecoversOnImprovement(t *testing.T) {
	c := newController(t, DefaultConfig())
	ep := 0
	for ; c.Stage().Phase != PhasePlateaued; ep++ {
		if ep > 200 {
			t.Fatal("never plateaued")
		}
		c.Observe(flatOutcome(ep))
	}

	better := Outcome{Length: 10, Metrics: env.PartitionMetrics{Connectivity: 1}}
	for i := 0; i < 10; i++ {
		better.Episode = ep + i
		d := c.Observe(better)
		if d.Changed {
			if d.Stage.Phase != PhaseProgressing {
				t.Fatalf("expected progressing, got %s", d.Stage.Phase)
			}
			if d.Signals.Improvement <= DefaultConfig().Plateau.MinImprovement {
				t.Fatalf("improvement %f too small to resume", d.Signals.Improvement)
			}
			return
		}
	}
	t.Fatal("improvement did not resume progress")
}

func TestConvergesWhenEvolutionsExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Evolution.MaxEvolutions = 2
	c := newController(t, cfg)
	for ep := 0; ep < 120; ep++ {
		c.Observe(flatOutcome(ep))
	}
	st := c.Stage()
	if st.Phase != PhaseConverged {
		t.Fatalf("expected converged, got %s", st.Phase)
	}
	if st.Evolutions != 2 {
		t.Fatalf("expected 2 evolutions, got %d", st.Evolutions)
	}
}

func TestVersionIncrementsOnEveryMutation(t *testing.T) {
	c := newController(t, DefaultConfig())
	last := 0
	for ep := 0; ep < 120; ep++ {
		d := c.Observe(flatOutcome(ep))
		want := last
		if d.Changed {
			want++
		}
		if d.Evolved {
			want++
		}
		if d.Stage.Version != want {
			t.Fatalf("episode %d: version %d, want %d", ep, d.Stage.Version, want)
		}
		last = d.Stage.Version
	}
}

func TestControllerStateRestore(t *testing.T) {
	a := newController(t, DefaultConfig())
	for ep := 0; ep < 30; ep++ {
		a.Observe(flatOutcome(ep))
	}
	b := newController(t, DefaultConfig())
	if err := b.Restore(a.State()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for ep := 30; ep < 80; ep++ {
		da := a.Observe(flatOutcome(ep))
		db := b.Observe(flatOutcome(ep))
		if diff := cmp.Diff(da.Stage, db.Stage); diff != "" {
			t.Fatalf("episode %d stage diverged (-a +b):\n%s", ep, diff)
		}
	}
}

func TestRestoreRejectsUnknownPhase(t *testing.T) {
	c := newController(t, DefaultConfig())
	st := c.State()
	st.Stage.Phase = "sideways"
	if err := c.Restore(st); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"warmup window":   func(c *Config) { c.Warmup.Window = 1 },
		"window order":    func(c *Config) { c.Plateau.MediumWindow = 5 },
		"partition max":   func(c *Config) { c.Evolution.PartitionMax = 2 },
		"lr factor":       func(c *Config) { c.Evolution.LRDecayFactor = 1.5 },
		"negative weight": func(c *Config) { c.Evolution.WeightsEnd.Decoupling = -0.1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewController(cfg); err == nil {
			t.Fatalf("%s: expected configuration error", name)
		}
	}
}
