package trainer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/grid"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/metrics"
	"github.com/danielpatrickdp/gridzone/internal/replay"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region helpers

const testSeed = 17

// recorder keeps every episode record in arrival order.
type recorder struct {
	recs []metrics.EpisodeRecord
}

func (r *recorder) Record(_ context.Context, rec metrics.EpisodeRecord) error {
	r.recs = append(r.recs, rec)
	return nil
}

type fixture struct {
	cfg      Config
	curCfg   curriculum.Config
	safeCfg  curriculum.SafetyConfig
	store    *checkpoint.Store
	evaluate bool
}

func newFixture() *fixture {
	cfg := DefaultConfig()
	cfg.RunID = "run-test"
	cfg.Seed = testSeed
	cfg.Episodes = 6
	cfg.UpdateInterval = 3
	cfg.CheckpointInterval = 0
	cfg.EvalInterval = 0
	return &fixture{
		cfg:     cfg,
		curCfg:  curriculum.DefaultConfig(),
		safeCfg: curriculum.DefaultSafetyConfig(),
	}
}

// build wires fresh collaborators so separate trainers share nothing.
func (f *fixture) build(t *testing.T) (*Trainer, *agent.Agent, *recorder) {
	t.Helper()
	gen, err := scenario.NewGenerator(grid.Case14(), scenario.DefaultConfig())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	enc, err := encoder.NewPropagation(encoder.PropagationConfig{Dim: 4, Layers: 1, Seed: 3})
	if err != nil {
		t.Fatalf("NewPropagation: %v", err)
	}
	acfg := agent.DefaultConfig()
	acfg.Hidden = 8
	acfg.Seed = f.cfg.Seed
	a, err := agent.New(acfg, enc.Dim())
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	ctrl, err := curriculum.NewController(f.curCfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	safety, err := curriculum.NewSafetyMonitor(f.safeCfg)
	if err != nil {
		t.Fatalf("NewSafetyMonitor: %v", err)
	}
	var harness *replay.Harness
	if f.evaluate {
		harness, err = replay.NewHarness(replay.Config{Scenarios: 2, StartIndex: 1_000_000, Seed: f.cfg.Seed},
			gen, f.cfg.Env, enc, f.cfg.Success)
		if err != nil {
			t.Fatalf("NewHarness: %v", err)
		}
	}
	rec := &recorder{}
	tr, err := New(f.cfg, Deps{
		Generator:  gen,
		Encoder:    enc,
		Agent:      a,
		Curriculum: ctrl,
		Safety:     safety,
		Sink:       rec,
		Store:      f.store,
		Evaluator:  harness,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, a, rec
}

func openStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "train.db"))
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func episodes(recs []metrics.EpisodeRecord) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Episode
	}
	return out
}

// #endregion helpers

// #region tests

func TestSequentialRunRecordsEveryEpisode(t *testing.T) {
	f := newFixture()
	tr, a, rec := f.build(t)

	sum, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5}, episodes(rec.recs)); diff != "" {
		t.Fatalf("episode order (-want +got):\n%s", diff)
	}
	if sum.Episodes != 6 || sum.Played+sum.Skipped != 6 {
		t.Errorf("summary = %+v", sum)
	}
	if a.Updates() != 2 || sum.Updates != 2 {
		t.Errorf("updates = %d (summary %d), want 2", a.Updates(), sum.Updates)
	}
	if rec.recs[2].HasLoss || !rec.recs[3].HasLoss {
		t.Error("loss should first appear on the episode after the first update")
	}
	for _, r := range rec.recs {
		if r.Phase != curriculum.PhaseWarmup || r.Length < 1 {
			t.Errorf("episode %d: phase %s length %d", r.Episode, r.Phase, r.Length)
		}
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	seq := newFixture()
	seqTrainer, seqAgent, seqRec := seq.build(t)
	if _, err := seqTrainer.Run(context.Background()); err != nil {
		t.Fatalf("sequential Run: %v", err)
	}

	par := newFixture()
	par.cfg.ParallelWorkers = 3
	parTrainer, parAgent, parRec := par.build(t)
	if _, err := parTrainer.Run(context.Background()); err != nil {
		t.Fatalf("parallel Run: %v", err)
	}

	if diff := cmp.Diff(seqRec.recs, parRec.recs); diff != "" {
		t.Fatalf("parallel records differ from sequential (-seq +par):\n%s", diff)
	}
	if diff := cmp.Diff(seqAgent.Snapshot(), parAgent.Snapshot()); diff != "" {
		t.Fatalf("agent weights differ (-seq +par):\n%s", diff)
	}
}

func TestParallelTailBatch(t *testing.T) {
	f := newFixture()
	f.cfg.Episodes = 7
	f.cfg.ParallelWorkers = 3
	tr, _, rec := f.build(t)

	sum, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6}, episodes(rec.recs)); diff != "" {
		t.Fatalf("episode order (-want +got):\n%s", diff)
	}
	if sum.Episodes != 7 {
		t.Errorf("next episode = %d, want 7", sum.Episodes)
	}
}

func TestSafetyViolationHaltsBeforeUpdate(t *testing.T) {
	f := newFixture()
	f.cfg.Episodes = 500
	f.cfg.UpdateInterval = 1
	f.safeCfg.RewardFloor = 1e9 // every episode is below the floor
	f.safeCfg.Patience = 5
	store := openStore(t)
	f.store = store
	tr, a, rec := f.build(t)

	sum, err := tr.Run(context.Background())
	if !gzerrors.Is(err, gzerrors.ErrSafetyViolation) {
		t.Fatalf("err = %v, want a safety violation", err)
	}
	var v *gzerrors.SafetyViolation
	if !gzerrors.As(err, &v) || v.Kind != gzerrors.SafetyRewardFloor {
		t.Fatalf("violation = %+v", v)
	}
	if v.Episode > f.safeCfg.Patience-1 {
		t.Errorf("violation at episode %d, want <= %d", v.Episode, f.safeCfg.Patience-1)
	}
	if len(rec.recs) != f.safeCfg.Patience {
		t.Errorf("recorded %d episodes, want %d", len(rec.recs), f.safeCfg.Patience)
	}
	if a.Updates() != f.safeCfg.Patience-1 {
		t.Errorf("updates = %d, want %d (none after the violation)", a.Updates(), f.safeCfg.Patience-1)
	}
	if sum.Episodes != f.safeCfg.Patience {
		t.Errorf("next episode = %d, want %d", sum.Episodes, f.safeCfg.Patience)
	}

	entries, err := logging.RecentTransitions(store.DB(), "run-test", 10)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != logging.KindSafety {
		t.Fatalf("provenance = %+v, want one safety entry", entries)
	}
}

func TestCurriculumTransitionsAreLogged(t *testing.T) {
	f := newFixture()
	f.curCfg.Warmup = curriculum.WarmupConfig{Window: 3, LengthCVThreshold: 1, MinEpisodeLength: 1, Sustain: 1}
	f.store = openStore(t)
	tr, a, rec := f.build(t)

	sum, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Stage.Phase != curriculum.PhaseProgressing {
		t.Fatalf("phase = %s, want progressing", sum.Stage.Phase)
	}
	if sum.Stage.Params.PartitionTarget <= f.curCfg.Evolution.PartitionStart {
		t.Errorf("partition target %d did not evolve", sum.Stage.Params.PartitionTarget)
	}
	// episodes after the warmup exit run under the evolved stage
	last := rec.recs[len(rec.recs)-1]
	if last.Phase != curriculum.PhaseProgressing || last.StageVersion != sum.Stage.Version {
		t.Errorf("last record phase %s version %d", last.Phase, last.StageVersion)
	}

	actor, _ := a.LearningRates()
	decayed := agent.DefaultConfig().ActorLR * agent.DefaultConfig().ActorSched.Factor(a.Updates()) * f.curCfg.Evolution.LRDecayFactor
	if diff := actor - decayed; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("actor lr = %g, want %g", actor, decayed)
	}

	entries, err := logging.RecentTransitions(f.store.DB(), "run-test", 10)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(entries) == 0 || entries[len(entries)-1].Kind != logging.KindTransition {
		t.Fatalf("provenance = %+v, want a transition", entries)
	}
}

func TestResumeReproducesUninterruptedRun(t *testing.T) {
	full := newFixture()
	full.cfg.Episodes = 8
	full.cfg.UpdateInterval = 2
	fullTrainer, _, fullRec := full.build(t)
	if _, err := fullTrainer.Run(context.Background()); err != nil {
		t.Fatalf("full Run: %v", err)
	}

	store := openStore(t)
	first := newFixture()
	first.cfg.Episodes = 4
	first.cfg.UpdateInterval = 2
	first.cfg.CheckpointInterval = 4
	first.store = store
	firstTrainer, _, _ := first.build(t)
	sum, err := firstTrainer.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if sum.Checkpoints != 1 {
		t.Fatalf("checkpoints = %d, want 1", sum.Checkpoints)
	}

	ck, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if ck.Episode != 4 || ck.Seed != testSeed {
		t.Fatalf("checkpoint episode %d seed %d", ck.Episode, ck.Seed)
	}

	second := newFixture()
	second.cfg.Episodes = 8
	second.cfg.UpdateInterval = 2
	secondTrainer, _, secondRec := second.build(t)
	if err := secondTrainer.Resume(ck); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := secondTrainer.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	if diff := cmp.Diff(fullRec.recs[4:], secondRec.recs); diff != "" {
		t.Fatalf("resumed episodes differ (-full +resumed):\n%s", diff)
	}
}

func TestResumedRunHaltsAtSameSafetyEpisode(t *testing.T) {
	breach := func(f *fixture) {
		f.cfg.UpdateInterval = 1
		f.safeCfg.RewardFloor = 1e9
		f.safeCfg.Patience = 5
	}

	full := newFixture()
	full.cfg.Episodes = 500
	breach(full)
	fullTrainer, fullAgent, _ := full.build(t)
	_, fullErr := fullTrainer.Run(context.Background())
	var want *gzerrors.SafetyViolation
	if !gzerrors.As(fullErr, &want) {
		t.Fatalf("uninterrupted run: err = %v, want a safety violation", fullErr)
	}

	store := openStore(t)
	first := newFixture()
	first.cfg.Episodes = 3
	first.cfg.CheckpointInterval = 3
	first.store = store
	breach(first)
	firstTrainer, _, _ := first.build(t)
	if _, err := firstTrainer.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	ck, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if ck.Safety.RewardStreak != 3 || !ck.Loop.HasLoss {
		t.Fatalf("checkpoint safety %+v loop %+v", ck.Safety, ck.Loop)
	}

	second := newFixture()
	second.cfg.Episodes = 500
	breach(second)
	secondTrainer, secondAgent, secondRec := second.build(t)
	if err := secondTrainer.Resume(ck); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	_, err = secondTrainer.Run(context.Background())
	var got *gzerrors.SafetyViolation
	if !gzerrors.As(err, &got) {
		t.Fatalf("resumed run: err = %v, want a safety violation", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("violation differs (-uninterrupted +resumed):\n%s", diff)
	}
	if len(secondRec.recs) != want.Episode-ck.Episode+1 {
		t.Errorf("resumed run recorded %d episodes, want %d", len(secondRec.recs), want.Episode-ck.Episode+1)
	}
	if fullAgent.Updates() != secondAgent.Updates() {
		t.Errorf("updates = %d after resume, %d uninterrupted", secondAgent.Updates(), fullAgent.Updates())
	}
}

func TestNonFiniteRewardsEscalateAfterPatience(t *testing.T) {
	f := newFixture()
	f.cfg.Episodes = 0
	tr, a, _ := f.build(t)
	ctx := context.Background()
	patience := a.Config().NaNPatience
	nonFinite := &gzerrors.NumericInstabilityError{Where: "reward"}

	ep := 0
	for i := 0; i < patience-1; i++ {
		if err := tr.dropEpisode(ctx, ep, nonFinite); err != nil {
			t.Fatalf("drop %d: %v", i, err)
		}
		ep++
	}

	// a finite episode resets the streak
	tr.cfg.Episodes = ep + 1
	if _, err := tr.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tr.nanStreak != 0 {
		t.Fatalf("streak = %d after a finite episode, want 0", tr.nanStreak)
	}
	ep = tr.Episode()

	for i := 0; i < patience; i++ {
		if err := tr.dropEpisode(ctx, ep, nonFinite); err != nil {
			t.Fatalf("drop %d within patience: %v", i, err)
		}
		ep++
	}
	err := tr.dropEpisode(ctx, ep, nonFinite)
	if !gzerrors.Is(err, gzerrors.ErrNumericInstability) || !gzerrors.IsFatal(err) {
		t.Fatalf("err = %v, want fatal numeric instability", err)
	}
	var nie *gzerrors.NumericInstabilityError
	if !gzerrors.As(err, &nie) || nie.Consecutive != patience+1 || nie.Patience != patience {
		t.Fatalf("instability = %+v", nie)
	}
	if tr.summary.Skipped != 2*patience-1 {
		t.Errorf("skipped = %d, want %d", tr.summary.Skipped, 2*patience-1)
	}
}

func TestDroppedEpisodeStillReachesUpdateBoundary(t *testing.T) {
	f := newFixture()
	f.cfg.Episodes = 2
	tr, a, _ := f.build(t)
	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Updates() != 0 || a.BufferLen() == 0 {
		t.Fatalf("before drop: updates %d buffer %d", a.Updates(), a.BufferLen())
	}

	infeasible := gzerrors.NewInvalidNetworkError("test", 14, 20)
	if err := tr.dropEpisode(context.Background(), 2, infeasible); err != nil {
		t.Fatalf("dropEpisode: %v", err)
	}
	if tr.Episode() != 3 {
		t.Fatalf("next episode = %d, want 3", tr.Episode())
	}
	if a.Updates() != 1 {
		t.Fatalf("updates = %d, want the episode-3 boundary update", a.Updates())
	}
}

func TestResumeRejectsSeedMismatch(t *testing.T) {
	f := newFixture()
	tr, a, _ := f.build(t)
	err := tr.Resume(checkpoint.Record{ID: "x", Seed: testSeed + 1, Agent: a.Snapshot()})
	if !gzerrors.Is(err, gzerrors.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestPeriodicEvaluation(t *testing.T) {
	f := newFixture()
	f.cfg.EvalInterval = 3
	f.evaluate = true
	tr, _, _ := f.build(t)

	sum, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.LastEval == nil || sum.LastEval.Episodes != 2 {
		t.Fatalf("last eval = %+v, want 2 evaluated scenarios", sum.LastEval)
	}
}

func TestCancelledContextStopsBetweenEpisodes(t *testing.T) {
	f := newFixture()
	tr, _, rec := f.build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tr.Run(ctx); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rec.recs) != 0 || tr.Episode() != 0 {
		t.Errorf("played %d episodes after cancel", len(rec.recs))
	}
}

func TestNewRejectsMissingDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	if !gzerrors.Is(err, gzerrors.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	cfg := DefaultConfig()
	cfg.ParallelWorkers = 0
	if _, err := New(cfg, Deps{}); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

// #endregion tests
