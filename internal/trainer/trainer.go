package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/metrics"
	"github.com/danielpatrickdp/gridzone/internal/replay"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region trainer

// Trainer owns the episode counter and every per-run collaborator. It is not
// safe for concurrent use; parallel mode fans rollouts out internally and
// folds their results back in episode order.
type Trainer struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	rollouts []*replay.Rollout // one per worker

	episode   int // next episode index
	lastLoss  float64
	hasLoss   bool // lastLoss came from an update since the last safety sample
	nanStreak int  // consecutive episodes dropped on a non-finite reward
	summary   Summary
}

// New validates cfg and builds one environment per worker.
func New(cfg Config, deps Deps) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, gzerrors.NewConfigurationError("training", err)
	}
	if err := deps.validate(); err != nil {
		return nil, gzerrors.NewConfigurationError("training", err)
	}
	if deps.Sink == nil {
		deps.Sink = metrics.Discard{}
	}

	rollouts := make([]*replay.Rollout, cfg.ParallelWorkers)
	for i := range rollouts {
		r, err := replay.NewRollout(cfg.Env, deps.Encoder)
		if err != nil {
			return nil, err
		}
		rollouts[i] = r
	}

	deps.Agent.SetLRDecay(deps.Curriculum.Stage().Params.LRDecay)
	return &Trainer{
		cfg:      cfg,
		deps:     deps,
		log:      logging.New("trainer"),
		rollouts: rollouts,
		summary:  Summary{RunID: cfg.RunID},
	}, nil
}

// Episode returns the next episode index.
func (t *Trainer) Episode() int { return t.episode }

// Resume restores agent weights, optimizer state, curriculum, safety monitor,
// loop bookkeeping and the episode counter from rec. The run seed must match
// the checkpoint's.
func (t *Trainer) Resume(rec checkpoint.Record) error {
	if rec.Seed != t.cfg.Seed {
		return gzerrors.NewConfigurationError("run.seed",
			fmt.Errorf("checkpoint %s was taken with seed %d, run uses %d", rec.ID, rec.Seed, t.cfg.Seed))
	}
	if err := t.deps.Agent.Restore(rec.Agent); err != nil {
		return fmt.Errorf("resume agent: %w", err)
	}
	if err := t.deps.Curriculum.Restore(rec.Curriculum); err != nil {
		return fmt.Errorf("resume curriculum: %w", err)
	}
	if err := t.deps.Safety.Restore(rec.Safety); err != nil {
		return fmt.Errorf("resume safety: %w", err)
	}
	t.deps.Agent.SetLRDecay(t.deps.Curriculum.Stage().Params.LRDecay)
	t.episode = rec.Episode
	t.lastLoss = rec.Loop.LastLoss
	t.hasLoss = rec.Loop.HasLoss
	t.nanStreak = rec.Loop.NaNStreak
	t.log.Info("resumed from checkpoint",
		"checkpoint", rec.ID,
		"episode", rec.Episode,
		"phase", rec.Curriculum.Stage.Phase,
		"updates", t.deps.Agent.Updates(),
	)
	return nil
}

// Run plays episodes until cfg.Episodes is reached, ctx is cancelled or the
// safety monitor trips. A SafetyViolation is returned as the error with the
// summary up to the halting episode; no update follows it.
func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	t.log.Info("training started",
		"run", t.cfg.RunID,
		"from_episode", t.episode,
		"episodes", t.cfg.Episodes,
		"workers", t.cfg.ParallelWorkers,
		"curriculum", t.cfg.CurriculumEnabled,
	)

	var err error
	if t.cfg.ParallelWorkers > 1 {
		err = t.runParallel(ctx)
	} else {
		err = t.runSequential(ctx)
	}

	t.summary.Episodes = t.episode
	t.summary.Updates = t.deps.Agent.Updates()
	t.summary.Stage = t.deps.Curriculum.Stage()
	if err != nil {
		return t.summary, err
	}
	t.log.Info("training finished",
		"episodes", t.summary.Played,
		"successes", t.summary.Successes,
		"updates", t.summary.Updates,
		"phase", t.summary.Stage.Phase,
	)
	return t.summary, nil
}

// #endregion trainer

// #region sequential

func (t *Trainer) runSequential(ctx context.Context) error {
	r := t.rollouts[0]
	a := t.deps.Agent
	for t.episode < t.cfg.Episodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		ep := t.episode
		sc, fallback, err := replay.Draw(t.deps.Generator, t.cfg.Seed, ep)
		if err != nil {
			return fmt.Errorf("episode %d: %w", ep, err)
		}
		stage := t.deps.Curriculum.Stage()

		a.Reseed(uint64(ep))
		res, err := r.Play(ctx, sc.Network, stage.Params, a.Act, a.Observe)
		if err != nil {
			a.DiscardEpisode()
			if err := t.dropEpisode(ctx, ep, err); err != nil {
				return err
			}
			continue
		}
		a.FinishEpisode(ep)
		if err := t.finish(ctx, episodeResult{sc: sc, fallback: fallback, res: res, stage: stage}); err != nil {
			return err
		}
	}
	return nil
}

// #endregion sequential

// #region parallel

type episodeResult struct {
	sc       scenario.Scenario
	fallback bool
	res      replay.Result
	traj     agent.Trajectory
	stage    curriculum.Stage
	err      error
}

// runParallel plays batches of ParallelWorkers episodes. Every worker gets
// the same Stage snapshot and a forked policy; results are folded in
// episode order after the batch completes.
func (t *Trainer) runParallel(ctx context.Context) error {
	a := t.deps.Agent
	for t.episode < t.cfg.Episodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		first := t.episode
		n := min(t.cfg.ParallelWorkers, t.cfg.Episodes-first)
		stage := t.deps.Curriculum.Stage()
		slots := make([]episodeResult, n)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(n)
		for i := 0; i < n; i++ {
			ep := first + i
			policy := a.Fork(uint64(ep))
			r := t.rollouts[i]
			g.Go(func() error {
				slots[i] = t.play(gctx, r, policy, ep, stage)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, out := range slots {
			ep := first + i
			if out.err != nil {
				if err := t.dropEpisode(ctx, ep, out.err); err != nil {
					return err
				}
				continue
			}
			a.AddTrajectory(out.traj)
			if err := t.finish(ctx, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Trainer) play(ctx context.Context, r *replay.Rollout, p *agent.Policy, ep int, stage curriculum.Stage) episodeResult {
	sc, fallback, err := replay.Draw(t.deps.Generator, t.cfg.Seed, ep)
	if err != nil {
		return episodeResult{err: fmt.Errorf("episode %d: %w", ep, err)}
	}
	traj := agent.Trajectory{Episode: ep}
	res, err := r.Play(ctx, sc.Network, stage.Params, p.Act, traj.Add)
	if err != nil {
		return episodeResult{err: err}
	}
	return episodeResult{sc: sc, fallback: fallback, res: res, traj: traj, stage: stage}
}

// #endregion parallel

// #region finish

// dropEpisode skips an episode whose rollout failed recoverably and returns
// every other error. Non-finite rewards count against the agent's NaN
// patience; once consecutive drops exceed it the run halts. A dropped episode
// still advances the update, checkpoint and evaluation boundaries.
func (t *Trainer) dropEpisode(ctx context.Context, ep int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !gzerrors.IsRecoverable(err) {
		return fmt.Errorf("episode %d: %w", ep, err)
	}
	if gzerrors.Is(err, gzerrors.ErrNumericInstability) {
		t.nanStreak++
		patience := t.deps.Agent.Config().NaNPatience
		if t.nanStreak > patience {
			t.episode = ep + 1
			return fmt.Errorf("episode %d: %w", ep, &gzerrors.NumericInstabilityError{
				Where:       "reward",
				Consecutive: t.nanStreak,
				Patience:    patience,
				Fatal:       true,
			})
		}
		t.log.Warn("episode skipped", "episode", ep, "error", err, "consecutive", t.nanStreak, "patience", patience)
	} else {
		t.log.Warn("episode skipped", "episode", ep, "error", err)
	}
	t.summary.Skipped++
	t.episode = ep + 1
	return t.boundaries(ctx, ep)
}

// finish applies the per-episode pipeline in order: record, safety,
// curriculum, update, checkpoint, evaluation.
func (t *Trainer) finish(ctx context.Context, out episodeResult) error {
	ep := out.sc.Index
	res := out.res
	stage := out.stage

	success := t.cfg.Success.Scaled(stage.Params.SuccessScale).Evaluate(res.Metrics, res.Length)
	t.summary.Played++
	if success {
		t.summary.Successes++
	}

	rec := metrics.EpisodeRecord{
		RunID:            t.cfg.RunID,
		Episode:          ep,
		Scenario:         scenarioLabel(out.sc, out.fallback),
		Reward:           res.Reward,
		Components:       res.Components,
		Metrics:          res.Metrics,
		Length:           res.Length,
		Termination:      res.Termination,
		Success:          success,
		EarlyTermination: res.EarlyTermination,
		Phase:            stage.Phase,
		StageVersion:     stage.Version,
		Params:           stage.Params,
		Loss:             t.lastLoss,
		HasLoss:          t.hasLoss,
	}
	if err := t.deps.Sink.Record(ctx, rec); err != nil {
		t.log.Warn("metrics sink failed", "episode", ep, "error", err)
	}

	score := curriculum.CompositeScore(res.Metrics)
	if err := t.deps.Safety.Observe(curriculum.SafetySample{
		Episode: ep,
		Reward:  res.Reward,
		Loss:    t.lastLoss,
		HasLoss: t.hasLoss,
		Score:   score,
	}); err != nil {
		t.episode = ep + 1
		t.recordSafety(ep, stage, err)
		return err
	}
	t.hasLoss = false
	t.nanStreak = 0

	if t.cfg.CurriculumEnabled {
		d := t.deps.Curriculum.Observe(curriculum.Outcome{
			Episode: ep,
			Length:  res.Length,
			Reward:  res.Reward,
			Metrics: res.Metrics,
		})
		if d.Mutated() {
			t.recordDecision(ep, d)
			t.deps.Agent.SetLRDecay(d.Stage.Params.LRDecay)
		}
	}

	t.episode = ep + 1
	if err := t.boundaries(ctx, ep); err != nil {
		return err
	}

	if t.episode%max(t.cfg.LogInterval, 1) == 0 {
		t.log.Info("episode",
			"episode", ep,
			"reward", res.Reward,
			"length", res.Length,
			"load_cv", res.Metrics.LoadCV,
			"coupling", res.Metrics.CouplingRatio,
			"success", success,
			"phase", stage.Phase,
			"partitions", stage.Params.PartitionTarget,
		)
	} else {
		t.log.Debug("episode", "episode", ep, "reward", res.Reward, "length", res.Length)
	}
	return nil
}

// boundaries runs the update, checkpoint and evaluation due once episode ep
// is done.
func (t *Trainer) boundaries(ctx context.Context, ep int) error {
	if t.episode%t.cfg.UpdateInterval == 0 {
		if err := t.update(ep); err != nil {
			return err
		}
	}
	if t.cfg.CheckpointInterval > 0 && t.episode%t.cfg.CheckpointInterval == 0 {
		t.checkpoint()
	}
	if t.cfg.EvalInterval > 0 && t.deps.Evaluator != nil && t.episode%t.cfg.EvalInterval == 0 {
		t.evaluate(ctx)
	}
	return nil
}

func scenarioLabel(sc scenario.Scenario, fallback bool) string {
	if fallback {
		return "fallback"
	}
	return string(sc.Kind)
}

func (t *Trainer) update(ep int) error {
	res, err := t.deps.Agent.Update()
	if err != nil {
		if gzerrors.IsFatal(err) {
			return fmt.Errorf("update after episode %d: %w", ep, err)
		}
		t.summary.SkippedUpdates++
		t.log.Warn("update skipped", "episode", ep, "error", err)
		return nil
	}
	if res.Skipped {
		return nil
	}
	t.lastLoss = res.TotalLoss
	t.hasLoss = true
	t.log.Debug("update",
		"episode", ep,
		"samples", res.Samples,
		"loss", res.TotalLoss,
		"kl", res.ApproxKL,
		"clip_fraction", res.ClipFraction,
		"actor_lr", res.ActorLR,
	)
	return nil
}

// #endregion finish

// #region persistence

// checkpoint saves the agent, curriculum, safety monitor and loop state.
// Failures are logged and the run continues.
func (t *Trainer) checkpoint() {
	if t.deps.Store == nil {
		return
	}
	progress, _ := json.Marshal(struct {
		Played    int `json:"played"`
		Successes int `json:"successes"`
		Skipped   int `json:"skipped"`
	}{t.summary.Played, t.summary.Successes, t.summary.Skipped})

	rec, err := t.deps.Store.Save(checkpoint.Record{
		RunID:       t.cfg.RunID,
		Episode:     t.episode,
		Seed:        t.cfg.Seed,
		Agent:       t.deps.Agent.Snapshot(),
		Curriculum:  t.deps.Curriculum.State(),
		Safety:      t.deps.Safety.State(),
		Loop: checkpoint.LoopState{
			LastLoss:  t.lastLoss,
			HasLoss:   t.hasLoss,
			NaNStreak: t.nanStreak,
		},
		MetricsJSON: string(progress),
	})
	if err != nil {
		t.log.Warn("checkpoint failed", "episode", t.episode, "error", err)
		return
	}
	t.summary.Checkpoints++
	t.log.Info("checkpoint saved", "id", rec.ID, "episode", t.episode)
}

func (t *Trainer) evaluate(ctx context.Context) {
	eps, err := t.deps.Evaluator.Run(ctx, t.deps.Agent, t.deps.Curriculum.Stage().Params)
	if err != nil {
		t.log.Warn("evaluation failed", "episode", t.episode, "error", err)
		return
	}
	s := replay.Summarize(eps)
	t.summary.LastEval = &s
}

func (t *Trainer) recordDecision(ep int, d curriculum.Decision) {
	kind := logging.KindEvolution
	if d.Changed {
		kind = logging.KindTransition
	}
	t.provenance(logging.TransitionEntry{
		RunID:        t.cfg.RunID,
		Episode:      ep,
		Kind:         kind,
		FromPhase:    string(d.From),
		ToPhase:      string(d.Stage.Phase),
		StageVersion: d.Stage.Version,
		Reason:       d.Reason,
	}, d.Stage.Params, d.Signals)
}

func (t *Trainer) recordSafety(ep int, stage curriculum.Stage, err error) {
	signals := logging.TransitionSignals{}
	var v *gzerrors.SafetyViolation
	if gzerrors.As(err, &v) {
		signals.SafetyKind = string(v.Kind)
		signals.SafetyValue = v.Value
		signals.SafetyLimit = v.Threshold
	}
	t.provenance(logging.TransitionEntry{
		RunID:        t.cfg.RunID,
		Episode:      ep,
		Kind:         logging.KindSafety,
		FromPhase:    string(stage.Phase),
		ToPhase:      string(stage.Phase),
		StageVersion: stage.Version,
		Reason:       err.Error(),
	}, stage.Params, signals)
}

// provenance writes one curriculum_log row when a store is attached.
func (t *Trainer) provenance(entry logging.TransitionEntry, params curriculum.Params, signals logging.TransitionSignals) {
	if t.deps.Store == nil {
		return
	}
	p, _ := json.Marshal(params)
	s, _ := json.Marshal(signals)
	entry.ParamsJSON = string(p)
	entry.SignalsJSON = string(s)
	if err := logging.LogTransition(t.deps.Store.DB(), entry); err != nil {
		t.log.Warn("provenance write failed", "episode", entry.Episode, "kind", entry.Kind, "error", err)
	}
}

// #endregion persistence
