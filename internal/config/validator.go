package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danielpatrickdp/gridzone/internal/env"
	"github.com/danielpatrickdp/gridzone/internal/grid"
)

// #region validation-errors
// ValidationError is a single validation failure.
type ValidationError struct {
	Field   string // dotted config key, e.g. "agent.clip_epsilon"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is every failure found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}
// #endregion validation-errors

// ValidLogLevels returns the accepted logging levels.
func ValidLogLevels() []string { return []string{"debug", "info", "warn", "error"} }

// ValidEncoderKinds returns the accepted encoder kinds.
func ValidEncoderKinds() []string { return []string{"local", "remote"} }

// #region validate
// Validate checks every value and returns all failures.
func (c *Config) Validate() []ValidationError {
	var v validator

	v.check(slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)), "logging.level", c.Logging.Level,
		"must be one of "+strings.Join(ValidLogLevels(), ", "))
	v.check(c.Logging.Format == "text" || c.Logging.Format == "json", "logging.format", c.Logging.Format,
		"must be text or json")
	v.check(c.Run.Database != "", "run.database", c.Run.Database, "must not be empty")

	v.check(slices.Contains(grid.CaseNames(), c.Network.Case), "network.case", c.Network.Case,
		"must be one of "+strings.Join(grid.CaseNames(), ", "))

	s := c.Scenario
	v.check(s.PerturbProb >= 0 && s.PerturbProb <= 1, "scenario.perturb_prob", s.PerturbProb, "must be in [0, 1]")
	v.check(s.ScaleMin > 0, "scenario.scale_min", s.ScaleMin, "must be positive")
	v.check(s.ScaleMax >= s.ScaleMin, "scenario.scale_max", s.ScaleMax, "must be >= scale_min")
	v.check(s.MaxRetries >= 1, "scenario.max_retries", s.MaxRetries, "must be at least 1")

	e := c.Environment
	v.check(e.MaxSteps >= 1, "environment.max_steps", e.MaxSteps, "must be at least 1")
	v.check(e.MinEpisodeLength >= 0, "environment.min_episode_length", e.MinEpisodeLength, "must be non-negative")
	v.check(e.RelaxationHops >= 0, "environment.relaxation_hops", e.RelaxationHops, "must be non-negative")
	if _, err := env.ParseMode(e.RewardMode); err != nil {
		v.add("environment.reward_mode", e.RewardMode, err.Error())
	}

	sc := c.SuccessCriteria
	v.check(sc.CVThreshold > 0, "success_criteria.cv_threshold", sc.CVThreshold, "must be positive")
	v.check(sc.ConnectivityThreshold >= 0 && sc.ConnectivityThreshold <= 1,
		"success_criteria.connectivity_threshold", sc.ConnectivityThreshold, "must be in [0, 1]")

	enc := c.Encoder
	v.check(slices.Contains(ValidEncoderKinds(), enc.Kind), "encoder.kind", enc.Kind, "must be local or remote")
	v.check(enc.Dim >= 1, "encoder.dim", enc.Dim, "must be at least 1")
	v.check(enc.Layers >= 0, "encoder.layers", enc.Layers, "must be non-negative")
	if enc.Kind == "remote" {
		v.check(enc.RemoteAddr != "", "encoder.remote_addr", enc.RemoteAddr, "required for the remote encoder")
		v.check(enc.RemoteTimeout > 0, "encoder.remote_timeout", enc.RemoteTimeout, "must be positive")
	}

	a := c.Agent
	v.check(a.Hidden >= 1, "agent.hidden", a.Hidden, "must be at least 1")
	v.check(a.ActorLR > 0, "agent.actor_lr", a.ActorLR, "must be positive")
	v.check(a.CriticLR > 0, "agent.critic_lr", a.CriticLR, "must be positive")
	v.check(a.Gamma >= 0 && a.Gamma <= 1, "agent.gamma", a.Gamma, "must be in [0, 1]")
	v.check(a.GAELambda >= 0 && a.GAELambda <= 1, "agent.gae_lambda", a.GAELambda, "must be in [0, 1]")
	v.check(a.ClipEpsilon > 0, "agent.clip_epsilon", a.ClipEpsilon, "must be positive")
	v.check(a.EntropyCoef >= 0, "agent.entropy_coef", a.EntropyCoef, "must be non-negative")
	v.check(a.ValueCoef >= 0, "agent.value_coef", a.ValueCoef, "must be non-negative")
	v.check(a.KEpochs >= 1, "agent.k_epochs", a.KEpochs, "must be at least 1")
	v.check(a.MinibatchSize >= 1, "agent.minibatch_size", a.MinibatchSize, "must be at least 1")
	v.check(a.MaxGradNorm >= 0, "agent.max_grad_norm", a.MaxGradNorm, "must be non-negative")
	v.check(a.TargetKL >= 0, "agent.target_kl", a.TargetKL, "must be non-negative")
	v.check(a.NaNPatience >= 0, "agent.nan_patience", a.NaNPatience, "must be non-negative")
	v.scheduler("agent.actor_scheduler", a.ActorScheduler)
	v.scheduler("agent.critic_scheduler", a.CriticScheduler)

	t := c.Training
	v.check(t.Episodes >= 1, "training.episodes", t.Episodes, "must be at least 1")
	v.check(t.UpdateInterval >= 1, "training.update_interval", t.UpdateInterval, "must be at least 1")
	v.check(t.CheckpointInterval >= 0, "training.checkpoint_interval", t.CheckpointInterval, "must be non-negative")
	v.check(t.EvalInterval >= 0, "training.eval_interval", t.EvalInterval, "must be non-negative")
	v.check(t.LogInterval >= 1, "training.log_interval", t.LogInterval, "must be at least 1")
	v.check(t.ParallelWorkers >= 1, "training.parallel_workers", t.ParallelWorkers, "must be at least 1")

	if err := c.CurriculumConfig().Validate(); err != nil {
		v.add("adaptive_curriculum", "", err.Error())
	}
	sf := c.Curriculum.Safety
	v.check(sf.Patience >= 1, "adaptive_curriculum.safety.patience", sf.Patience, "must be at least 1")
	v.check(sf.LossCeiling > 0, "adaptive_curriculum.safety.loss_ceiling", sf.LossCeiling, "must be positive")
	v.check(sf.DeteriorationFraction > 0, "adaptive_curriculum.safety.deterioration_fraction",
		sf.DeteriorationFraction, "must be positive")
	v.check(sf.DeteriorationWindow >= 1, "adaptive_curriculum.safety.deterioration_window",
		sf.DeteriorationWindow, "must be at least 1")

	v.check(c.Evaluation.Scenarios >= 0, "evaluation.scenarios", c.Evaluation.Scenarios, "must be non-negative")
	v.check(c.Evaluation.StartIndex >= 0, "evaluation.start_index", c.Evaluation.StartIndex, "must be non-negative")

	return v.errs
}

type validator struct {
	errs []ValidationError
}

func (v *validator) add(field string, value any, msg string) {
	v.errs = append(v.errs, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *validator) check(ok bool, field string, value any, msg string) {
	if !ok {
		v.add(field, value, msg)
	}
}

func (v *validator) scheduler(prefix string, s SchedulerConfig) {
	v.check(s.WarmupUpdates >= 0, prefix+".warmup_updates", s.WarmupUpdates, "must be non-negative")
	v.check(s.TotalUpdates >= 0, prefix+".total_updates", s.TotalUpdates, "must be non-negative")
	v.check(s.MinLRRatio >= 0 && s.MinLRRatio <= 1, prefix+".min_lr_ratio", s.MinLRRatio, "must be in [0, 1]")
}
// #endregion validate
