package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region default
// Default returns the configuration built from every component's defaults.
func Default() *Config {
	sc := scenario.DefaultConfig()
	ec := env.DefaultConfig()
	pc := encoder.DefaultPropagationConfig()
	ac := agent.DefaultConfig()
	cc := curriculum.DefaultConfig()
	sf := curriculum.DefaultSafetyConfig()

	return &Config{
		Run: RunConfig{
			Seed:     ac.Seed,
			Database: "gridzone.db",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Network: NetworkConfig{Case: "ieee14"},
		Scenario: ScenarioConfig{
			PerturbProb: sc.PerturbProb,
			ScaleMin:    sc.ScaleMin,
			ScaleMax:    sc.ScaleMax,
			MaxRetries:  sc.MaxRetries,
		},
		Environment: EnvironmentConfig{
			MaxSteps:         ec.MaxSteps,
			MinEpisodeLength: ec.MinEpisodeLength,
			RelaxationHops:   ec.RelaxationHops,
			RewardMode:       string(ec.Mode),
		},
		SuccessCriteria: env.DefaultSuccessCriteria(),
		Encoder: EncoderConfig{
			Kind:          "local",
			Dim:           pc.Dim,
			Layers:        pc.Layers,
			Seed:          pc.Seed,
			RemoteTimeout: 5 * time.Second,
		},
		Agent: AgentConfig{
			Hidden:          ac.Hidden,
			ActorLR:         ac.ActorLR,
			CriticLR:        ac.CriticLR,
			Gamma:           ac.Gamma,
			GAELambda:       ac.Lambda,
			ClipEpsilon:     ac.ClipEpsilon,
			EntropyCoef:     ac.EntropyCoef,
			ValueCoef:       ac.ValueCoef,
			KEpochs:         ac.Epochs,
			MinibatchSize:   ac.MinibatchSize,
			MaxGradNorm:     ac.MaxGradNorm,
			TargetKL:        ac.TargetKL,
			NaNPatience:     ac.NaNPatience,
			ActorScheduler:  schedulerFrom(ac.ActorSched),
			CriticScheduler: schedulerFrom(ac.CriticSched),
		},
		Training: TrainingConfig{
			Episodes:           1000,
			UpdateInterval:     10,
			CheckpointInterval: 100,
			EvalInterval:       100,
			LogInterval:        10,
			ParallelWorkers:    1,
		},
		Curriculum: CurriculumConfig{
			Enabled: true,
			Warmup: WarmupConfig{
				Window:            cc.Warmup.Window,
				LengthCVThreshold: cc.Warmup.LengthCVThreshold,
				MinEpisodeLength:  cc.Warmup.MinEpisodeLength,
				Sustain:           cc.Warmup.Sustain,
			},
			PlateauDetection: PlateauConfig(cc.Plateau),
			Evolution:        EvolutionConfig(cc.Evolution),
			Safety:           SafetyConfig(sf),
		},
		Evaluation: EvaluationConfig{Scenarios: 8, StartIndex: 1_000_000},
		Metrics:    MetricsConfig{SQLite: true},
	}
}

func schedulerFrom(s agent.Schedule) SchedulerConfig {
	return SchedulerConfig{WarmupUpdates: s.Warmup, TotalUpdates: s.Total, MinLRRatio: s.MinRatio}
}
// #endregion default

// #region set-defaults
// SetDefaults registers every key of Default() on v so that environment
// variables and partial files resolve against a complete tree.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("run.id", d.Run.ID)
	v.SetDefault("run.seed", d.Run.Seed)
	v.SetDefault("run.database", d.Run.Database)
	v.SetDefault("run.resume", d.Run.Resume)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("network.case", d.Network.Case)

	v.SetDefault("scenario.perturb_prob", d.Scenario.PerturbProb)
	v.SetDefault("scenario.scale_min", d.Scenario.ScaleMin)
	v.SetDefault("scenario.scale_max", d.Scenario.ScaleMax)
	v.SetDefault("scenario.max_retries", d.Scenario.MaxRetries)

	v.SetDefault("environment.max_steps", d.Environment.MaxSteps)
	v.SetDefault("environment.min_episode_length", d.Environment.MinEpisodeLength)
	v.SetDefault("environment.relaxation_hops", d.Environment.RelaxationHops)
	v.SetDefault("environment.reward_mode", d.Environment.RewardMode)

	v.SetDefault("success_criteria.cv_threshold", d.SuccessCriteria.CVThreshold)
	v.SetDefault("success_criteria.connectivity_threshold", d.SuccessCriteria.ConnectivityThreshold)
	v.SetDefault("success_criteria.min_episode_length", d.SuccessCriteria.MinEpisodeLength)

	v.SetDefault("encoder.kind", d.Encoder.Kind)
	v.SetDefault("encoder.dim", d.Encoder.Dim)
	v.SetDefault("encoder.layers", d.Encoder.Layers)
	v.SetDefault("encoder.seed", d.Encoder.Seed)
	v.SetDefault("encoder.remote_addr", d.Encoder.RemoteAddr)
	v.SetDefault("encoder.remote_timeout", d.Encoder.RemoteTimeout)

	v.SetDefault("agent.hidden", d.Agent.Hidden)
	v.SetDefault("agent.actor_lr", d.Agent.ActorLR)
	v.SetDefault("agent.critic_lr", d.Agent.CriticLR)
	v.SetDefault("agent.gamma", d.Agent.Gamma)
	v.SetDefault("agent.gae_lambda", d.Agent.GAELambda)
	v.SetDefault("agent.clip_epsilon", d.Agent.ClipEpsilon)
	v.SetDefault("agent.entropy_coef", d.Agent.EntropyCoef)
	v.SetDefault("agent.value_coef", d.Agent.ValueCoef)
	v.SetDefault("agent.k_epochs", d.Agent.KEpochs)
	v.SetDefault("agent.minibatch_size", d.Agent.MinibatchSize)
	v.SetDefault("agent.max_grad_norm", d.Agent.MaxGradNorm)
	v.SetDefault("agent.target_kl", d.Agent.TargetKL)
	v.SetDefault("agent.nan_patience", d.Agent.NaNPatience)
	v.SetDefault("agent.actor_scheduler.warmup_updates", d.Agent.ActorScheduler.WarmupUpdates)
	v.SetDefault("agent.actor_scheduler.total_updates", d.Agent.ActorScheduler.TotalUpdates)
	v.SetDefault("agent.actor_scheduler.min_lr_ratio", d.Agent.ActorScheduler.MinLRRatio)
	v.SetDefault("agent.critic_scheduler.warmup_updates", d.Agent.CriticScheduler.WarmupUpdates)
	v.SetDefault("agent.critic_scheduler.total_updates", d.Agent.CriticScheduler.TotalUpdates)
	v.SetDefault("agent.critic_scheduler.min_lr_ratio", d.Agent.CriticScheduler.MinLRRatio)

	v.SetDefault("training.episodes", d.Training.Episodes)
	v.SetDefault("training.update_interval", d.Training.UpdateInterval)
	v.SetDefault("training.checkpoint_interval", d.Training.CheckpointInterval)
	v.SetDefault("training.eval_interval", d.Training.EvalInterval)
	v.SetDefault("training.log_interval", d.Training.LogInterval)
	v.SetDefault("training.parallel_workers", d.Training.ParallelWorkers)

	cur := d.Curriculum
	v.SetDefault("adaptive_curriculum.enabled", cur.Enabled)
	v.SetDefault("adaptive_curriculum.warmup.window", cur.Warmup.Window)
	v.SetDefault("adaptive_curriculum.warmup.length_cv_threshold", cur.Warmup.LengthCVThreshold)
	v.SetDefault("adaptive_curriculum.warmup.min_episode_length", cur.Warmup.MinEpisodeLength)
	v.SetDefault("adaptive_curriculum.warmup.sustain", cur.Warmup.Sustain)

	pd := cur.PlateauDetection
	v.SetDefault("adaptive_curriculum.plateau_detection.short_window", pd.ShortWindow)
	v.SetDefault("adaptive_curriculum.plateau_detection.medium_window", pd.MediumWindow)
	v.SetDefault("adaptive_curriculum.plateau_detection.long_window", pd.LongWindow)
	v.SetDefault("adaptive_curriculum.plateau_detection.trend_weight", pd.TrendWeight)
	v.SetDefault("adaptive_curriculum.plateau_detection.stability_weight", pd.StabilityWeight)
	v.SetDefault("adaptive_curriculum.plateau_detection.performance_weight", pd.PerformanceWeight)
	v.SetDefault("adaptive_curriculum.plateau_detection.confidence_threshold", pd.ConfidenceThreshold)
	v.SetDefault("adaptive_curriculum.plateau_detection.stability_window", pd.StabilityWindow)
	v.SetDefault("adaptive_curriculum.plateau_detection.trend_tolerance", pd.TrendTolerance)
	v.SetDefault("adaptive_curriculum.plateau_detection.stability_cv_ref", pd.StabilityCVRef)
	v.SetDefault("adaptive_curriculum.plateau_detection.fallback_window", pd.FallbackWindow)
	v.SetDefault("adaptive_curriculum.plateau_detection.fallback_performance_threshold", pd.FallbackPerformanceThreshold)
	v.SetDefault("adaptive_curriculum.plateau_detection.min_improvement", pd.MinImprovement)

	ev := cur.Evolution
	v.SetDefault("adaptive_curriculum.evolution.partition_start", ev.PartitionStart)
	v.SetDefault("adaptive_curriculum.evolution.partition_step", ev.PartitionStep)
	v.SetDefault("adaptive_curriculum.evolution.partition_max", ev.PartitionMax)
	v.SetDefault("adaptive_curriculum.evolution.weights_start.load_balance", ev.WeightsStart.LoadBalance)
	v.SetDefault("adaptive_curriculum.evolution.weights_start.decoupling", ev.WeightsStart.Decoupling)
	v.SetDefault("adaptive_curriculum.evolution.weights_start.power_balance", ev.WeightsStart.PowerBalance)
	v.SetDefault("adaptive_curriculum.evolution.weights_end.load_balance", ev.WeightsEnd.LoadBalance)
	v.SetDefault("adaptive_curriculum.evolution.weights_end.decoupling", ev.WeightsEnd.Decoupling)
	v.SetDefault("adaptive_curriculum.evolution.weights_end.power_balance", ev.WeightsEnd.PowerBalance)
	v.SetDefault("adaptive_curriculum.evolution.relaxation_start", ev.RelaxationStart)
	v.SetDefault("adaptive_curriculum.evolution.relaxation_step", ev.RelaxationStep)
	v.SetDefault("adaptive_curriculum.evolution.relaxation_max", ev.RelaxationMax)
	v.SetDefault("adaptive_curriculum.evolution.lr_decay_factor", ev.LRDecayFactor)
	v.SetDefault("adaptive_curriculum.evolution.lr_decay_min", ev.LRDecayMin)
	v.SetDefault("adaptive_curriculum.evolution.success_scale_step", ev.SuccessScaleStep)
	v.SetDefault("adaptive_curriculum.evolution.success_scale_min", ev.SuccessScaleMin)
	v.SetDefault("adaptive_curriculum.evolution.max_evolutions", ev.MaxEvolutions)

	sf := cur.Safety
	v.SetDefault("adaptive_curriculum.safety.reward_floor", sf.RewardFloor)
	v.SetDefault("adaptive_curriculum.safety.loss_ceiling", sf.LossCeiling)
	v.SetDefault("adaptive_curriculum.safety.deterioration_fraction", sf.DeteriorationFraction)
	v.SetDefault("adaptive_curriculum.safety.deterioration_window", sf.DeteriorationWindow)
	v.SetDefault("adaptive_curriculum.safety.patience", sf.Patience)

	v.SetDefault("evaluation.scenarios", d.Evaluation.Scenarios)
	v.SetDefault("evaluation.start_index", d.Evaluation.StartIndex)

	v.SetDefault("metrics.sqlite", d.Metrics.SQLite)
	v.SetDefault("metrics.prometheus_addr", d.Metrics.PrometheusAddr)
}
// #endregion set-defaults

func configurationError(op string, err error) error {
	return gzerrors.NewConfigurationError(op, err)
}
