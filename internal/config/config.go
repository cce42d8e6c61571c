// Package config loads the training configuration from YAML files and
// GRIDZONE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/gridzone/internal/env"
)

// EnvPrefix is the environment variable prefix: run.seed is GRIDZONE_RUN_SEED.
const EnvPrefix = "GRIDZONE"

// #region types
// Config is the full run configuration.
type Config struct {
	Run             RunConfig           `mapstructure:"run" yaml:"run"`
	Logging         LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Network         NetworkConfig       `mapstructure:"network" yaml:"network"`
	Scenario        ScenarioConfig      `mapstructure:"scenario" yaml:"scenario"`
	Environment     EnvironmentConfig   `mapstructure:"environment" yaml:"environment"`
	SuccessCriteria env.SuccessCriteria `mapstructure:"success_criteria" yaml:"success_criteria"`
	Encoder         EncoderConfig       `mapstructure:"encoder" yaml:"encoder"`
	Agent           AgentConfig         `mapstructure:"agent" yaml:"agent"`
	Training        TrainingConfig      `mapstructure:"training" yaml:"training"`
	Curriculum      CurriculumConfig    `mapstructure:"adaptive_curriculum" yaml:"adaptive_curriculum"`
	Evaluation      EvaluationConfig    `mapstructure:"evaluation" yaml:"evaluation"`
	Metrics         MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

// RunConfig identifies the run and where it is stored.
type RunConfig struct {
	ID       string `mapstructure:"id" yaml:"id"` // empty: a fresh uuid per run
	Seed     uint64 `mapstructure:"seed" yaml:"seed"`
	Database string `mapstructure:"database" yaml:"database"`
	Resume   bool   `mapstructure:"resume" yaml:"resume"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// NetworkConfig names the base case.
type NetworkConfig struct {
	Case string `mapstructure:"case" yaml:"case"`
}

// ScenarioConfig controls perturbations.
type ScenarioConfig struct {
	PerturbProb float64 `mapstructure:"perturb_prob" yaml:"perturb_prob"`
	ScaleMin    float64 `mapstructure:"scale_min" yaml:"scale_min"`
	ScaleMax    float64 `mapstructure:"scale_max" yaml:"scale_max"`
	MaxRetries  int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// EnvironmentConfig controls the partitioning MDP.
type EnvironmentConfig struct {
	MaxSteps         int    `mapstructure:"max_steps" yaml:"max_steps"`
	MinEpisodeLength int    `mapstructure:"min_episode_length" yaml:"min_episode_length"`
	RelaxationHops   int    `mapstructure:"relaxation_hops" yaml:"relaxation_hops"`
	RewardMode       string `mapstructure:"reward_mode" yaml:"reward_mode"`
}

// EncoderConfig selects the local or remote graph encoder.
type EncoderConfig struct {
	Kind          string        `mapstructure:"kind" yaml:"kind"` // local | remote
	Dim           int           `mapstructure:"dim" yaml:"dim"`
	Layers        int           `mapstructure:"layers" yaml:"layers"`
	Seed          uint64        `mapstructure:"seed" yaml:"seed"`
	RemoteAddr    string        `mapstructure:"remote_addr" yaml:"remote_addr"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout" yaml:"remote_timeout"`
}

// SchedulerConfig is one learning-rate schedule.
type SchedulerConfig struct {
	WarmupUpdates int     `mapstructure:"warmup_updates" yaml:"warmup_updates"`
	TotalUpdates  int     `mapstructure:"total_updates" yaml:"total_updates"`
	MinLRRatio    float64 `mapstructure:"min_lr_ratio" yaml:"min_lr_ratio"`
}

// AgentConfig holds PPO hyperparameters.
type AgentConfig struct {
	Hidden          int             `mapstructure:"hidden" yaml:"hidden"`
	ActorLR         float64         `mapstructure:"actor_lr" yaml:"actor_lr"`
	CriticLR        float64         `mapstructure:"critic_lr" yaml:"critic_lr"`
	Gamma           float64         `mapstructure:"gamma" yaml:"gamma"`
	GAELambda       float64         `mapstructure:"gae_lambda" yaml:"gae_lambda"`
	ClipEpsilon     float64         `mapstructure:"clip_epsilon" yaml:"clip_epsilon"`
	EntropyCoef     float64         `mapstructure:"entropy_coef" yaml:"entropy_coef"`
	ValueCoef       float64         `mapstructure:"value_coef" yaml:"value_coef"`
	KEpochs         int             `mapstructure:"k_epochs" yaml:"k_epochs"`
	MinibatchSize   int             `mapstructure:"minibatch_size" yaml:"minibatch_size"`
	MaxGradNorm     float64         `mapstructure:"max_grad_norm" yaml:"max_grad_norm"`
	TargetKL        float64         `mapstructure:"target_kl" yaml:"target_kl"`
	NaNPatience     int             `mapstructure:"nan_patience" yaml:"nan_patience"`
	ActorScheduler  SchedulerConfig `mapstructure:"actor_scheduler" yaml:"actor_scheduler"`
	CriticScheduler SchedulerConfig `mapstructure:"critic_scheduler" yaml:"critic_scheduler"`
}

// TrainingConfig drives the episode loop.
type TrainingConfig struct {
	Episodes           int `mapstructure:"episodes" yaml:"episodes"`
	UpdateInterval     int `mapstructure:"update_interval" yaml:"update_interval"`
	CheckpointInterval int `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
	EvalInterval       int `mapstructure:"eval_interval" yaml:"eval_interval"`
	LogInterval        int `mapstructure:"log_interval" yaml:"log_interval"`
	ParallelWorkers    int `mapstructure:"parallel_workers" yaml:"parallel_workers"`
}

// WarmupConfig gates the first curriculum transition.
type WarmupConfig struct {
	Window            int     `mapstructure:"window" yaml:"window"`
	LengthCVThreshold float64 `mapstructure:"length_cv_threshold" yaml:"length_cv_threshold"`
	MinEpisodeLength  float64 `mapstructure:"min_episode_length" yaml:"min_episode_length"`
	Sustain           int     `mapstructure:"sustain" yaml:"sustain"`
}

// PlateauConfig drives plateau detection.
type PlateauConfig struct {
	ShortWindow                  int     `mapstructure:"short_window" yaml:"short_window"`
	MediumWindow                 int     `mapstructure:"medium_window" yaml:"medium_window"`
	LongWindow                   int     `mapstructure:"long_window" yaml:"long_window"`
	TrendWeight                  float64 `mapstructure:"trend_weight" yaml:"trend_weight"`
	StabilityWeight              float64 `mapstructure:"stability_weight" yaml:"stability_weight"`
	PerformanceWeight            float64 `mapstructure:"performance_weight" yaml:"performance_weight"`
	ConfidenceThreshold          float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	StabilityWindow              int     `mapstructure:"stability_window" yaml:"stability_window"`
	TrendTolerance               float64 `mapstructure:"trend_tolerance" yaml:"trend_tolerance"`
	StabilityCVRef               float64 `mapstructure:"stability_cv_ref" yaml:"stability_cv_ref"`
	FallbackWindow               int     `mapstructure:"fallback_window" yaml:"fallback_window"`
	FallbackPerformanceThreshold float64 `mapstructure:"fallback_performance_threshold" yaml:"fallback_performance_threshold"`
	MinImprovement               float64 `mapstructure:"min_improvement" yaml:"min_improvement"`
}

// EvolutionConfig bounds stage parameters.
type EvolutionConfig struct {
	PartitionStart   int         `mapstructure:"partition_start" yaml:"partition_start"`
	PartitionStep    int         `mapstructure:"partition_step" yaml:"partition_step"`
	PartitionMax     int         `mapstructure:"partition_max" yaml:"partition_max"`
	WeightsStart     env.Weights `mapstructure:"weights_start" yaml:"weights_start"`
	WeightsEnd       env.Weights `mapstructure:"weights_end" yaml:"weights_end"`
	RelaxationStart  float64     `mapstructure:"relaxation_start" yaml:"relaxation_start"`
	RelaxationStep   float64     `mapstructure:"relaxation_step" yaml:"relaxation_step"`
	RelaxationMax    float64     `mapstructure:"relaxation_max" yaml:"relaxation_max"`
	LRDecayFactor    float64     `mapstructure:"lr_decay_factor" yaml:"lr_decay_factor"`
	LRDecayMin       float64     `mapstructure:"lr_decay_min" yaml:"lr_decay_min"`
	SuccessScaleStep float64     `mapstructure:"success_scale_step" yaml:"success_scale_step"`
	SuccessScaleMin  float64     `mapstructure:"success_scale_min" yaml:"success_scale_min"`
	MaxEvolutions    int         `mapstructure:"max_evolutions" yaml:"max_evolutions"`
}

// SafetyConfig holds the hard training-health limits.
type SafetyConfig struct {
	RewardFloor           float64 `mapstructure:"reward_floor" yaml:"reward_floor"`
	LossCeiling           float64 `mapstructure:"loss_ceiling" yaml:"loss_ceiling"`
	DeteriorationFraction float64 `mapstructure:"deterioration_fraction" yaml:"deterioration_fraction"`
	DeteriorationWindow   int     `mapstructure:"deterioration_window" yaml:"deterioration_window"`
	Patience              int     `mapstructure:"patience" yaml:"patience"`
}

// CurriculumConfig groups the adaptive curriculum settings.
type CurriculumConfig struct {
	Enabled          bool            `mapstructure:"enabled" yaml:"enabled"`
	Warmup           WarmupConfig    `mapstructure:"warmup" yaml:"warmup"`
	PlateauDetection PlateauConfig   `mapstructure:"plateau_detection" yaml:"plateau_detection"`
	Evolution        EvolutionConfig `mapstructure:"evolution" yaml:"evolution"`
	Safety           SafetyConfig    `mapstructure:"safety" yaml:"safety"`
}

// EvaluationConfig controls the deterministic greedy evaluation.
type EvaluationConfig struct {
	Scenarios  int `mapstructure:"scenarios" yaml:"scenarios"`
	StartIndex int `mapstructure:"start_index" yaml:"start_index"`
}

// MetricsConfig selects metric sinks.
type MetricsConfig struct {
	SQLite         bool   `mapstructure:"sqlite" yaml:"sqlite"`
	PrometheusAddr string `mapstructure:"prometheus_addr" yaml:"prometheus_addr"` // empty disables
}
// #endregion types

// #region load
// Load reads the configuration from v into a Config and validates it.
// Validation failures are returned as a ConfigurationError wrapping
// ValidationErrors.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configurationError("unmarshal", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, configurationError("validate", ValidationErrors(errs))
	}
	return &cfg, nil
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFile loads path (YAML) over the defaults. An empty path loads only
// defaults and environment overrides.
func LoadFile(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, configurationError("read "+path, err)
		}
	}
	return Load(v)
}

// Dump renders cfg as YAML.
func Dump(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
// #endregion load
