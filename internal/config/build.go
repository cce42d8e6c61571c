package config

import (
	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region component-configs
// ScenarioConfig returns the scenario generator settings.
func (c *Config) ScenarioConfig() scenario.Config {
	return scenario.Config{
		PerturbProb: c.Scenario.PerturbProb,
		ScaleMin:    c.Scenario.ScaleMin,
		ScaleMax:    c.Scenario.ScaleMax,
		MaxRetries:  c.Scenario.MaxRetries,
	}
}

// EnvConfig returns the environment settings. The mode is validated by Load.
func (c *Config) EnvConfig() env.Config {
	mode, _ := env.ParseMode(c.Environment.RewardMode)
	return env.Config{
		MaxSteps:         c.Environment.MaxSteps,
		MinEpisodeLength: c.Environment.MinEpisodeLength,
		RelaxationHops:   c.Environment.RelaxationHops,
		Mode:             mode,
	}
}

// PropagationConfig returns the local encoder settings.
func (c *Config) PropagationConfig() encoder.PropagationConfig {
	return encoder.PropagationConfig{Dim: c.Encoder.Dim, Layers: c.Encoder.Layers, Seed: c.Encoder.Seed}
}

// AgentConfig returns the PPO settings seeded from run.seed.
func (c *Config) AgentConfig() agent.Config {
	a := c.Agent
	return agent.Config{
		Hidden:        a.Hidden,
		ActorLR:       a.ActorLR,
		CriticLR:      a.CriticLR,
		Gamma:         a.Gamma,
		Lambda:        a.GAELambda,
		ClipEpsilon:   a.ClipEpsilon,
		EntropyCoef:   a.EntropyCoef,
		ValueCoef:     a.ValueCoef,
		Epochs:        a.KEpochs,
		MinibatchSize: a.MinibatchSize,
		MaxGradNorm:   a.MaxGradNorm,
		TargetKL:      a.TargetKL,
		ActorSched:    a.ActorScheduler.schedule(),
		CriticSched:   a.CriticScheduler.schedule(),
		NaNPatience:   a.NaNPatience,
		Seed:          c.Run.Seed,
	}
}

func (s SchedulerConfig) schedule() agent.Schedule {
	return agent.Schedule{Warmup: s.WarmupUpdates, Total: s.TotalUpdates, MinRatio: s.MinLRRatio}
}

// CurriculumConfig returns the controller settings.
func (c *Config) CurriculumConfig() curriculum.Config {
	return curriculum.Config{
		Warmup:    curriculum.WarmupConfig(c.Curriculum.Warmup),
		Plateau:   curriculum.PlateauConfig(c.Curriculum.PlateauDetection),
		Evolution: curriculum.EvolutionConfig(c.Curriculum.Evolution),
	}
}

// SafetyConfig returns the safety monitor limits.
func (c *Config) SafetyConfig() curriculum.SafetyConfig {
	return curriculum.SafetyConfig(c.Curriculum.Safety)
}
// #endregion component-configs
