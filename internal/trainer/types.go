// Package trainer runs the training loop: scenario draw, rollout, metrics,
// safety, curriculum, PPO updates, checkpoints and periodic evaluation, in
// that order for every episode.
package trainer

import (
	"fmt"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	"github.com/danielpatrickdp/gridzone/internal/metrics"
	"github.com/danielpatrickdp/gridzone/internal/replay"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region config

// Config drives one training run.
type Config struct {
	RunID              string
	Seed               uint64
	Episodes           int // total episodes, counting any resumed ones
	UpdateInterval     int
	CheckpointInterval int // 0 disables
	EvalInterval       int // 0 disables
	LogInterval        int
	ParallelWorkers    int
	CurriculumEnabled  bool
	Env                env.Config
	Success            env.SuccessCriteria
}

// DefaultConfig returns a sequential run of 1000 episodes.
func DefaultConfig() Config {
	return Config{
		Episodes:           1000,
		UpdateInterval:     10,
		CheckpointInterval: 100,
		EvalInterval:       100,
		LogInterval:        10,
		ParallelWorkers:    1,
		CurriculumEnabled:  true,
		Env:                env.DefaultConfig(),
		Success:            env.DefaultSuccessCriteria(),
	}
}

func (c Config) validate() error {
	switch {
	case c.Episodes < 0:
		return fmt.Errorf("episodes must be non-negative, got %d", c.Episodes)
	case c.UpdateInterval < 1:
		return fmt.Errorf("update interval must be at least 1, got %d", c.UpdateInterval)
	case c.CheckpointInterval < 0 || c.EvalInterval < 0:
		return fmt.Errorf("checkpoint and eval intervals must be non-negative")
	case c.ParallelWorkers < 1:
		return fmt.Errorf("parallel workers must be at least 1, got %d", c.ParallelWorkers)
	}
	return nil
}

// #endregion config

// #region deps

// Deps are the collaborators a Trainer drives. Store and Evaluator are
// optional; a nil Sink discards records.
type Deps struct {
	Generator  *scenario.Generator
	Encoder    encoder.Encoder
	Agent      *agent.Agent
	Curriculum *curriculum.Controller
	Safety     *curriculum.SafetyMonitor
	Sink       metrics.Sink
	Store      *checkpoint.Store
	Evaluator  *replay.Harness
}

func (d Deps) validate() error {
	var missing []string
	if d.Generator == nil {
		missing = append(missing, "generator")
	}
	if d.Encoder == nil {
		missing = append(missing, "encoder")
	}
	if d.Agent == nil {
		missing = append(missing, "agent")
	}
	if d.Curriculum == nil {
		missing = append(missing, "curriculum")
	}
	if d.Safety == nil {
		missing = append(missing, "safety")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies %v", missing)
	}
	return nil
}

// #endregion deps

// #region summary

// Summary reports a finished (or halted) run.
type Summary struct {
	RunID          string           `json:"run_id"`
	Episodes       int              `json:"episodes"` // next episode index
	Played         int              `json:"played"`   // episodes played by this call
	Skipped        int              `json:"skipped"`  // episodes dropped on a recoverable error
	Successes      int              `json:"successes"`
	Updates        int              `json:"updates"`
	SkippedUpdates int              `json:"skipped_updates"`
	Checkpoints    int              `json:"checkpoints"`
	Stage          curriculum.Stage `json:"stage"`
	LastEval       *replay.Summary  `json:"last_eval,omitempty"`
}

// #endregion summary
