package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/env"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridzone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, "ieee14", cfg.Network.Case)
	assert.True(t, cfg.Curriculum.Enabled)
	assert.Equal(t, curriculum.DefaultConfig(), cfg.CurriculumConfig())
	assert.Equal(t, curriculum.DefaultSafetyConfig(), cfg.SafetyConfig())
	assert.Equal(t, env.DefaultConfig(), cfg.EnvConfig())
	assert.Equal(t, agent.DefaultConfig(), cfg.AgentConfig())
}

func TestLoadFileDefaultsOnly(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeFile(t, `
run:
  seed: 7
environment:
  reward_mode: legacy
success_criteria:
  cv_threshold: 0.25
encoder:
  remote_timeout: 250ms
agent:
  critic_scheduler:
    warmup_updates: 3
adaptive_curriculum:
  plateau_detection:
    confidence_threshold: 0.8
  evolution:
    weights_end:
      decoupling: 0.6
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), cfg.Run.Seed)
	assert.Equal(t, uint64(7), cfg.AgentConfig().Seed)
	assert.Equal(t, env.ModeLegacy, cfg.EnvConfig().Mode)
	assert.Equal(t, 0.25, cfg.SuccessCriteria.CVThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Encoder.RemoteTimeout)
	assert.Equal(t, 3, cfg.AgentConfig().CriticSched.Warmup)
	assert.Equal(t, 0.8, cfg.CurriculumConfig().Plateau.ConfidenceThreshold)
	assert.Equal(t, 0.6, cfg.CurriculumConfig().Evolution.WeightsEnd.Decoupling)
	// untouched siblings keep their defaults
	assert.Equal(t, Default().Curriculum.Evolution.WeightsEnd.LoadBalance, cfg.Curriculum.Evolution.WeightsEnd.LoadBalance)
	assert.Equal(t, Default().Agent.ActorScheduler, cfg.Agent.ActorScheduler)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GRIDZONE_TRAINING_EPISODES", "42")
	t.Setenv("GRIDZONE_ADAPTIVE_CURRICULUM_SAFETY_PATIENCE", "3")
	t.Setenv("GRIDZONE_NETWORK_CASE", "ieee9")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Training.Episodes)
	assert.Equal(t, 3, cfg.SafetyConfig().Patience)
	assert.Equal(t, "ieee9", cfg.Network.Case)
}

func TestValidationCollectsEveryError(t *testing.T) {
	path := writeFile(t, `
network:
  case: ieee999
agent:
  clip_epsilon: 0
training:
  update_interval: 0
adaptive_curriculum:
  safety:
    patience: 0
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, gzerrors.Is(err, gzerrors.ErrConfiguration))

	var verrs ValidationErrors
	require.True(t, gzerrors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"network.case",
		"agent.clip_epsilon",
		"training.update_interval",
		"adaptive_curriculum.safety.patience",
	} {
		assert.True(t, fields[want], "missing validation error for %s in %v", want, verrs)
	}
	assert.Contains(t, err.Error(), "validation errors")
}

func TestRemoteEncoderRequiresAddress(t *testing.T) {
	cfg := Default()
	cfg.Encoder.Kind = "remote"
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "encoder.remote_addr", errs[0].Field)
}

func TestCurriculumRangeErrorsSurface(t *testing.T) {
	cfg := Default()
	cfg.Curriculum.Evolution.PartitionMax = 1
	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Equal(t, "adaptive_curriculum", errs[0].Field)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, gzerrors.Is(err, gzerrors.ErrConfiguration))
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Run.Seed = 99
	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "adaptive_curriculum:")
	assert.Contains(t, out, "confidence_threshold: 0.75")

	path := writeFile(t, out)
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	var generic map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &generic))
	assert.Contains(t, generic, "success_criteria")
}
