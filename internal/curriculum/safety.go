package curriculum

import (
	"fmt"
	"log/slog"
	"math"

	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/logging"
)

// #region safety-config
// SafetyConfig holds the hard training-health limits.
type SafetyConfig struct {
	RewardFloor           float64
	LossCeiling           float64
	DeteriorationFraction float64 // allowed relative drop from the best rolling score
	DeteriorationWindow   int
	Patience              int // consecutive breaching episodes before tripping
}

// DefaultSafetyConfig returns the training defaults.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		RewardFloor:           -1000,
		LossCeiling:           1e6,
		DeteriorationFraction: 0.5,
		DeteriorationWindow:   20,
		Patience:              10,
	}
}

// Validate checks the limits.
func (c SafetyConfig) Validate() error {
	switch {
	case c.Patience < 1:
		return gzerrors.NewConfigurationError("safety", fmt.Errorf("patience %d < 1", c.Patience))
	case c.DeteriorationWindow < 1:
		return gzerrors.NewConfigurationError("safety", fmt.Errorf("deterioration_window %d < 1", c.DeteriorationWindow))
	case c.DeteriorationFraction <= 0:
		return gzerrors.NewConfigurationError("safety", fmt.Errorf("deterioration_fraction %g <= 0", c.DeteriorationFraction))
	case c.LossCeiling <= 0:
		return gzerrors.NewConfigurationError("safety", fmt.Errorf("loss_ceiling %g <= 0", c.LossCeiling))
	}
	return nil
}
// #endregion safety-config

// #region safety-monitor
// SafetySample is the per-episode input to the monitor.
type SafetySample struct {
	Episode int
	Reward  float64
	Loss    float64
	HasLoss bool // Loss is from an update since the previous sample
	Score   float64
}

// SafetyMonitor applies hard vetoes to training health, independent of the
// curriculum stage. Once tripped it stays tripped and reports nothing more.
type SafetyMonitor struct {
	cfg SafetyConfig
	log *slog.Logger

	scores *Window
	best   float64
	seen   bool

	lastLoss float64
	haveLoss bool

	rewardStreak int
	lossStreak   int
	detStreak    int

	tripped *gzerrors.SafetyViolation
}

// NewSafetyMonitor validates cfg.
func NewSafetyMonitor(cfg SafetyConfig) (*SafetyMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SafetyMonitor{
		cfg:    cfg,
		log:    logging.New("safety"),
		scores: NewWindow(cfg.DeteriorationWindow),
	}, nil
}

// Observe records one episode. It returns a *SafetyViolation the first time
// any rule has breached for Patience consecutive episodes, and nil on every
// call after that.
func (m *SafetyMonitor) Observe(s SafetySample) error {
	if m.tripped != nil {
		return nil
	}

	if s.Reward < m.cfg.RewardFloor || math.IsNaN(s.Reward) {
		m.rewardStreak++
	} else {
		m.rewardStreak = 0
	}

	if s.HasLoss {
		m.lastLoss, m.haveLoss = s.Loss, true
	}
	if m.haveLoss && (m.lastLoss > m.cfg.LossCeiling || math.IsNaN(m.lastLoss)) {
		m.lossStreak++
	} else {
		m.lossStreak = 0
	}

	m.scores.Push(s.Score)
	drop := 0.0
	if m.scores.Full() {
		cur := m.scores.Mean()
		if !m.seen || cur > m.best {
			m.best, m.seen = cur, true
		}
		if m.best != 0 {
			drop = (m.best - cur) / math.Abs(m.best)
		}
	}
	if drop > m.cfg.DeteriorationFraction {
		m.detStreak++
	} else {
		m.detStreak = 0
	}

	var v *gzerrors.SafetyViolation
	switch {
	case m.rewardStreak >= m.cfg.Patience:
		v = &gzerrors.SafetyViolation{Kind: gzerrors.SafetyRewardFloor, Value: s.Reward, Threshold: m.cfg.RewardFloor, Duration: m.rewardStreak}
	case m.lossStreak >= m.cfg.Patience:
		v = &gzerrors.SafetyViolation{Kind: gzerrors.SafetyLossCeiling, Value: m.lastLoss, Threshold: m.cfg.LossCeiling, Duration: m.lossStreak}
	case m.detStreak >= m.cfg.Patience:
		v = &gzerrors.SafetyViolation{Kind: gzerrors.SafetyDeterioration, Value: drop, Threshold: m.cfg.DeteriorationFraction, Duration: m.detStreak}
	default:
		return nil
	}
	v.Episode = s.Episode
	m.tripped = v
	m.log.Error("safety violation", "kind", v.Kind, "episode", v.Episode, "value", v.Value, "threshold", v.Threshold, "duration", v.Duration)
	return v
}

// Tripped returns the violation that latched the monitor, or nil.
func (m *SafetyMonitor) Tripped() *gzerrors.SafetyViolation { return m.tripped }
// #endregion safety-monitor

// #region safety-state
// SafetyState is the checkpointed form of a SafetyMonitor.
type SafetyState struct {
	Scores       []float64 `json:"scores"`
	Best         float64   `json:"best"`
	Seen         bool      `json:"seen"`
	LastLoss     float64   `json:"last_loss"`
	HaveLoss     bool      `json:"have_loss"`
	RewardStreak int       `json:"reward_streak"`
	LossStreak   int       `json:"loss_streak"`
	DetStreak    int       `json:"det_streak"`
}

// State captures the score window, best score, last loss and streaks.
func (m *SafetyMonitor) State() SafetyState {
	return SafetyState{
		Scores:       m.scores.Values(),
		Best:         m.best,
		Seen:         m.seen,
		LastLoss:     m.lastLoss,
		HaveLoss:     m.haveLoss,
		RewardStreak: m.rewardStreak,
		LossStreak:   m.lossStreak,
		DetStreak:    m.detStreak,
	}
}

// Restore replaces the monitor state with s and clears any latched violation.
func (m *SafetyMonitor) Restore(s SafetyState) error {
	if s.RewardStreak < 0 || s.LossStreak < 0 || s.DetStreak < 0 {
		return fmt.Errorf("restore safety: negative streak in %+v", s)
	}
	refill(m.scores, s.Scores)
	m.best, m.seen = s.Best, s.Seen
	m.lastLoss, m.haveLoss = s.LastLoss, s.HaveLoss
	m.rewardStreak = s.RewardStreak
	m.lossStreak = s.LossStreak
	m.detStreak = s.DetStreak
	m.tripped = nil
	return nil
}
// #endregion safety-state
