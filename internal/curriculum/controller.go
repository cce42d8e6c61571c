package curriculum

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/gridzone/internal/logging"
)

// #region decision
// Decision is what one Observe call concluded.
type Decision struct {
	Stage   Stage
	From    Phase
	Changed bool // phase changed
	Evolved bool // parameters evolved
	Reason  string
	Signals logging.TransitionSignals
}

// Mutated reports whether the stage version moved.
func (d Decision) Mutated() bool { return d.Changed || d.Evolved }
// #endregion decision

// #region controller
// Controller owns the curriculum Stage. It is not safe for concurrent use;
// the trainer calls Observe from its single aggregation point and hands out
// Stage values.
type Controller struct {
	cfg Config
	log *slog.Logger

	stage Stage

	lengths  *Window
	scores   *Window
	coupling *Window

	warmupStreak     int
	confidenceStreak int
	phaseEpisodes    int
	baseline         float64
}

// NewController validates cfg and starts in Warmup with the initial params.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scoreCap := cfg.Plateau.LongWindow
	if cfg.Plateau.FallbackWindow > scoreCap {
		scoreCap = cfg.Plateau.FallbackWindow
	}
	return &Controller{
		cfg: cfg,
		log: logging.New("curriculum"),
		stage: Stage{
			Phase:  PhaseWarmup,
			Params: cfg.Evolution.InitialParams(),
		},
		lengths:  NewWindow(cfg.Warmup.Window),
		scores:   NewWindow(scoreCap),
		coupling: NewWindow(cfg.Plateau.MediumWindow),
	}, nil
}

// Stage returns a value snapshot of the current stage.
func (c *Controller) Stage() Stage { return c.stage }

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Observe folds one finished episode into the windows and advances the
// stage machine at most one transition.
func (c *Controller) Observe(o Outcome) Decision {
	score := CompositeScore(o.Metrics)
	c.lengths.Push(float64(o.Length))
	c.scores.Push(score)
	c.coupling.Push(o.Metrics.CouplingRatio)
	c.phaseEpisodes++

	d := Decision{From: c.stage.Phase}
	switch c.stage.Phase {
	case PhaseWarmup:
		c.observeWarmup(o.Episode, &d)
	case PhaseProgressing:
		c.observeProgressing(o.Episode, &d)
	case PhasePlateaued:
		c.observePlateaued(o.Episode, &d)
	case PhaseConverged:
	}
	d.Stage = c.stage

	if d.Mutated() {
		c.log.Info("curriculum decision",
			"episode", o.Episode,
			"from", d.From,
			"to", c.stage.Phase,
			"version", c.stage.Version,
			"evolutions", c.stage.Evolutions,
			"partitions", c.stage.Params.PartitionTarget,
			"relaxation", c.stage.Params.MaskRelaxation,
			"lr_decay", c.stage.Params.LRDecay,
			"reason", d.Reason,
		)
	}
	return d
}

func (c *Controller) observeWarmup(episode int, d *Decision) {
	meanLen, cv := c.lengths.Mean(), c.lengths.CV()
	d.Signals.MeanLength = meanLen
	d.Signals.LengthCV = cv
	if c.lengths.Full() && cv <= c.cfg.Warmup.LengthCVThreshold && meanLen >= c.cfg.Warmup.MinEpisodeLength {
		c.warmupStreak++
	} else {
		c.warmupStreak = 0
	}
	d.Signals.Streak = c.warmupStreak
	if c.warmupStreak < c.cfg.Warmup.Sustain {
		return
	}
	c.evolve(d)
	c.enter(PhaseProgressing, episode, d, fmt.Sprintf("episode length stable: mean %.1f cv %.3f", meanLen, cv))
}

func (c *Controller) observeProgressing(episode int, d *Decision) {
	pc := c.cfg.Plateau
	res := DetectPlateau(c.scores.Values(), c.coupling.Values(), pc)
	if res.Confidence >= pc.ConfidenceThreshold {
		c.confidenceStreak++
	} else {
		c.confidenceStreak = 0
	}

	fallback := false
	if c.phaseEpisodes >= pc.FallbackWindow && c.scores.Len() >= pc.FallbackWindow {
		fallback = mean(c.scores.Last(pc.FallbackWindow)) >= pc.FallbackPerformanceThreshold
	}

	d.Signals.Confidence = res.Confidence
	d.Signals.Trend = res.Trend
	d.Signals.Stability = res.Stability
	d.Signals.Performance = res.Performance
	d.Signals.Streak = c.confidenceStreak
	d.Signals.Fallback = fallback

	// Fallback is checked on its own; it does not feed the confidence score.
	if c.confidenceStreak < pc.StabilityWindow && !fallback {
		return
	}
	reason := fmt.Sprintf("plateau: confidence %.3f sustained %d", res.Confidence, c.confidenceStreak)
	if c.confidenceStreak < pc.StabilityWindow {
		reason = fmt.Sprintf("plateau: fallback performance over %d episodes", pc.FallbackWindow)
	}
	c.declarePlateau(episode, d, reason)
}

func (c *Controller) observePlateaued(episode int, d *Decision) {
	pc := c.cfg.Plateau
	improvement := (mean(c.scores.Last(pc.ShortWindow)) - c.baseline) / math.Max(math.Abs(c.baseline), 1e-8)
	d.Signals.Improvement = improvement

	if improvement > pc.MinImprovement {
		c.enter(PhaseProgressing, episode, d, fmt.Sprintf("improvement %.3f resumed", improvement))
		return
	}
	if c.phaseEpisodes < pc.FallbackWindow {
		return
	}
	if Saturated(c.stage.Params, c.stage.Evolutions, c.cfg.Evolution) {
		c.enter(PhaseConverged, episode, d, "plateau unresolved with parameters saturated")
		return
	}
	c.evolve(d)
	c.phaseEpisodes = 0
	c.baseline = mean(c.scores.Last(pc.MediumWindow))
	d.Reason = fmt.Sprintf("plateau unresolved after %d episodes", pc.FallbackWindow)
}

func (c *Controller) declarePlateau(episode int, d *Decision, reason string) {
	if Saturated(c.stage.Params, c.stage.Evolutions, c.cfg.Evolution) {
		c.enter(PhaseConverged, episode, d, reason+"; parameters saturated")
		return
	}
	c.evolve(d)
	c.baseline = mean(c.scores.Last(c.cfg.Plateau.MediumWindow))
	c.enter(PhasePlateaued, episode, d, reason)
}

func (c *Controller) evolve(d *Decision) {
	c.stage.Evolutions++
	c.stage.Params = Evolve(c.stage.Params, c.stage.Evolutions, c.cfg.Evolution)
	c.stage.Version++
	d.Evolved = true
}

func (c *Controller) enter(p Phase, episode int, d *Decision, reason string) {
	c.stage.Phase = p
	c.stage.EnteredAt = episode
	c.stage.Version++
	c.phaseEpisodes = 0
	c.confidenceStreak = 0
	c.warmupStreak = 0
	d.Changed = true
	d.Reason = reason
}
// #endregion controller

// #region state
// State is the controller's serializable state for checkpoints.
type State struct {
	Stage            Stage     `json:"stage"`
	Lengths          []float64 `json:"lengths"`
	Scores           []float64 `json:"scores"`
	Coupling         []float64 `json:"coupling"`
	WarmupStreak     int       `json:"warmup_streak"`
	ConfidenceStreak int       `json:"confidence_streak"`
	PhaseEpisodes    int       `json:"phase_episodes"`
	Baseline         float64   `json:"baseline"`
}

// State captures the stage, window contents and counters.
func (c *Controller) State() State {
	return State{
		Stage:            c.stage,
		Lengths:          c.lengths.Values(),
		Scores:           c.scores.Values(),
		Coupling:         c.coupling.Values(),
		WarmupStreak:     c.warmupStreak,
		ConfidenceStreak: c.confidenceStreak,
		PhaseEpisodes:    c.phaseEpisodes,
		Baseline:         c.baseline,
	}
}

// Restore replaces the controller state with s.
func (c *Controller) Restore(s State) error {
	switch s.Stage.Phase {
	case PhaseWarmup, PhaseProgressing, PhasePlateaued, PhaseConverged:
	default:
		return fmt.Errorf("restore curriculum: unknown phase %q", s.Stage.Phase)
	}
	c.stage = s.Stage
	refill(c.lengths, s.Lengths)
	refill(c.scores, s.Scores)
	refill(c.coupling, s.Coupling)
	c.warmupStreak = s.WarmupStreak
	c.confidenceStreak = s.ConfidenceStreak
	c.phaseEpisodes = s.PhaseEpisodes
	c.baseline = s.Baseline
	return nil
}

func refill(w *Window, vals []float64) {
	w.Reset()
	for _, v := range vals {
		w.Push(v)
	}
}
// #endregion state

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}
