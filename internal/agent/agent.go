// Package agent implements the actor-critic policy over permitted
// (bus, partition) actions and its PPO update.
package agent

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/logging"
)

// #region config

// Config holds PPO hyperparameters.
type Config struct {
	Hidden        int
	ActorLR       float64
	CriticLR      float64
	Gamma         float64
	Lambda        float64
	ClipEpsilon   float64
	EntropyCoef   float64
	ValueCoef     float64
	Epochs        int
	MinibatchSize int
	MaxGradNorm   float64
	TargetKL      float64 // 0 disables early stopping
	ActorSched    Schedule
	CriticSched   Schedule
	NaNPatience   int
	Seed          uint64
}

// DefaultConfig returns the training defaults.
func DefaultConfig() Config {
	return Config{
		Hidden:        64,
		ActorLR:       3e-4,
		CriticLR:      1e-3,
		Gamma:         0.99,
		Lambda:        0.95,
		ClipEpsilon:   0.2,
		EntropyCoef:   0.01,
		ValueCoef:     0.5,
		Epochs:        4,
		MinibatchSize: 64,
		MaxGradNorm:   0.5,
		TargetKL:      0.02,
		ActorSched:    Schedule{Warmup: 10, Total: 1000, MinRatio: 0.1},
		CriticSched:   Schedule{Warmup: 5, Total: 1000, MinRatio: 0.1},
		NaNPatience:   3,
		Seed:          42,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.Hidden < 1:
		return fmt.Errorf("hidden must be positive, got %d", c.Hidden)
	case c.ActorLR <= 0 || c.CriticLR <= 0:
		return fmt.Errorf("learning rates must be positive")
	case c.Gamma < 0 || c.Gamma > 1 || c.Lambda < 0 || c.Lambda > 1:
		return fmt.Errorf("gamma and lambda must be in [0,1]")
	case c.ClipEpsilon <= 0:
		return fmt.Errorf("clip epsilon must be positive, got %f", c.ClipEpsilon)
	case c.Epochs < 1 || c.MinibatchSize < 1:
		return fmt.Errorf("epochs and minibatch size must be positive")
	case c.ActorSched.MinRatio < 0 || c.ActorSched.MinRatio > 1 || c.CriticSched.MinRatio < 0 || c.CriticSched.MinRatio > 1:
		return fmt.Errorf("min lr ratios must be in [0,1]")
	case c.ActorSched.Warmup < 0 || c.CriticSched.Warmup < 0:
		return fmt.Errorf("warmup updates must be non-negative")
	case c.NaNPatience < 0:
		return fmt.Errorf("nan patience must be non-negative, got %d", c.NaNPatience)
	}
	return nil
}

// #endregion config

// #region agent

// Agent owns the actor and critic, their optimizers and the trajectory
// buffer. It is driven by a single goroutine; parallel rollout uses Fork.
type Agent struct {
	cfg       Config
	embedDim  int
	policy    *Policy
	actorOpt  *Adam
	criticOpt *Adam

	buffer    []Trajectory
	pending   Trajectory
	updates   int
	lrDecay   float64
	nanStreak int

	log *slog.Logger
}

// New builds an agent for embeddings of width embedDim.
func New(cfg Config, embedDim int) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, gzerrors.NewConfigurationError("agent", err)
	}
	if embedDim < 1 {
		return nil, gzerrors.NewConfigurationError("agent", fmt.Errorf("embedding dim must be positive, got %d", embedDim))
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	actor := NewMLP(rng, ActorInputDim(embedDim), cfg.Hidden, 0.01)
	critic := NewMLP(rng, CriticInputDim(embedDim), cfg.Hidden, 1)
	return &Agent{
		cfg:       cfg,
		embedDim:  embedDim,
		policy:    newPolicy(actor, critic, rng),
		actorOpt:  NewAdam(actor.Size()),
		criticOpt: NewAdam(critic.Size()),
		lrDecay:   1,
		log:       logging.New("agent"),
	}, nil
}

// Config returns the agent configuration.
func (a *Agent) Config() Config { return a.cfg }

// Act samples an action for obs.
func (a *Agent) Act(obs env.Observation, emb encoder.Embedding) (Decision, error) {
	return a.policy.Act(obs, emb)
}

// Greedy takes the most probable action for obs.
func (a *Agent) Greedy(obs env.Observation, emb encoder.Embedding) (Decision, error) {
	return a.policy.Greedy(obs, emb)
}

// Observe records a decision and its reward in the current episode.
func (a *Agent) Observe(d Decision, reward float64, done bool) {
	a.pending.Add(d, reward, done)
}

// FinishEpisode moves the current episode into the update buffer and
// returns it.
func (a *Agent) FinishEpisode(episode int) Trajectory {
	tr := a.pending
	tr.Episode = episode
	a.pending = Trajectory{}
	if tr.Len() > 0 {
		a.buffer = append(a.buffer, tr)
	}
	return tr
}

// DiscardEpisode drops the current episode without buffering it.
func (a *Agent) DiscardEpisode() { a.pending = Trajectory{} }

// AddTrajectory appends a trajectory collected by a forked policy.
func (a *Agent) AddTrajectory(tr Trajectory) {
	if tr.Len() > 0 {
		a.buffer = append(a.buffer, tr)
	}
}

// BufferLen returns the number of buffered trajectories.
func (a *Agent) BufferLen() int { return len(a.buffer) }

// Updates returns the number of completed (non-skipped) updates.
func (a *Agent) Updates() int { return a.updates }

// SetLRDecay sets the curriculum learning-rate multiplier.
func (a *Agent) SetLRDecay(d float64) {
	if d > 0 {
		a.lrDecay = d
	}
}

// LearningRates returns the actor and critic rates the next update will use.
func (a *Agent) LearningRates() (actor, critic float64) {
	actor = a.cfg.ActorLR * a.cfg.ActorSched.Factor(a.updates) * a.lrDecay
	critic = a.cfg.CriticLR * a.cfg.CriticSched.Factor(a.updates) * a.lrDecay
	return actor, critic
}

// updateStream keeps update shuffles apart from episode sampling streams.
const updateStream = 1 << 62

// Reseed re-derives the sampling RNG from (Seed, stream). The trainer calls
// it at each episode start so resumed runs replay the same draws.
func (a *Agent) Reseed(stream uint64) {
	a.policy.rng = rand.New(rand.NewPCG(a.cfg.Seed, stream))
}

// Fork returns an independent copy of the current policy with its own RNG
// stream. Later updates do not affect it.
func (a *Agent) Fork(stream uint64) *Policy {
	return newPolicy(a.policy.actor.Clone(), a.policy.critic.Clone(), rand.New(rand.NewPCG(a.cfg.Seed, stream)))
}

// Policy returns the live policy used by Act.
func (a *Agent) Policy() *Policy { return a.policy }

// #endregion agent

// #region update

// UpdateResult summarises one PPO update.
type UpdateResult struct {
	Skipped        bool
	Samples        int
	Minibatches    int
	Epochs         int
	PolicyLoss     float64
	ValueLoss      float64
	Entropy        float64
	TotalLoss      float64
	ApproxKL       float64
	ClipFraction   float64
	ActorGradNorm  float64
	CriticGradNorm float64
	ActorLR        float64
	CriticLR       float64
}

type sample struct {
	step *Step
	adv  float64
	ret  float64
}

// Update runs PPO over the buffered trajectories and clears the buffer. A
// non-finite loss, gradient or parameter restores the pre-update weights and
// optimizer state and returns a NumericInstabilityError, fatal once more than
// NaNPatience consecutive updates were skipped.
func (a *Agent) Update() (UpdateResult, error) {
	if len(a.buffer) == 0 {
		return UpdateResult{Skipped: true}, nil
	}
	snap := a.Snapshot()

	var samples []sample
	for ti := range a.buffer {
		tr := &a.buffer[ti]
		adv, ret := tr.gae(a.cfg.Gamma, a.cfg.Lambda)
		for i := range tr.Steps {
			samples = append(samples, sample{step: &tr.Steps[i], adv: adv[i], ret: ret[i]})
		}
	}
	if len(samples) > 1 {
		advs := make([]float64, len(samples))
		for i, s := range samples {
			advs[i] = s.adv
		}
		mean, std := stat.MeanStdDev(advs, nil)
		for i := range samples {
			samples[i].adv = (samples[i].adv - mean) / (std + 1e-8)
		}
	}

	actor, critic := a.policy.actor, a.policy.critic
	lrA, lrC := a.LearningRates()
	res := UpdateResult{Samples: len(samples), ActorLR: lrA, CriticLR: lrC}

	gA := make([]float64, actor.Size())
	gC := make([]float64, critic.Size())
	hc := make([]float64, critic.Hidden)
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}

	// Minibatch order depends only on (Seed, updates) so sequential,
	// parallel and resumed runs shuffle alike.
	shuffle := rand.New(rand.NewPCG(a.cfg.Seed, updateStream|uint64(a.updates)))

	var count float64
	for epoch := 0; epoch < a.cfg.Epochs; epoch++ {
		shuffle.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		var epochKL float64
		var epochN int

		for start := 0; start < len(idx); start += a.cfg.MinibatchSize {
			batch := idx[start:min(start+a.cfg.MinibatchSize, len(idx))]
			clear(gA)
			clear(gC)
			bs := float64(len(batch))
			var pl, vl, ent, kl, clipped float64

			for _, i := range batch {
				s := samples[i]
				st := s.step

				hiddens := make([][]float64, len(st.Phi))
				logits := make([]float64, len(st.Phi))
				for j, phi := range st.Phi {
					hiddens[j] = make([]float64, actor.Hidden)
					logits[j] = actor.Forward(phi, hiddens[j])
				}
				probs := softmax(logits)
				logp := math.Log(math.Max(probs[st.Action], 1e-12))
				ratio := math.Exp(logp - st.LogProb)
				surr1 := ratio * s.adv
				surr2 := clamp(ratio, 1-a.cfg.ClipEpsilon, 1+a.cfg.ClipEpsilon) * s.adv
				h := entropy(probs)

				pl += -math.Min(surr1, surr2)
				ent += h
				kl += st.LogProb - logp
				if math.Abs(ratio-1) > a.cfg.ClipEpsilon {
					clipped++
				}

				flow := surr1 <= surr2
				for j, pj := range probs {
					var d float64
					if flow {
						ind := 0.0
						if j == st.Action {
							ind = 1
						}
						d = -s.adv * ratio * (ind - pj)
					}
					if pj > 0 {
						d += a.cfg.EntropyCoef * pj * (math.Log(pj) + h)
					}
					if d != 0 {
						actor.Backward(st.Phi[j], hiddens[j], d/bs, gA)
					}
				}

				v := critic.Forward(st.Psi, hc)
				diff := v - s.ret
				vl += diff * diff
				critic.Backward(st.Psi, hc, 2*a.cfg.ValueCoef*diff/bs, gC)
			}

			loss := (pl + a.cfg.ValueCoef*vl - a.cfg.EntropyCoef*ent) / bs
			if !finite(loss) || !allFinite(gA) || !allFinite(gC) {
				return a.skip(snap, "ppo loss")
			}
			res.ActorGradNorm = clipGradNorm(gA, a.cfg.MaxGradNorm)
			res.CriticGradNorm = clipGradNorm(gC, a.cfg.MaxGradNorm)
			a.actorOpt.Step(actor.Params, gA, lrA)
			a.criticOpt.Step(critic.Params, gC, lrC)
			if !allFinite(actor.Params) || !allFinite(critic.Params) {
				return a.skip(snap, "ppo parameters")
			}

			res.PolicyLoss += pl
			res.ValueLoss += vl
			res.Entropy += ent
			res.ClipFraction += clipped
			res.ApproxKL += kl
			res.Minibatches++
			count += bs
			epochKL += kl
			epochN += len(batch)
		}
		res.Epochs++
		if a.cfg.TargetKL > 0 && epochN > 0 && epochKL/float64(epochN) > 1.5*a.cfg.TargetKL {
			a.log.Debug("early stop on kl", "epoch", epoch, "kl", epochKL/float64(epochN))
			break
		}
	}

	if count > 0 {
		res.PolicyLoss /= count
		res.ValueLoss /= count
		res.Entropy /= count
		res.ClipFraction /= count
		res.ApproxKL /= count
	}
	res.TotalLoss = res.PolicyLoss + a.cfg.ValueCoef*res.ValueLoss - a.cfg.EntropyCoef*res.Entropy

	a.buffer = nil
	a.updates++
	a.nanStreak = 0
	return res, nil
}

func (a *Agent) skip(snap Snapshot, where string) (UpdateResult, error) {
	streak := a.nanStreak + 1
	_ = a.Restore(snap)
	a.buffer = nil
	a.nanStreak = streak
	err := &gzerrors.NumericInstabilityError{
		Where:       where,
		Consecutive: streak,
		Patience:    a.cfg.NaNPatience,
		Fatal:       streak > a.cfg.NaNPatience,
	}
	a.log.Warn("update skipped", "where", where, "consecutive", streak, "patience", a.cfg.NaNPatience)
	return UpdateResult{Skipped: true}, err
}

// #endregion update

// #region snapshot

// Snapshot is the serialisable agent state.
type Snapshot struct {
	EmbedDim   int       `json:"embed_dim"`
	Hidden     int       `json:"hidden"`
	Actor      []float64 `json:"actor"`
	Critic     []float64 `json:"critic"`
	ActorAdam  AdamState `json:"actor_adam"`
	CriticAdam AdamState `json:"critic_adam"`
	Updates    int       `json:"updates"`
	LRDecay    float64   `json:"lr_decay"`
	NaNStreak  int       `json:"nan_streak"`
}

// Snapshot copies parameters, optimizer moments and counters.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		EmbedDim:   a.embedDim,
		Hidden:     a.cfg.Hidden,
		Actor:      append([]float64(nil), a.policy.actor.Params...),
		Critic:     append([]float64(nil), a.policy.critic.Params...),
		ActorAdam:  a.actorOpt.State.Clone(),
		CriticAdam: a.criticOpt.State.Clone(),
		Updates:    a.updates,
		LRDecay:    a.lrDecay,
		NaNStreak:  a.nanStreak,
	}
}

// Restore loads a snapshot taken from an agent with the same shape.
func (a *Agent) Restore(s Snapshot) error {
	if s.EmbedDim != a.embedDim || s.Hidden != a.cfg.Hidden {
		return fmt.Errorf("restore: snapshot shape (dim %d, hidden %d) does not match agent (dim %d, hidden %d)",
			s.EmbedDim, s.Hidden, a.embedDim, a.cfg.Hidden)
	}
	if len(s.Actor) != a.policy.actor.Size() || len(s.Critic) != a.policy.critic.Size() {
		return fmt.Errorf("restore: parameter count mismatch")
	}
	if len(s.ActorAdam.M) != len(s.Actor) || len(s.CriticAdam.M) != len(s.Critic) {
		return fmt.Errorf("restore: optimizer state mismatch")
	}
	copy(a.policy.actor.Params, s.Actor)
	copy(a.policy.critic.Params, s.Critic)
	a.actorOpt.State = s.ActorAdam.Clone()
	a.criticOpt.State = s.CriticAdam.Clone()
	a.updates = s.Updates
	a.lrDecay = s.LRDecay
	if a.lrDecay <= 0 {
		a.lrDecay = 1
	}
	a.nanStreak = s.NaNStreak
	return nil
}

// #endregion snapshot

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
