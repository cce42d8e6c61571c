package agent

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
)

// #region decision

// Decision is the action picked for one observation with the quantities PPO
// needs later.
type Decision struct {
	Action   env.Action
	Index    int // position of Action in Features.Actions
	LogProb  float64
	Value    float64
	Entropy  float64
	Features Features
}

// #endregion decision

// #region policy

// Policy scores permitted actions with the actor and the state with the
// critic. A Policy owns its RNG and scratch buffers and is not safe for
// concurrent use; parallel workers each take a Fork.
type Policy struct {
	actor  *MLP
	critic *MLP
	rng    *rand.Rand
	hidden []float64
}

func newPolicy(actor, critic *MLP, rng *rand.Rand) *Policy {
	return &Policy{
		actor:  actor,
		critic: critic,
		rng:    rng,
		hidden: make([]float64, max(actor.Hidden, critic.Hidden)),
	}
}

// Act samples an action from the masked categorical distribution.
func (p *Policy) Act(obs env.Observation, emb encoder.Embedding) (Decision, error) {
	return p.decide(BuildFeatures(obs, emb), true)
}

// Greedy takes the most probable action.
func (p *Policy) Greedy(obs env.Observation, emb encoder.Embedding) (Decision, error) {
	return p.decide(BuildFeatures(obs, emb), false)
}

// Probabilities returns the action distribution over f.Actions.
func (p *Policy) Probabilities(f Features) []float64 {
	logits := make([]float64, len(f.Phi))
	for j, phi := range f.Phi {
		logits[j] = p.actor.Forward(phi, p.hidden[:p.actor.Hidden])
	}
	return softmax(logits)
}

// Value returns the critic estimate for psi.
func (p *Policy) Value(psi []float64) float64 {
	return p.critic.Forward(psi, p.hidden[:p.critic.Hidden])
}

func (p *Policy) decide(f Features, sample bool) (Decision, error) {
	if len(f.Actions) == 0 {
		return Decision{}, fmt.Errorf("policy: no permitted action")
	}
	probs := p.Probabilities(f)
	idx := argmax(probs)
	if sample {
		idx = sampleIndex(p.rng, probs)
	}
	return Decision{
		Action:   f.Actions[idx],
		Index:    idx,
		LogProb:  math.Log(math.Max(probs[idx], 1e-12)),
		Value:    p.Value(f.Psi),
		Entropy:  entropy(probs),
		Features: f,
	}, nil
}

// #endregion policy

// #region distribution

func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	hi := logits[0]
	for _, l := range logits[1:] {
		hi = math.Max(hi, l)
	}
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func entropy(probs []float64) float64 {
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

func sampleIndex(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}

// #endregion distribution
