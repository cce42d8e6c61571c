package agent

// #region trajectory

// Step is one recorded decision.
type Step struct {
	Phi     [][]float64 // actor rows of every permitted action
	Psi     []float64
	Action  int // index into Phi
	Reward  float64
	LogProb float64
	Value   float64
	Done    bool
}

// Trajectory is the ordered record of one episode.
type Trajectory struct {
	Episode int
	Steps   []Step
}

// Add appends a decision with the reward it earned.
func (t *Trajectory) Add(d Decision, reward float64, done bool) {
	t.Steps = append(t.Steps, Step{
		Phi:     d.Features.Phi,
		Psi:     d.Features.Psi,
		Action:  d.Index,
		Reward:  reward,
		LogProb: d.LogProb,
		Value:   d.Value,
		Done:    done,
	})
}

// Len returns the step count.
func (t *Trajectory) Len() int { return len(t.Steps) }

// Return is the undiscounted reward sum.
func (t *Trajectory) Return() float64 {
	var sum float64
	for _, s := range t.Steps {
		sum += s.Reward
	}
	return sum
}

// gae computes generalised advantage estimates and value targets. The value
// after a terminal step (or after the last recorded step) is zero.
func (t *Trajectory) gae(gamma, lambda float64) (adv, ret []float64) {
	n := len(t.Steps)
	adv = make([]float64, n)
	ret = make([]float64, n)
	var last float64
	for i := n - 1; i >= 0; i-- {
		s := t.Steps[i]
		next := 0.0
		if i+1 < n && !s.Done {
			next = t.Steps[i+1].Value
		}
		if s.Done {
			last = 0
		}
		delta := s.Reward + gamma*next - s.Value
		last = delta + gamma*lambda*last
		adv[i] = last
		ret[i] = last + s.Value
	}
	return adv, ret
}

// #endregion trajectory
