package agent

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// #region adam

// AdamState is the optimizer state for one parameter vector.
type AdamState struct {
	M []float64 `json:"m"`
	V []float64 `json:"v"`
	T int       `json:"t"`
}

// Adam is a standard Adam optimizer with bias correction.
type Adam struct {
	Beta1 float64
	Beta2 float64
	Eps   float64
	State AdamState
}

// NewAdam allocates moments for n parameters.
func NewAdam(n int) *Adam {
	return &Adam{
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		State: AdamState{M: make([]float64, n), V: make([]float64, n)},
	}
}

// Step applies one update with learning rate lr.
func (a *Adam) Step(params, grad []float64, lr float64) {
	a.State.T++
	c1 := 1 - math.Pow(a.Beta1, float64(a.State.T))
	c2 := 1 - math.Pow(a.Beta2, float64(a.State.T))
	m, v := a.State.M, a.State.V
	for i, g := range grad {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		mh := m[i] / c1
		vh := v[i] / c2
		params[i] -= lr * mh / (math.Sqrt(vh) + a.Eps)
	}
}

// Clone returns a deep copy of the state.
func (s AdamState) Clone() AdamState {
	return AdamState{M: append([]float64(nil), s.M...), V: append([]float64(nil), s.V...), T: s.T}
}

// #endregion adam

// #region clipping

// clipGradNorm rescales grad in place so its L2 norm is at most maxNorm and
// returns the norm before clipping. maxNorm <= 0 disables clipping.
func clipGradNorm(grad []float64, maxNorm float64) float64 {
	norm := floats.Norm(grad, 2)
	if maxNorm > 0 && norm > maxNorm {
		floats.Scale(maxNorm/(norm+1e-12), grad)
	}
	return norm
}

// allFinite reports whether every value is finite.
func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// #endregion clipping
