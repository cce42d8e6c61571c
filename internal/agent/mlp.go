package agent

import (
	"math"
	"math/rand/v2"
)

// #region mlp

// MLP is a two-layer tanh network with a scalar output, stored as one flat
// parameter vector: W1 (Hidden x In), b1 (Hidden), w2 (Hidden), b2.
type MLP struct {
	In     int
	Hidden int
	Params []float64
}

// NewMLP draws Glorot-uniform hidden weights. The output layer is scaled by
// outScale so a fresh actor starts close to uniform.
func NewMLP(rng *rand.Rand, in, hidden int, outScale float64) *MLP {
	m := &MLP{In: in, Hidden: hidden, Params: make([]float64, hidden*in+2*hidden+1)}
	limit := math.Sqrt(6 / float64(in+hidden))
	for i := 0; i < hidden*in; i++ {
		m.Params[i] = (rng.Float64()*2 - 1) * limit
	}
	outLimit := math.Sqrt(6/float64(hidden+1)) * outScale
	w2 := m.Params[m.w2Off():m.b2Off()]
	for h := range w2 {
		w2[h] = (rng.Float64()*2 - 1) * outLimit
	}
	return m
}

func (m *MLP) b1Off() int { return m.Hidden * m.In }
func (m *MLP) w2Off() int { return m.Hidden*m.In + m.Hidden }
func (m *MLP) b2Off() int { return m.Hidden*m.In + 2*m.Hidden }

// Size returns the parameter count.
func (m *MLP) Size() int { return len(m.Params) }

// Clone returns a deep copy.
func (m *MLP) Clone() *MLP {
	return &MLP{In: m.In, Hidden: m.Hidden, Params: append([]float64(nil), m.Params...)}
}

// Forward evaluates the network on x. hidden (length Hidden) receives the
// tanh activations needed by Backward.
func (m *MLP) Forward(x, hidden []float64) float64 {
	p := m.Params
	b1 := p[m.b1Off():m.w2Off()]
	w2 := p[m.w2Off():m.b2Off()]
	out := p[m.b2Off()]
	for h := 0; h < m.Hidden; h++ {
		row := p[h*m.In : (h+1)*m.In]
		z := b1[h]
		for i, xi := range x {
			z += row[i] * xi
		}
		a := math.Tanh(z)
		hidden[h] = a
		out += w2[h] * a
	}
	return out
}

// Backward accumulates d(out)/d(params) * dOut into grad.
func (m *MLP) Backward(x, hidden []float64, dOut float64, grad []float64) {
	p := m.Params
	w2 := p[m.w2Off():m.b2Off()]
	gb1 := grad[m.b1Off():m.w2Off()]
	gw2 := grad[m.w2Off():m.b2Off()]
	grad[m.b2Off()] += dOut
	for h := 0; h < m.Hidden; h++ {
		a := hidden[h]
		gw2[h] += dOut * a
		dz := dOut * w2[h] * (1 - a*a)
		if dz == 0 {
			continue
		}
		gb1[h] += dz
		grow := grad[h*m.In : (h+1)*m.In]
		for i, xi := range x {
			grow[i] += dz * xi
		}
	}
}

// #endregion mlp
