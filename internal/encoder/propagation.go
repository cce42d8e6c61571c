package encoder

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// #region config

// PropagationConfig sizes the local encoder.
type PropagationConfig struct {
	Dim    int    `mapstructure:"dim" yaml:"dim"`
	Layers int    `mapstructure:"layers" yaml:"layers"`
	Seed   uint64 `mapstructure:"seed" yaml:"seed"`
}

// DefaultPropagationConfig returns the local encoder defaults.
func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{Dim: 16, Layers: 2, Seed: 7}
}

// #endregion config

// #region propagation

// Propagation is a fixed-weight message-passing encoder. Each layer mixes a
// bus's state with the admittance-weighted mean of its neighbours' states and
// applies tanh. Weights are drawn once from Seed and never trained, so equal
// inputs always give equal embeddings.
type Propagation struct {
	cfg   PropagationConfig
	wIn   [][]float64 // Dim x NodeFeatures
	bIn   []float64
	wSelf [][][]float64 // Layers x Dim x Dim
	wMsg  [][][]float64
}

// NewPropagation draws the weights.
func NewPropagation(cfg PropagationConfig) (*Propagation, error) {
	if cfg.Dim < 1 {
		return nil, fmt.Errorf("propagation encoder: dim must be positive, got %d", cfg.Dim)
	}
	if cfg.Layers < 0 {
		return nil, fmt.Errorf("propagation encoder: layers must be non-negative, got %d", cfg.Layers)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x656e63))
	p := &Propagation{
		cfg:   cfg,
		wIn:   glorot(rng, cfg.Dim, NodeFeatures),
		bIn:   make([]float64, cfg.Dim),
		wSelf: make([][][]float64, cfg.Layers),
		wMsg:  make([][][]float64, cfg.Layers),
	}
	for l := 0; l < cfg.Layers; l++ {
		p.wSelf[l] = glorot(rng, cfg.Dim, cfg.Dim)
		p.wMsg[l] = glorot(rng, cfg.Dim, cfg.Dim)
	}
	return p, nil
}

// Dim returns the embedding width.
func (p *Propagation) Dim() int { return p.cfg.Dim }

// Encode runs the input projection and Layers rounds of propagation.
func (p *Propagation) Encode(ctx context.Context, g Graph) (Embedding, error) {
	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}
	if err := g.Validate(); err != nil {
		return Embedding{}, fmt.Errorf("propagation encoder: %w", err)
	}
	n := len(g.NodeFeatures)
	d := p.cfg.Dim

	h := make([][]float64, n)
	for i, x := range g.NodeFeatures {
		h[i] = matVec(p.wIn, x)
		floats.Add(h[i], p.bIn)
		tanhInPlace(h[i])
	}

	// Weighted neighbour lists are fixed across layers.
	type link struct {
		to int
		w  float64
	}
	links := make([][]link, n)
	for e, ed := range g.Edges {
		w := g.EdgeFeatures[e][0] + 1e-3
		links[ed[0]] = append(links[ed[0]], link{ed[1], w})
		links[ed[1]] = append(links[ed[1]], link{ed[0], w})
	}

	msg := make([]float64, d)
	for l := 0; l < p.cfg.Layers; l++ {
		next := make([][]float64, n)
		for i := range h {
			for k := range msg {
				msg[k] = 0
			}
			var total float64
			for _, lk := range links[i] {
				floats.AddScaled(msg, lk.w, h[lk.to])
				total += lk.w
			}
			if total > 0 {
				floats.Scale(1/total, msg)
			}
			out := matVec(p.wSelf[l], h[i])
			floats.Add(out, matVec(p.wMsg[l], msg))
			tanhInPlace(out)
			next[i] = out
		}
		h = next
	}

	global := make([]float64, d)
	for i := range h {
		floats.Add(global, h[i])
	}
	if n > 0 {
		floats.Scale(1/float64(n), global)
	}
	return Embedding{Nodes: h, Global: global}, nil
}

// #endregion propagation

func glorot(rng *rand.Rand, rows, cols int) [][]float64 {
	limit := math.Sqrt(6 / float64(rows+cols))
	m := make([][]float64, rows)
	for r := range m {
		m[r] = make([]float64, cols)
		for c := range m[r] {
			m[r][c] = (rng.Float64()*2 - 1) * limit
		}
	}
	return m
}

func matVec(m [][]float64, x []float64) []float64 {
	out := make([]float64, len(m))
	for r, row := range m {
		out[r] = floats.Dot(row, x)
	}
	return out
}

func tanhInPlace(v []float64) {
	for i := range v {
		v[i] = math.Tanh(v[i])
	}
}
