// Package encoder turns a partially partitioned network into per-bus and
// global embeddings. The agent only depends on the Encoder contract; the
// embedding network itself is either the in-process Propagation encoder or a
// remote service reached over gRPC.
package encoder

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/gridzone/internal/env"
)

// #region types

// Node and edge feature layouts.
const (
	NodeFeatures = 5 // pd_norm, pg_norm, degree_norm, assigned, boundary
	EdgeFeatures = 3 // admittance_norm, rating_norm, coupling
)

// Graph is the encoder input: one feature row per bus and per branch, and the
// branch endpoint list aligned with EdgeFeatures.
type Graph struct {
	NodeFeatures [][]float64
	EdgeFeatures [][]float64
	Edges        [][2]int
}

// Embedding is the encoder output. Nodes has one row of length Dim per bus;
// Global has length Dim.
type Embedding struct {
	Nodes  [][]float64
	Global []float64
}

// Encoder maps a Graph to an Embedding.
type Encoder interface {
	Encode(ctx context.Context, g Graph) (Embedding, error)
	Dim() int
}

// #endregion types

// #region graph

// BuildGraph derives encoder features from an observation.
func BuildGraph(obs env.Observation) Graph {
	net := obs.Network
	n := net.NumBuses()

	var maxLoad, maxGen, maxAdm, maxRate float64
	for _, b := range net.Buses {
		maxLoad = max(maxLoad, abs(b.Load))
		maxGen = max(maxGen, abs(b.Generation))
	}
	for _, br := range net.Branches {
		maxAdm = max(maxAdm, abs(br.Admittance))
		maxRate = max(maxRate, br.Rating)
	}
	maxDeg := float64(net.MaxDegree())

	g := Graph{
		NodeFeatures: make([][]float64, n),
		EdgeFeatures: make([][]float64, net.NumBranches()),
		Edges:        make([][2]int, net.NumBranches()),
	}
	for i, b := range net.Buses {
		part := obs.Assignment[i]
		assigned, boundary := 0.0, 0.0
		if part != env.Unassigned {
			assigned = 1
			for _, nb := range net.Neighbors(i) {
				if obs.Assignment[nb.Bus] != part {
					boundary = 1
					break
				}
			}
		}
		g.NodeFeatures[i] = []float64{
			safeDiv(b.Load, maxLoad),
			safeDiv(b.Generation, maxGen),
			float64(net.Degree(i)) / maxDeg,
			assigned,
			boundary,
		}
	}
	for e, br := range net.Branches {
		pf, pt := obs.Assignment[br.From], obs.Assignment[br.To]
		coupling := 0.0
		if pf != env.Unassigned && pt != env.Unassigned && pf != pt {
			coupling = 1
		}
		g.Edges[e] = [2]int{br.From, br.To}
		g.EdgeFeatures[e] = []float64{
			safeDiv(abs(br.Admittance), maxAdm),
			safeDiv(br.Rating, maxRate),
			coupling,
		}
	}
	return g
}

// Validate checks the row widths and edge endpoints.
func (g Graph) Validate() error {
	for i, row := range g.NodeFeatures {
		if len(row) != NodeFeatures {
			return fmt.Errorf("node %d has %d features, want %d", i, len(row), NodeFeatures)
		}
	}
	if len(g.EdgeFeatures) != len(g.Edges) {
		return fmt.Errorf("%d edge feature rows for %d edges", len(g.EdgeFeatures), len(g.Edges))
	}
	for e, ed := range g.Edges {
		if len(g.EdgeFeatures[e]) != EdgeFeatures {
			return fmt.Errorf("edge %d has %d features, want %d", e, len(g.EdgeFeatures[e]), EdgeFeatures)
		}
		if ed[0] < 0 || ed[0] >= len(g.NodeFeatures) || ed[1] < 0 || ed[1] >= len(g.NodeFeatures) {
			return fmt.Errorf("edge %d endpoint out of range: %v", e, ed)
		}
	}
	return nil
}

// #endregion graph

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
