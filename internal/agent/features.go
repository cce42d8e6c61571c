package agent

import (
	"math"

	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/env"
)

// #region features

// Scalar features appended after the embeddings.
const (
	actionExtras = 4 // bus load share, partition load share, empty, adjacent
	criticExtras = 4 // assigned fraction, step fraction, load CV, coupling ratio
)

// ActorInputDim is the action feature width for embedding width dim.
func ActorInputDim(dim int) int { return 2*dim + actionExtras }

// CriticInputDim is the critic feature width for embedding width dim.
func CriticInputDim(dim int) int { return dim + criticExtras }

// Features holds the inputs for one decision: one actor row per permitted
// action, aligned with Actions, and the critic row.
type Features struct {
	Actions []env.Action
	Phi     [][]float64
	Psi     []float64
}

// BuildFeatures derives actor and critic inputs from the observation and its
// embedding. Only permitted actions get a row.
func BuildFeatures(obs env.Observation, emb encoder.Embedding) Features {
	net := obs.Network
	dim := len(emb.Global)
	k := obs.Partitions

	partMean := make([][]float64, k)
	for p := range partMean {
		partMean[p] = make([]float64, dim)
	}
	for b, p := range obs.Assignment {
		if p == env.Unassigned {
			continue
		}
		for d, v := range emb.Nodes[b] {
			partMean[p][d] += v
		}
	}
	for p := range partMean {
		if n := obs.PartitionSize[p]; n > 0 {
			for d := range partMean[p] {
				partMean[p][d] /= float64(n)
			}
		}
	}

	totalLoad := net.TotalLoad()
	share := func(v float64) float64 {
		if totalLoad == 0 {
			return 0
		}
		return v / totalLoad
	}

	actions := obs.Mask.Actions()
	f := Features{Actions: actions, Phi: make([][]float64, len(actions))}
	for i, a := range actions {
		row := make([]float64, 0, ActorInputDim(dim))
		row = append(row, emb.Nodes[a.Bus]...)
		row = append(row, partMean[a.Partition]...)
		empty, adjacent := 0.0, 0.0
		if obs.PartitionSize[a.Partition] == 0 {
			empty = 1
		}
		for _, nb := range net.Neighbors(a.Bus) {
			if obs.Assignment[nb.Bus] == a.Partition {
				adjacent = 1
				break
			}
		}
		row = append(row,
			share(net.Buses[a.Bus].Load),
			share(obs.PartitionLoad[a.Partition]),
			empty,
			adjacent,
		)
		f.Phi[i] = row
	}

	f.Psi = make([]float64, 0, CriticInputDim(dim))
	f.Psi = append(f.Psi, emb.Global...)
	stepFrac := 0.0
	if obs.MaxSteps > 0 {
		stepFrac = float64(obs.Step) / float64(obs.MaxSteps)
	}
	f.Psi = append(f.Psi,
		float64(obs.Metrics.Assigned)/float64(net.NumBuses()),
		stepFrac,
		math.Min(obs.Metrics.LoadCV, 1),
		obs.Metrics.CouplingRatio,
	)
	return f
}

// #endregion features
