package env

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/gridzone/internal/grid"
)

// #region state

// PartitionState maps each bus to a partition id (or Unassigned) and caches
// per-partition aggregates and the coupling edge set. Assign is the only
// mutator; every bus holds exactly one id at all times.
type PartitionState struct {
	net        *grid.Network
	k          int
	assignment []int
	load       []float64
	gen        []float64
	size       []int
	coupling   []bool // per branch: endpoints assigned to different partitions
	couplingN  int
	couplingC  float64
	assigned   int
	step       int
}

// NewPartitionState returns an empty state over net with k partitions.
func NewPartitionState(net *grid.Network, k int) *PartitionState {
	s := &PartitionState{
		net:        net,
		k:          k,
		assignment: make([]int, net.NumBuses()),
		load:       make([]float64, k),
		gen:        make([]float64, k),
		size:       make([]int, k),
		coupling:   make([]bool, net.NumBranches()),
	}
	for i := range s.assignment {
		s.assignment[i] = Unassigned
	}
	return s
}

// Step returns the number of actions applied.
func (s *PartitionState) Step() int { return s.step }

func (s *PartitionState) stepInc() { s.step++ }

// Of returns the partition of bus b.
func (s *PartitionState) Of(b int) int { return s.assignment[b] }

// Assigned returns the number of assigned buses.
func (s *PartitionState) Assigned() int { return s.assigned }

// Unassigned returns the number of unassigned buses.
func (s *PartitionState) Unassigned() int { return len(s.assignment) - s.assigned }

// Complete reports whether every bus is assigned.
func (s *PartitionState) Complete() bool { return s.assigned == len(s.assignment) }

// Size returns the member count of partition p.
func (s *PartitionState) Size(p int) int { return s.size[p] }

// Empty counts partitions with no members.
func (s *PartitionState) Empty() int {
	n := 0
	for _, c := range s.size {
		if c == 0 {
			n++
		}
	}
	return n
}

// Members returns the buses of partition p in index order.
func (s *PartitionState) Members(p int) []int {
	out := make([]int, 0, s.size[p])
	for b, q := range s.assignment {
		if q == p {
			out = append(out, b)
		}
	}
	return out
}

// Assignment returns a copy of the bus → partition mapping.
func (s *PartitionState) Assignment() []int {
	return append([]int(nil), s.assignment...)
}

// Assign places unassigned bus b in partition p and updates the caches.
// Callers validate the action against the mask first.
func (s *PartitionState) Assign(b, p int) {
	s.assignment[b] = p
	s.assigned++
	s.size[p]++
	s.load[p] += s.net.Buses[b].Load
	s.gen[p] += s.net.Buses[b].Generation
	for _, nb := range s.net.Neighbors(b) {
		q := s.assignment[nb.Bus]
		if q == Unassigned || q == p || s.coupling[nb.Branch] {
			continue
		}
		s.coupling[nb.Branch] = true
		s.couplingN++
		s.couplingC += s.net.Capacity(nb.Branch)
	}
}

// #endregion state

// #region metrics

// Metrics computes partition quality from the cached aggregates.
func (s *PartitionState) Metrics() PartitionMetrics {
	m := PartitionMetrics{
		CouplingEdges: s.couplingN,
		Assigned:      s.assigned,
	}

	loads := make([]float64, 0, s.k)
	var mismatch float64
	for p := 0; p < s.k; p++ {
		if s.size[p] == 0 {
			continue
		}
		loads = append(loads, s.load[p])
		mismatch += math.Abs(s.gen[p] - s.load[p])
	}
	m.NonEmpty = len(loads)
	m.LoadCV = coefficientOfVariation(loads)

	if total := s.net.TotalCapacity(); total > 0 {
		m.CouplingRatio = s.couplingC / total
	}
	if denom := s.net.TotalLoad() + s.net.TotalGeneration(); denom > 0 {
		m.MismatchRatio = math.Min(mismatch/denom, 1)
	}

	if m.NonEmpty > 0 {
		connected := 0
		for p := 0; p < s.k; p++ {
			if s.size[p] == 0 {
				continue
			}
			if s.net.InducedConnected(s.Members(p)) {
				connected++
			}
		}
		m.Connectivity = float64(connected) / float64(m.NonEmpty)
	}
	return m
}

// coefficientOfVariation is the population std over the mean; zero when the
// mean is zero or fewer than two values are present.
func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	if mean == 0 {
		return 0
	}
	return std / math.Abs(mean)
}

// #endregion metrics
