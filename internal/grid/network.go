package grid

import (
	"fmt"
	"math"
)

// #region types

// Bus is a network node. Load and Generation are active power in MW.
type Bus struct {
	ID         int
	Name       string
	Load       float64
	Generation float64
}

// Branch is a transmission line or transformer between two buses.
// Admittance is |1/x| in per-unit; Rating is the thermal limit in MVA (0 = unrated).
type Branch struct {
	From       int
	To         int
	Admittance float64
	Rating     float64
}

// Neighbor is one adjacency entry: the bus on the far side and the branch index.
type Neighbor struct {
	Bus    int
	Branch int
}

// Network is an immutable bus/branch graph. Bus IDs are dense indices 0..N-1.
type Network struct {
	Name     string
	Buses    []Bus
	Branches []Branch

	adj [][]Neighbor
}

// #endregion types

// #region constructor

// NewNetwork validates indices and injections and builds the adjacency lists.
func NewNetwork(name string, buses []Bus, branches []Branch) (*Network, error) {
	for i, b := range buses {
		if b.ID != i {
			return nil, fmt.Errorf("bus %d has id %d: ids must be dense indices", i, b.ID)
		}
		if !finite(b.Load) || !finite(b.Generation) {
			return nil, fmt.Errorf("bus %d has non-finite injection (load %g, generation %g)", i, b.Load, b.Generation)
		}
	}
	n := &Network{
		Name:     name,
		Buses:    append([]Bus(nil), buses...),
		Branches: append([]Branch(nil), branches...),
		adj:      make([][]Neighbor, len(buses)),
	}
	for i, br := range n.Branches {
		if br.From < 0 || br.From >= len(buses) || br.To < 0 || br.To >= len(buses) {
			return nil, fmt.Errorf("branch %d references unknown bus (%d-%d)", i, br.From, br.To)
		}
		if br.From == br.To {
			return nil, fmt.Errorf("branch %d is a self loop on bus %d", i, br.From)
		}
		n.adj[br.From] = append(n.adj[br.From], Neighbor{Bus: br.To, Branch: i})
		n.adj[br.To] = append(n.adj[br.To], Neighbor{Bus: br.From, Branch: i})
	}
	return n, nil
}

// MustNetwork is NewNetwork for static tables; it panics on malformed input.
func MustNetwork(name string, buses []Bus, branches []Branch) *Network {
	n, err := NewNetwork(name, buses, branches)
	if err != nil {
		panic(err)
	}
	return n
}

// #endregion constructor

// #region accessors

// NumBuses returns the bus count.
func (n *Network) NumBuses() int { return len(n.Buses) }

// NumBranches returns the branch count.
func (n *Network) NumBranches() int { return len(n.Branches) }

// Neighbors returns the adjacency list of bus i. Callers must not modify it.
func (n *Network) Neighbors(i int) []Neighbor { return n.adj[i] }

// Degree returns the number of branches incident to bus i.
func (n *Network) Degree(i int) int { return len(n.adj[i]) }

// Capacity returns the branch capacity used for coupling measures:
// the rating when set, otherwise the admittance magnitude.
func (n *Network) Capacity(branch int) float64 {
	br := n.Branches[branch]
	if br.Rating > 0 {
		return br.Rating
	}
	return br.Admittance
}

// TotalCapacity sums Capacity over all branches.
func (n *Network) TotalCapacity() float64 {
	var sum float64
	for i := range n.Branches {
		sum += n.Capacity(i)
	}
	return sum
}

// TotalLoad sums bus loads.
func (n *Network) TotalLoad() float64 {
	var sum float64
	for _, b := range n.Buses {
		sum += b.Load
	}
	return sum
}

// TotalGeneration sums bus generation.
func (n *Network) TotalGeneration() float64 {
	var sum float64
	for _, b := range n.Buses {
		sum += b.Generation
	}
	return sum
}

// MaxDegree returns the largest bus degree (at least 1).
func (n *Network) MaxDegree() int {
	maxDeg := 1
	for i := range n.adj {
		if len(n.adj[i]) > maxDeg {
			maxDeg = len(n.adj[i])
		}
	}
	return maxDeg
}

// #endregion accessors

// #region derive

// Clone returns a deep copy with identical adjacency.
func (n *Network) Clone() *Network {
	adj := make([][]Neighbor, len(n.adj))
	for i, nb := range n.adj {
		adj[i] = append([]Neighbor(nil), nb...)
	}
	return &Network{
		Name:     n.Name,
		Buses:    append([]Bus(nil), n.Buses...),
		Branches: append([]Branch(nil), n.Branches...),
		adj:      adj,
	}
}

// WithoutBranch returns a copy with branch idx removed (an N-1 contingency).
func (n *Network) WithoutBranch(idx int) (*Network, error) {
	if idx < 0 || idx >= len(n.Branches) {
		return nil, fmt.Errorf("branch %d out of range", idx)
	}
	branches := make([]Branch, 0, len(n.Branches)-1)
	branches = append(branches, n.Branches[:idx]...)
	branches = append(branches, n.Branches[idx+1:]...)
	return NewNetwork(n.Name, n.Buses, branches)
}

// Scaled returns a copy with every load multiplied by loadScale[i] and every
// generation by genScale[i]. Nil slices leave the corresponding values unchanged.
// Injections are not revalidated; callers check Finite before use.
func (n *Network) Scaled(loadScale, genScale []float64) *Network {
	c := n.Clone()
	for i := range c.Buses {
		if loadScale != nil {
			c.Buses[i].Load *= loadScale[i]
		}
		if genScale != nil {
			c.Buses[i].Generation *= genScale[i]
		}
	}
	return c
}

// Finite reports whether every bus load and generation is a finite number.
func (n *Network) Finite() bool {
	for _, b := range n.Buses {
		if !finite(b.Load) || !finite(b.Generation) {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion derive
