package env

import "math"

// #region mask

// ActionMask is the boolean (bus, partition) matrix of permitted actions.
type ActionMask struct {
	Buses      int
	Partitions int
	allowed    []bool
}

// Allowed reports whether placing bus b in partition p is permitted.
func (m ActionMask) Allowed(b, p int) bool {
	if b < 0 || b >= m.Buses || p < 0 || p >= m.Partitions {
		return false
	}
	return m.allowed[b*m.Partitions+p]
}

// Count returns the number of permitted actions.
func (m ActionMask) Count() int {
	n := 0
	for _, ok := range m.allowed {
		if ok {
			n++
		}
	}
	return n
}

// Any reports whether at least one action is permitted.
func (m ActionMask) Any() bool {
	for _, ok := range m.allowed {
		if ok {
			return true
		}
	}
	return false
}

// Actions lists permitted actions in (bus, partition) order.
func (m ActionMask) Actions() []Action {
	out := make([]Action, 0, m.Count())
	for i, ok := range m.allowed {
		if ok {
			out = append(out, Action{Bus: i / m.Partitions, Partition: i % m.Partitions})
		}
	}
	return out
}

// reachDepth is the hop budget from a partition's members: 1 (adjacency) plus
// the relaxation share of the configured extra hops.
func reachDepth(relaxation float64, hops int) int {
	if relaxation <= 0 {
		return 1
	}
	return 1 + int(math.Floor(relaxation*float64(hops)))
}

// computeMask derives the mask from the state. A bus must be unassigned; a
// partition must be empty or within reach of the bus. Once the unassigned
// buses no longer outnumber the empty partitions, only empty partitions are
// offered so that every partition ends non-empty.
func computeMask(s *PartitionState, relaxation float64, hops int) ActionMask {
	nb := len(s.assignment)
	m := ActionMask{Buses: nb, Partitions: s.k, allowed: make([]bool, nb*s.k)}

	empty := s.Empty()
	onlyEmpty := s.Unassigned() <= empty
	depth := reachDepth(relaxation, hops)

	for p := 0; p < s.k; p++ {
		if s.size[p] == 0 {
			for b := 0; b < nb; b++ {
				if s.assignment[b] == Unassigned {
					m.allowed[b*s.k+p] = true
				}
			}
			continue
		}
		if onlyEmpty {
			continue
		}
		dist := s.net.HopDistances(s.Members(p), depth)
		for b := 0; b < nb; b++ {
			if s.assignment[b] != Unassigned {
				continue
			}
			if d := dist[b]; d >= 1 && d <= depth {
				m.allowed[b*s.k+p] = true
			}
		}
	}
	return m
}

// #endregion mask
