package grid

// #region components

// Components returns the connected components of the network in order of
// their lowest bus index.
func (n *Network) Components() [][]int {
	seen := make([]bool, n.NumBuses())
	var comps [][]int
	for start := range seen {
		if seen[start] {
			continue
		}
		comp := []int{start}
		seen[start] = true
		queue := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range n.adj[cur] {
				if seen[nb.Bus] {
					continue
				}
				seen[nb.Bus] = true
				comp = append(comp, nb.Bus)
				queue = append(queue, nb.Bus)
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

// IsConnected reports whether every bus is reachable from bus 0.
func (n *Network) IsConnected() bool {
	if n.NumBuses() == 0 {
		return false
	}
	return len(n.Components()) == 1
}

// IsolatedBuses returns buses with no incident branch.
func (n *Network) IsolatedBuses() []int {
	var out []int
	for i := range n.adj {
		if len(n.adj[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// #endregion components

// #region hops

// HopDistances runs a BFS from the given sources and returns the hop count to
// every bus; unreachable buses get -1. maxDepth <= 0 means unbounded.
func (n *Network) HopDistances(sources []int, maxDepth int) []int {
	dist := make([]int, n.NumBuses())
	for i := range dist {
		dist[i] = -1
	}
	queue := make([]int, 0, len(sources))
	for _, s := range sources {
		if dist[s] == 0 {
			continue
		}
		dist[s] = 0
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && dist[cur] >= maxDepth {
			continue
		}
		for _, nb := range n.adj[cur] {
			if dist[nb.Bus] >= 0 {
				continue
			}
			dist[nb.Bus] = dist[cur] + 1
			queue = append(queue, nb.Bus)
		}
	}
	return dist
}

// InducedConnected reports whether the buses in members form a connected
// subgraph using only branches whose endpoints are both members.
func (n *Network) InducedConnected(members []int) bool {
	if len(members) <= 1 {
		return true
	}
	in := make(map[int]bool, len(members))
	for _, m := range members {
		in[m] = true
	}
	seen := map[int]bool{members[0]: true}
	queue := []int{members[0]}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range n.adj[cur] {
			if !in[nb.Bus] || seen[nb.Bus] {
				continue
			}
			seen[nb.Bus] = true
			queue = append(queue, nb.Bus)
		}
	}
	return len(seen) == len(members)
}

// #endregion hops
