package grid

import (
	"fmt"
	"sort"
)

// #region registry

var cases = map[string]func() *Network{
	"ieee9":  Case9,
	"ieee14": Case14,
}

// Case returns a built-in network by name.
func Case(name string) (*Network, error) {
	build, ok := cases[name]
	if !ok {
		return nil, fmt.Errorf("unknown case %q (available: %v)", name, CaseNames())
	}
	return build(), nil
}

// CaseNames lists the built-in case names in sorted order.
func CaseNames() []string {
	names := make([]string, 0, len(cases))
	for name := range cases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// #endregion registry

// #region ieee14

// Case14 is the IEEE 14-bus test system. Loads and generation are the base
// case dispatch in MW; admittance is 1/x of each branch. The source data has
// no thermal ratings, so coupling capacity falls back to admittance.
func Case14() *Network {
	loads := []float64{0, 21.7, 94.2, 47.8, 7.6, 11.2, 0, 0, 29.5, 9.0, 3.5, 6.1, 13.5, 14.9}
	gens := []float64{232.4, 40.0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	buses := make([]Bus, len(loads))
	for i := range loads {
		buses[i] = Bus{ID: i, Name: fmt.Sprintf("Bus %d", i+1), Load: loads[i], Generation: gens[i]}
	}
	lines := []struct {
		from, to int
		x        float64
	}{
		{1, 2, 0.05917}, {1, 5, 0.22304}, {2, 3, 0.19797}, {2, 4, 0.17632},
		{2, 5, 0.17388}, {3, 4, 0.17103}, {4, 5, 0.04211}, {4, 7, 0.20912},
		{4, 9, 0.55618}, {5, 6, 0.25202}, {6, 11, 0.19890}, {6, 12, 0.25581},
		{6, 13, 0.13027}, {7, 8, 0.17615}, {7, 9, 0.11001}, {9, 10, 0.08450},
		{9, 14, 0.27038}, {10, 11, 0.19207}, {12, 13, 0.19988}, {13, 14, 0.34802},
	}
	branches := make([]Branch, len(lines))
	for i, l := range lines {
		branches[i] = Branch{From: l.from - 1, To: l.to - 1, Admittance: 1 / l.x}
	}
	return MustNetwork("ieee14", buses, branches)
}

// #endregion ieee14

// #region ieee9

// Case9 is the WSCC 9-bus system with its solved generator dispatch.
func Case9() *Network {
	loads := []float64{0, 0, 0, 0, 90, 0, 100, 0, 125}
	gens := []float64{72.3, 163, 85, 0, 0, 0, 0, 0, 0}
	buses := make([]Bus, len(loads))
	for i := range loads {
		buses[i] = Bus{ID: i, Name: fmt.Sprintf("Bus %d", i+1), Load: loads[i], Generation: gens[i]}
	}
	lines := []struct {
		from, to int
		x, rate  float64
	}{
		{1, 4, 0.0576, 250}, {4, 5, 0.092, 250}, {5, 6, 0.17, 150},
		{3, 6, 0.0586, 300}, {6, 7, 0.1008, 150}, {7, 8, 0.072, 250},
		{8, 2, 0.0625, 250}, {8, 9, 0.161, 250}, {9, 4, 0.085, 250},
	}
	branches := make([]Branch, len(lines))
	for i, l := range lines {
		branches[i] = Branch{From: l.from - 1, To: l.to - 1, Admittance: 1 / l.x, Rating: l.rate}
	}
	return MustNetwork("ieee9", buses, branches)
}

// #endregion ieee9
