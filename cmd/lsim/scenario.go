package main

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/bobg/lattice"
)

// scenario is a simulation described in TOML:
//
//	seed = 1
//	loss = 0.1        # probability a datagram is dropped
//	dup = 0.05        # probability a datagram is duplicated
//	max_delay = "3ms" # datagrams are delayed up to this long
//	window = 8
//	timeout = "30s"
//
//	# Explicit proposals, one list per agreement...
//	[nodes.1]
//	proposals = [[1, 2], [5]]
//
//	# ...or random ones.
//	[nodes.2]
//	random = 2 # agreements
//	values = 3 # per proposal, drawn from [0, 2*values)
type scenario struct {
	Seed     int64                   `toml:"seed"`
	Loss     float64                 `toml:"loss"`
	Dup      float64                 `toml:"dup"`
	MaxDelay time.Duration           `toml:"max_delay"`
	Window   int                     `toml:"window"`
	Timeout  time.Duration           `toml:"timeout"`
	Nodes    map[string]nodeScenario `toml:"nodes"`
}

type nodeScenario struct {
	Proposals [][]int32 `toml:"proposals"`
	Random    int       `toml:"random"`
	Values    int       `toml:"values"`
}

// plan resolves the scenario into each process's proposal list.
func (s *scenario) plan() (map[lattice.ProcessID][]lattice.ValueSet, error) {
	if len(s.Nodes) == 0 {
		return nil, fmt.Errorf("scenario has no nodes")
	}

	names := make([]string, 0, len(s.Nodes))
	for name := range s.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(s.Seed))
	result := make(map[lattice.ProcessID][]lattice.ValueSet)
	for _, name := range names {
		id, err := strconv.ParseUint(name, 10, 16)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("node name %q is not a process id", name)
		}
		ns := s.Nodes[name]

		var sets []lattice.ValueSet
		for _, vals := range ns.Proposals {
			sets = append(sets, lattice.NewValueSet(vals...))
		}
		for i := 0; i < ns.Random; i++ {
			vals := make([]int32, 0, ns.Values)
			for j := 0; j < ns.Values; j++ {
				vals = append(vals, int32(rng.Intn(2*ns.Values)))
			}
			sets = append(sets, lattice.NewValueSet(vals...))
		}
		result[lattice.ProcessID(id)] = sets
	}

	// Agreements are only collected once every process has decided
	// them, so everyone must take part in every one.
	var n int
	for _, sets := range result {
		n = len(sets)
		break
	}
	for id, sets := range result {
		if len(sets) != n {
			return nil, fmt.Errorf("process %d has %d proposals, others %d", id, len(sets), n)
		}
	}
	return result, nil
}

// check tests the decisions of a finished run against the lattice
// agreement properties: every decision contains the decider's own
// proposal and only proposed values, and the decisions for one
// agreement are totally ordered by inclusion.
func check(plan map[lattice.ProcessID][]lattice.ValueSet, decided map[lattice.ProcessID]map[lattice.AgreementID]lattice.ValueSet) []error {
	var errs []error

	proposed := make(map[lattice.AgreementID]lattice.ValueSet)
	for _, sets := range plan {
		for i, vals := range sets {
			a := lattice.AgreementID(i)
			proposed[a] = proposed[a].Union(vals)
		}
	}

	byAgreement := make(map[lattice.AgreementID][]lattice.ValueSet)
	for id, sets := range plan {
		for i, own := range sets {
			a := lattice.AgreementID(i)
			vals, ok := decided[id][a]
			if !ok {
				errs = append(errs, fmt.Errorf("process %d did not decide agreement %d", id, a))
				continue
			}
			if !own.SubsetOf(vals) {
				errs = append(errs, fmt.Errorf("process %d, agreement %d: decided %s lacks own proposal %s", id, a, vals, own))
			}
			if !vals.SubsetOf(proposed[a]) {
				errs = append(errs, fmt.Errorf("process %d, agreement %d: decided %s includes values never proposed", id, a, vals))
			}
			byAgreement[a] = append(byAgreement[a], vals)
		}
	}

	for a, sets := range byAgreement {
		for i := range sets {
			for j := i + 1; j < len(sets); j++ {
				if !sets[i].SubsetOf(sets[j]) && !sets[j].SubsetOf(sets[i]) {
					errs = append(errs, fmt.Errorf("agreement %d: incomparable decisions %s and %s", a, sets[i], sets[j]))
				}
			}
		}
	}
	return errs
}
