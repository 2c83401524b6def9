// Package schedule turns a validated composition graph into an ordered
// sequence of waves. Each wave is the set of nodes whose upstream
// dependencies all sit in earlier waves; nodes within a wave may run
// concurrently but are never required to.
package schedule

import (
	"fmt"
	"sort"

	"github.com/vk/querygrid/internal/composition"
)

// Waves computes the wave sequence with standard in-degree-zero extraction
// (Kahn's algorithm). Within a wave, nodes are ordered by ID so the output
// is stable and deterministic. An error here means a cycle survived
// validation, which the validator must prevent.
func Waves(g *composition.Graph) ([][]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	// Parallel edges between the same pair count once: a dependency is
	// satisfied by the upstream node, not by each mapping edge.
	type pair struct{ from, to string }
	seen := make(map[pair]bool)
	successors := make(map[string][]string)
	for _, e := range g.Edges {
		p := pair{from: e.From, to: e.To}
		if seen[p] {
			continue
		}
		seen[p] = true
		indegree[e.To]++
		successors[e.From] = append(successors[e.From], e.To)
	}

	var waves [][]string
	remaining := len(g.Nodes)
	for remaining > 0 {
		var wave []string
		for id, deg := range indegree {
			if deg == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("no ready nodes with %d remaining: graph contains a cycle", remaining)
		}
		sort.Strings(wave)
		for _, id := range wave {
			delete(indegree, id)
			for _, succ := range successors[id] {
				indegree[succ]--
			}
		}
		remaining -= len(wave)
		waves = append(waves, wave)
	}
	return waves, nil
}
