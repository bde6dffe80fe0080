package compiler

import (
	"github.com/roach88/garland/internal/ir"
)

// FindUseCycles performs static cycle analysis on chain use references.
//
// A chain may splice another chain in via use:, and the engine flattens
// those references at dispatch time. Flattening cannot terminate on a
// cyclic graph, so unlike most validation this is a hard error, not a
// style complaint.
//
// The algorithm is a three-color DFS:
//   - white: not yet visited
//   - gray:  on the current DFS path
//   - black: fully explored, known cycle-free
//
// Hitting a gray node means the current path loops back into itself; the
// cycle is reported as the path slice from that node back to itself,
// e.g. ["chain-a", "chain-b", "chain-a"].
//
// Chains are visited in declaration order and use lists in written
// order, so the reported cycles are deterministic. Each cycle is
// reported once, from its first discovery.
func FindUseCycles(chains []ir.ChainRule) [][]string {
	graph := make(map[string][]string, len(chains))
	order := make([]string, 0, len(chains))
	for i := range chains {
		if _, seen := graph[chains[i].ID]; !seen {
			order = append(order, chains[i].ID)
		}
		graph[chains[i].ID] = chains[i].Use
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(chains))

	var cycles [][]string
	var path []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		path = append(path, id)

		for _, ref := range graph[id] {
			if _, declared := graph[ref]; !declared {
				// Dangling refs are a separate validation error.
				continue
			}
			switch color[ref] {
			case white:
				visit(ref)
			case gray:
				// Found a back edge: slice the cycle out of the path.
				start := 0
				for i, node := range path {
					if node == ref {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(path)-start+1)
				cycle = append(cycle, path[start:]...)
				cycle = append(cycle, ref)
				cycles = append(cycles, cycle)
			}
		}

		path = path[:len(path)-1]
		color[id] = black
	}

	for _, id := range order {
		if color[id] == white {
			visit(id)
		}
	}

	return cycles
}
