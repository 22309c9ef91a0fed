package pipeline

import (
	"fmt"
	"sort"
)

// topoSort orders stages with Kahn's algorithm over the dependency set.
// Ties are broken by the canonical stage enumeration order so execution is
// deterministic. A cycle is a configuration error.
func topoSort(deps map[Stage][]Stage) ([]Stage, error) {
	indegree := make(map[Stage]int, len(deps))
	dependents := make(map[Stage][]Stage, len(deps))
	for stage := range deps {
		indegree[stage] = 0
	}
	for stage, ds := range deps {
		for _, d := range ds {
			if _, known := indegree[d]; !known {
				return nil, &ConfigError{Msg: fmt.Sprintf("stage %s depends on unknown stage %s", stage, d)}
			}
			indegree[stage]++
			dependents[d] = append(dependents[d], stage)
		}
	}

	var ready []Stage
	for stage, n := range indegree {
		if n == 0 {
			ready = append(ready, stage)
		}
	}

	order := make([]Stage, 0, len(deps))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(deps) {
		return nil, &ConfigError{Msg: "stage dependency cycle detected"}
	}
	return order, nil
}
