package dag

import (
	"fmt"

	"github.com/shreyasdbz/axis/core"
)

// validate enforces spec §4.4 step 1: reject self-dependency and reject a
// reference to an unknown step id.
func validate(steps []core.PlanStep) error {
	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return core.NewAxisError("dag.validate", core.KindSelfDep, s.ID, core.ErrSelfDependency)
			}
			if !ids[dep] {
				return core.NewAxisError("dag.validate", core.KindUnknownDep, s.ID, fmt.Errorf("%w: %s depends on unknown step %s", core.ErrUnknownDependency, s.ID, dep))
			}
		}
	}
	return nil
}

// layer computes Kahn topological layers: each layer is the current set of
// zero-in-degree nodes, removed before computing the next layer. If the
// total processed count falls short of len(steps), the residual (in-cycle)
// node ids are returned alongside CYCLE_DETECTED.
func layer(steps []core.PlanStep) ([][]string, error) {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	order := make(map[string]int, len(steps))
	for i, s := range steps {
		inDegree[s.ID] = len(s.DependsOn)
		order[s.ID] = i
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var layers [][]string
	remaining := make(map[string]bool, len(steps))
	for _, s := range steps {
		remaining[s.ID] = true
	}

	processed := 0
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if inDegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			residual := make([]string, 0, len(remaining))
			for id := range remaining {
				residual = append(residual, id)
			}
			sortByOriginalOrder(residual, order)
			return nil, core.NewAxisError("dag.layer", core.KindCycleDetected, joinIDs(residual), fmt.Errorf("%w: %v", core.ErrCycleDetected, residual))
		}
		sortByOriginalOrder(ready, order)
		layers = append(layers, ready)
		for _, id := range ready {
			delete(remaining, id)
			processed++
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
	}
	return layers, nil
}

func sortByOriginalOrder(ids []string, order map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && order[ids[j-1]] > order[ids[j]]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

// reverseDependents builds, for each step id, the list of steps that
// directly depend on it — the map the skip-propagation BFS walks.
func reverseDependents(steps []core.PlanStep) map[string][]string {
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}
	return dependents
}
