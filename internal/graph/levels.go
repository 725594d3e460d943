package graph

import "github.com/agentcoord/agentcoord/internal/task"

// Levels partitions the schedulable tasks into execution waves: Levels[k]
// holds every id whose longest dependency chain has length k, so all tasks
// within one level are mutually independent.
type Levels struct {
	Levels        [][]task.ID
	Unschedulable []task.ID // cycle members plus anything depending on them
}

// Level returns the index of the level containing id, or -1 when id is
// unschedulable or unknown.
func (l Levels) Level(id task.ID) int {
	for k, level := range l.Levels {
		for _, candidate := range level {
			if candidate == id {
				return k
			}
		}
	}
	return -1
}

// Levels computes the execution levels Kahn-style. Cycle members keep
// their dependents' in-degrees from ever reaching zero, so the dependents
// are never placed; both end up in Unschedulable. Each level is sorted by
// id ascending so scheduling order is stable across runs.
func (g *Graph) Levels() Levels {
	inDegree := make(map[task.ID]int, len(g.ids))
	for _, id := range g.ids {
		if g.cyclic[id] {
			continue
		}
		inDegree[id] = len(g.adjacency[id])
	}

	var current []task.ID
	for id, deg := range inDegree {
		if deg == 0 {
			current = append(current, id)
		}
	}
	task.SortIDs(current)

	placed := make(map[task.ID]bool, len(g.ids))
	var levels [][]task.ID
	for len(current) > 0 {
		level := current
		levels = append(levels, level)
		var next []task.ID
		for _, id := range level {
			placed[id] = true
			for _, dependent := range g.reverse[id] {
				if _, schedulable := inDegree[dependent]; !schedulable {
					continue
				}
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		task.SortIDs(next)
		current = next
	}

	var unschedulable []task.ID
	for _, id := range g.ids {
		if g.cyclic[id] || !placed[id] {
			unschedulable = append(unschedulable, id)
		}
	}
	task.SortIDs(unschedulable)

	return Levels{Levels: levels, Unschedulable: unschedulable}
}
