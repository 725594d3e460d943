// Package graph builds the dependency graph over one session's tasks and
// derives the execution levels the scheduler runs. The graph is immutable
// after Build and safe for concurrent readers.
package graph

import (
	"errors"
	"fmt"

	"github.com/agentcoord/agentcoord/internal/task"
)

// ErrUnknownDependency marks a dependency edge pointing at an id outside
// the session's task set. Surfaced before any scheduling happens.
var ErrUnknownDependency = errors.New("unknown dependency")

// Graph holds the dependency relation: an edge a -> b means a depends on b.
type Graph struct {
	adjacency map[task.ID][]task.ID // adjacency[a] = ids a depends on
	reverse   map[task.ID][]task.ID // reverse[b] = ids depending on b
	ids       []task.ID             // all ids, sorted ascending
	cyclic    map[task.ID]bool      // members of any dependency cycle
	cycles    [][]task.ID           // one group per strongly connected component
}

// Build validates the task list and constructs the graph. Duplicate ids
// and edges to unknown ids are hard errors; cycles are not (they are
// reported via Cyclic and excluded from levels).
func Build(tasks []*task.Task) (*Graph, error) {
	g := &Graph{
		adjacency: make(map[task.ID][]task.ID, len(tasks)),
		reverse:   make(map[task.ID][]task.ID, len(tasks)),
		ids:       make([]task.ID, 0, len(tasks)),
	}
	for _, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("task list contains nil task")
		}
		if _, dup := g.adjacency[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id: %s", t.ID)
		}
		g.adjacency[t.ID] = nil
		g.reverse[t.ID] = nil
		g.ids = append(g.ids, t.ID)
	}
	task.SortIDs(g.ids)

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := g.adjacency[dep]; !ok {
				return nil, fmt.Errorf("task %s: %w: %s", t.ID, ErrUnknownDependency, dep)
			}
			g.adjacency[t.ID] = append(g.adjacency[t.ID], dep)
			g.reverse[dep] = append(g.reverse[dep], t.ID)
		}
	}
	for id := range g.adjacency {
		task.SortIDs(g.adjacency[id])
	}
	for id := range g.reverse {
		task.SortIDs(g.reverse[id])
	}

	g.cyclic, g.cycles = findCyclic(g)
	return g, nil
}

// IDs returns every task id, sorted ascending. Callers must not mutate.
func (g *Graph) IDs() []task.ID { return g.ids }

// Dependencies returns the ids the given task depends on, sorted ascending.
func (g *Graph) Dependencies(id task.ID) []task.ID { return g.adjacency[id] }

// Dependents returns the ids that depend on the given task, sorted ascending.
func (g *Graph) Dependents(id task.ID) []task.ID { return g.reverse[id] }

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id task.ID) bool {
	_, ok := g.adjacency[id]
	return ok
}

// IsCyclic reports whether id participates in a dependency cycle.
func (g *Graph) IsCyclic(id task.ID) bool { return g.cyclic[id] }

// Cyclic returns the members of all dependency cycles, sorted ascending.
// Empty iff the graph is acyclic.
func (g *Graph) Cyclic() []task.ID {
	out := make([]task.ID, 0, len(g.cyclic))
	for id := range g.cyclic {
		out = append(out, id)
	}
	task.SortIDs(out)
	return out
}

// Cycles returns each dependency cycle as its full strongly connected
// component: members sorted ascending, groups ordered by first member.
func (g *Graph) Cycles() [][]task.ID { return g.cycles }

// TransitiveDependents returns every id reachable from start through the
// reverse adjacency, excluding start itself, sorted ascending. The
// scheduler uses this to block the downstream set of a failed task.
func (g *Graph) TransitiveDependents(start task.ID) []task.ID {
	seen := map[task.ID]bool{start: true}
	queue := append([]task.ID(nil), g.reverse[start]...)
	var out []task.ID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		queue = append(queue, g.reverse[id]...)
	}
	task.SortIDs(out)
	return out
}
