package graph

import (
	"sort"

	"github.com/agentcoord/agentcoord/internal/task"
)

// findCyclic returns every node that belongs to a dependency cycle — the
// union of all strongly connected components with more than one member —
// plus the components themselves, each sorted by id with the groups ordered
// by first member. Tarjan's algorithm, iterative so deep planner graphs
// cannot overflow the goroutine stack. Self-edges are rejected at task
// normalisation, so a single-node SCC is never cyclic here.
func findCyclic(g *Graph) (map[task.ID]bool, [][]task.ID) {
	index := make(map[task.ID]int, len(g.ids))
	lowlink := make(map[task.ID]int, len(g.ids))
	onStack := make(map[task.ID]bool, len(g.ids))
	var stack []task.ID
	next := 0

	cyclic := make(map[task.ID]bool)
	var groups [][]task.ID

	type frame struct {
		id   task.ID
		edge int // next adjacency index to visit
	}

	for _, root := range g.ids {
		if _, seen := index[root]; seen {
			continue
		}
		frames := []frame{{id: root}}
		index[root] = next
		lowlink[root] = next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			deps := g.adjacency[f.id]
			if f.edge < len(deps) {
				dep := deps[f.edge]
				f.edge++
				if _, seen := index[dep]; !seen {
					index[dep] = next
					lowlink[dep] = next
					next++
					stack = append(stack, dep)
					onStack[dep] = true
					frames = append(frames, frame{id: dep})
				} else if onStack[dep] {
					if index[dep] < lowlink[f.id] {
						lowlink[f.id] = index[dep]
					}
				}
				continue
			}

			// All edges of f.id explored; pop its SCC if it is a root.
			if lowlink[f.id] == index[f.id] {
				var scc []task.ID
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					scc = append(scc, top)
					if top == f.id {
						break
					}
				}
				if len(scc) > 1 {
					for _, id := range scc {
						cyclic[id] = true
					}
					task.SortIDs(scc)
					groups = append(groups, scc)
				}
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[f.id] < lowlink[parent.id] {
					lowlink[parent.id] = lowlink[f.id]
				}
			}
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return cyclic, groups
}
