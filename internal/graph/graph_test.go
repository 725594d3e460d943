package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/agentcoord/agentcoord/internal/task"
)

func mustBuild(t *testing.T, tasks ...*task.Task) *Graph {
	t.Helper()
	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func tk(id task.ID, deps ...task.ID) *task.Task {
	return &task.Task{ID: id, Title: string(id), Dependencies: deps, MaxAttempts: 1}
}

func TestBuild_AdjacencyAndReverseAreTransposes(t *testing.T) {
	g := mustBuild(t,
		tk("a"),
		tk("b", "a"),
		tk("c", "a", "b"),
		tk("d", "b"),
		tk("e"),
	)

	// Every forward edge has the matching reverse edge and vice versa.
	forward := map[[2]task.ID]bool{}
	for _, id := range g.IDs() {
		for _, dep := range g.Dependencies(id) {
			forward[[2]task.ID{id, dep}] = true
		}
	}
	reverseCount := 0
	for _, id := range g.IDs() {
		for _, dependent := range g.Dependents(id) {
			reverseCount++
			if !forward[[2]task.ID{dependent, id}] {
				t.Fatalf("reverse edge %s<-%s has no forward edge", id, dependent)
			}
		}
	}
	if reverseCount != len(forward) {
		t.Fatalf("edge counts differ: forward=%d reverse=%d", len(forward), reverseCount)
	}
}

func TestBuild_UnknownDependencyIsHardError(t *testing.T) {
	_, err := Build([]*task.Task{tk("a", "ghost")})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestBuild_DuplicateIDIsHardError(t *testing.T) {
	_, err := Build([]*task.Task{tk("a"), tk("a")})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestLevels_Diamond(t *testing.T) {
	g := mustBuild(t,
		tk("A"),
		tk("B", "A"),
		tk("C", "A"),
		tk("D", "B", "C"),
	)
	if got := g.Cyclic(); len(got) != 0 {
		t.Fatalf("diamond reported cyclic ids: %v", got)
	}

	lv := g.Levels()
	want := [][]task.ID{{"A"}, {"B", "C"}, {"D"}}
	if !reflect.DeepEqual(lv.Levels, want) {
		t.Fatalf("levels: got %v want %v", lv.Levels, want)
	}
	if len(lv.Unschedulable) != 0 {
		t.Fatalf("unschedulable: got %v want empty", lv.Unschedulable)
	}
}

func TestLevels_ConcatenationIsTopologicalOrder(t *testing.T) {
	g := mustBuild(t,
		tk("a"),
		tk("b", "a"),
		tk("c", "a"),
		tk("d", "b", "c"),
		tk("e", "d"),
		tk("f", "a", "e"),
		tk("g"),
	)
	lv := g.Levels()

	pos := map[task.ID]int{}
	i := 0
	for _, level := range lv.Levels {
		for _, id := range level {
			pos[id] = i
			i++
		}
	}
	if i != len(g.IDs()) {
		t.Fatalf("placed %d of %d tasks", i, len(g.IDs()))
	}
	for _, id := range g.IDs() {
		for _, dep := range g.Dependencies(id) {
			if pos[dep] >= pos[id] {
				t.Fatalf("dependency %s not before %s in level order", dep, id)
			}
		}
	}
}

func TestLevels_LongestChainPlacement(t *testing.T) {
	// e depends on both a root and a depth-2 node: its level is the longest
	// chain (3), not the shortest.
	g := mustBuild(t,
		tk("a"),
		tk("b", "a"),
		tk("c", "b"),
		tk("e", "a", "c"),
	)
	lv := g.Levels()
	if got := lv.Level("e"); got != 3 {
		t.Fatalf("level(e): got %d want 3", got)
	}
}

func TestCyclic_TwoNodeCycle(t *testing.T) {
	g := mustBuild(t, tk("A", "B"), tk("B", "A"))

	want := []task.ID{"A", "B"}
	if got := g.Cyclic(); !reflect.DeepEqual(got, want) {
		t.Fatalf("cyclic: got %v want %v", got, want)
	}
	lv := g.Levels()
	if len(lv.Levels) != 0 {
		t.Fatalf("levels for pure cycle: got %v want none", lv.Levels)
	}
	if !reflect.DeepEqual(lv.Unschedulable, want) {
		t.Fatalf("unschedulable: got %v want %v", lv.Unschedulable, want)
	}
}

func TestCyclic_MarksWholeComponentAndOnlyIt(t *testing.T) {
	// a -> b -> c -> a is one cycle; d hangs off it; e is independent.
	g := mustBuild(t,
		tk("a", "b"),
		tk("b", "c"),
		tk("c", "a"),
		tk("d", "c"),
		tk("e"),
	)

	want := []task.ID{"a", "b", "c"}
	if got := g.Cyclic(); !reflect.DeepEqual(got, want) {
		t.Fatalf("cyclic: got %v want %v", got, want)
	}
	for _, id := range []task.ID{"d", "e"} {
		if g.IsCyclic(id) {
			t.Fatalf("%s incorrectly marked cyclic", id)
		}
	}

	// d depends on the cycle so it is unschedulable but not cyclic.
	lv := g.Levels()
	if !reflect.DeepEqual(lv.Unschedulable, []task.ID{"a", "b", "c", "d"}) {
		t.Fatalf("unschedulable: got %v", lv.Unschedulable)
	}
	if !reflect.DeepEqual(lv.Levels, [][]task.ID{{"e"}}) {
		t.Fatalf("levels: got %v want [[e]]", lv.Levels)
	}
}

func TestCycles_GroupsEachComponent(t *testing.T) {
	// Two disjoint cycles plus an acyclic tail.
	g := mustBuild(t,
		tk("a", "b"), tk("b", "a"),
		tk("x", "y"), tk("y", "z"), tk("z", "x"),
		tk("t", "a"),
	)

	want := [][]task.ID{{"a", "b"}, {"x", "y", "z"}}
	if got := g.Cycles(); !reflect.DeepEqual(got, want) {
		t.Fatalf("cycles: got %v want %v", got, want)
	}

	if g := mustBuild(t, tk("a"), tk("b", "a")); len(g.Cycles()) != 0 {
		t.Fatalf("acyclic graph reported cycles: %v", g.Cycles())
	}
}

func TestLevels_StableAcrossRebuilds(t *testing.T) {
	build := func() Levels {
		return mustBuild(t,
			tk("t3"), tk("t1"), tk("t2"),
			tk("t4", "t1", "t3"),
			tk("t5", "t2"),
		).Levels()
	}
	first := build()
	for i := 0; i < 5; i++ {
		if got := build(); !reflect.DeepEqual(got, first) {
			t.Fatalf("levels unstable: got %v want %v", got, first)
		}
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := mustBuild(t,
		tk("a"),
		tk("b", "a"),
		tk("c", "b"),
		tk("d", "b"),
		tk("e", "c", "d"),
		tk("f"),
	)
	got := g.TransitiveDependents("b")
	want := []task.ID{"c", "d", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dependents of b: got %v want %v", got, want)
	}
	if got := g.TransitiveDependents("f"); len(got) != 0 {
		t.Fatalf("dependents of f: got %v want empty", got)
	}
}
