// Package task defines the task model shared by the planner, scheduler,
// and store: identifiers, the per-task state machine, and the durable
// one-file-per-task store.
package task

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ID identifies one task within a session.
type ID string

type Type string

const (
	TypeImplementation Type = "implementation"
	TypeInvestigation  Type = "investigation"
	TypeDocumentation  Type = "documentation"
	TypeIntegration    Type = "integration"
)

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "implementation", "implement", "impl":
		return TypeImplementation, nil
	case "investigation", "investigate", "research":
		return TypeInvestigation, nil
	case "documentation", "docs", "doc":
		return TypeDocumentation, nil
	case "integration", "integrate":
		return TypeIntegration, nil
	case "":
		return TypeImplementation, nil
	default:
		return "", fmt.Errorf("invalid task type: %q", s)
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "medium", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("invalid task priority: %q", s)
	}
}

// State is the per-task lifecycle state. Transitions:
// NEW -> READY -> RUNNING -> DONE | FAILED | (READY again on retry).
// BLOCKED is terminal within a session and is set only for tasks in a
// dependency cycle or transitively dependent on a FAILED task.
type State string

const (
	StateNew     State = "NEW"
	StateReady   State = "READY"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
	StateBlocked State = "BLOCKED"
)

func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEW":
		return StateNew, nil
	case "READY":
		return StateReady, nil
	case "RUNNING":
		return StateRunning, nil
	case "DONE":
		return StateDone, nil
	case "FAILED":
		return StateFailed, nil
	case "BLOCKED":
		return StateBlocked, nil
	default:
		return "", fmt.Errorf("invalid task state: %q", s)
	}
}

// Terminal reports whether the state ends the task for this session.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateBlocked:
		return true
	default:
		return false
	}
}

// Task is the unit of work executed by one worker invocation.
type Task struct {
	ID           ID                `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Dependencies []ID              `json:"dependencies,omitempty"`
	Type         Type              `json:"taskType"`
	Priority     Priority          `json:"priority"`
	State        State             `json:"state"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"maxAttempts"`
	LastError    string            `json:"lastError,omitempty"`
	OutputFiles  map[string]string `json:"outputFiles,omitempty"`
}

// Task ids become filenames under tasks/; keep them to a safe charset.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func ValidateID(id ID) error {
	if !idPattern.MatchString(string(id)) {
		return fmt.Errorf("invalid task id: %q", id)
	}
	return nil
}

// Normalize canonicalises the task in place: trims the title, dedups and
// sorts dependencies (set semantics), fills zero-valued enum fields, and
// validates the id and bounds. A self-dependency is rejected here; cycles
// spanning several tasks are the graph layer's job.
func (t *Task) Normalize() error {
	if t == nil {
		return fmt.Errorf("task is nil")
	}
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return fmt.Errorf("task %s: title is required", t.ID)
	}

	typ, err := ParseType(string(t.Type))
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Type = typ

	pri, err := ParsePriority(string(t.Priority))
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Priority = pri

	if t.State == "" {
		t.State = StateNew
	} else {
		st, err := ParseState(string(t.State))
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		t.State = st
	}

	seen := make(map[ID]bool, len(t.Dependencies))
	deps := make([]ID, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		dep = ID(strings.TrimSpace(string(dep)))
		if dep == "" || seen[dep] {
			continue
		}
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
		seen[dep] = true
		deps = append(deps, dep)
	}
	SortIDs(deps)
	if len(deps) == 0 {
		deps = nil
	}
	t.Dependencies = deps

	if t.Attempts < 0 {
		return fmt.Errorf("task %s: attempts must be >= 0", t.ID)
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("task %s: maxAttempts must be >= 1", t.ID)
	}
	return nil
}

// Clone returns a deep copy; the scheduler hands clones to workers so
// shared state never crosses a goroutine boundary.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Dependencies != nil {
		out.Dependencies = append([]ID(nil), t.Dependencies...)
	}
	if t.OutputFiles != nil {
		out.OutputFiles = make(map[string]string, len(t.OutputFiles))
		for k, v := range t.OutputFiles {
			out.OutputFiles[k] = v
		}
	}
	return &out
}

// SortIDs orders ids ascending; the scheduler and graph layers use this as
// the deterministic tie-break everywhere.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
