package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentcoord/agentcoord/internal/agentio"
	"github.com/agentcoord/agentcoord/internal/fsutil"
	"github.com/agentcoord/agentcoord/internal/graph"
	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/task"
)

// PlanResult is what planning leaves behind: the session identity and the
// validated task list in planner order. Cycles are reported, not fatal;
// the affected tasks are blocked at execution time.
type PlanResult struct {
	SessionID   journal.SessionID
	Instruction string
	Tasks       []*task.Task
	Cycles      [][]task.ID
	Resumed     bool
}

// PlanningSnapshot is the durable planning record under planning-sessions/.
type PlanningSnapshot struct {
	SessionID   journal.SessionID `json:"sessionId"`
	Instruction string            `json:"instruction"`
	CreatedAt   time.Time         `json:"createdAt"`
	PlannerRaw  string            `json:"plannerRaw"`
	Tasks       []*task.Task      `json:"tasks"`
}

// LoadSnapshot reads a planning snapshot back.
func LoadSnapshot(path string) (*PlanningSnapshot, error) {
	var snap PlanningSnapshot
	if err := fsutil.ReadJSONStrict(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Plan starts a new session: journals session_start, points pointer.json
// at it, invokes the Planner, journals and persists the resulting tasks,
// snapshots the plan, and validates the dependency graph. Unknown
// dependency ids are fatal (the session is aborted); cycles are returned
// for the caller to warn about.
func (o *Orchestrator) Plan(ctx context.Context, instruction string) (*PlanResult, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, errors.New("orchestrate: instruction is required")
	}

	id := journal.NewSessionID()
	w, err := o.openJournal(id)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := w.Append(journal.SessionStart(instruction)); err != nil {
		return nil, err
	}
	if err := journal.SetPointer(o.paths.Pointer(), id, o.paths.Journal(id)); err != nil {
		return nil, o.abort(w, fmt.Sprintf("pointer update: %v", err), err)
	}

	tasks, err := o.runPlanning(ctx, w, id, instruction)
	if err != nil {
		return nil, o.abort(w, fmt.Sprintf("planning: %v", err), err)
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return nil, o.abort(w, fmt.Sprintf("validation: %v", err), err)
	}
	if cycles := g.Cycles(); len(cycles) > 0 {
		o.log.Warn("plan contains dependency cycles", "session", id, "cycles", len(cycles))
	}

	o.writePlanningReports(id, instruction, tasks)

	return &PlanResult{
		SessionID:   id,
		Instruction: instruction,
		Tasks:       tasks,
		Cycles:      g.Cycles(),
	}, nil
}

// ResumePlan re-opens the most recently started session when its journal
// has no terminal session_complete. If planning never produced tasks, the
// Planner is invoked now with the original instruction; otherwise the
// stored plan is returned as-is.
func (o *Orchestrator) ResumePlan(ctx context.Context) (*PlanResult, error) {
	ptr, err := journal.LoadPointer(o.paths.Pointer())
	if err != nil {
		return nil, err
	}
	if ptr.Current == "" {
		return nil, fmt.Errorf("%w: no sessions recorded", journal.ErrNoSession)
	}
	id := ptr.Current

	rc, err := journal.ExtractResume(o.paths.Journal(id), o.log)
	if err != nil {
		return nil, err
	}
	if !rc.CanResume {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, id)
	}

	var tasks []*task.Task
	if len(rc.CreatedTasks) == 0 {
		w, err := o.openJournal(id)
		if err != nil {
			return nil, err
		}
		defer w.Close()
		tasks, err = o.runPlanning(ctx, w, id, rc.OriginalTask)
		if err != nil {
			return nil, o.abort(w, fmt.Sprintf("planning: %v", err), err)
		}
	} else {
		tasks, err = o.loadTasks(rc.CreatedTasks)
		if err != nil {
			return nil, err
		}
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return nil, err
	}

	o.writePlanningReports(id, rc.OriginalTask, tasks)

	return &PlanResult{
		SessionID:   id,
		Instruction: rc.OriginalTask,
		Tasks:       tasks,
		Cycles:      g.Cycles(),
		Resumed:     true,
	}, nil
}

// runPlanning invokes the Planner and makes its output durable: one
// task_created record and one task-store file per task, bracketed by the
// planning phase records, then the planning snapshot.
func (o *Orchestrator) runPlanning(ctx context.Context, w *journal.Writer, id journal.SessionID, instruction string) ([]*task.Task, error) {
	if err := w.Append(journal.PhaseStart("planning", nil)); err != nil {
		return nil, err
	}

	raw, err := o.invoker.Invoke(ctx, agentio.RolePlanner, agentio.PlannerPrompt(instruction))
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	tasks, err := agentio.ParsePlan(raw, o.cfg.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	store, err := task.NewStore(o.paths.TasksDir())
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := w.Append(journal.TaskCreated(t)); err != nil {
			return nil, err
		}
		if err := store.Write(t); err != nil {
			return nil, fmt.Errorf("persist task %s: %w", t.ID, err)
		}
	}
	if err := w.Append(journal.PhaseComplete("planning", nil, nil, nil)); err != nil {
		return nil, err
	}

	snap := PlanningSnapshot{
		SessionID:   id,
		Instruction: instruction,
		CreatedAt:   time.Now().UTC(),
		PlannerRaw:  raw,
		Tasks:       tasks,
	}
	if err := fsutil.WriteJSONAtomic(o.paths.PlanningSnapshot(id), snap); err != nil {
		return nil, fmt.Errorf("planning snapshot: %w", err)
	}

	o.log.Info("planning complete", "session", id, "tasks", len(tasks))
	return tasks, nil
}

// loadTasks reads the session's tasks from the store in the given order.
func (o *Orchestrator) loadTasks(ids []task.ID) ([]*task.Task, error) {
	store, err := task.NewStore(o.paths.TasksDir())
	if err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := store.Read(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
