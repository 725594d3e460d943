package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcoord/agentcoord/internal/agentio"
	"github.com/agentcoord/agentcoord/internal/fsutil"
	"github.com/agentcoord/agentcoord/internal/graph"
	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/review"
	"github.com/agentcoord/agentcoord/internal/scheduler"
	"github.com/agentcoord/agentcoord/internal/task"
)

// RunOverrides are per-invocation overrides applied on top of the config.
type RunOverrides struct {
	MaxWorkers int // 0 keeps the configured pool size
}

// RunResult summarises an executed session. CycleBlocked is the subset of
// Blocked caused by dependency cycles rather than failed parents; the CLI
// maps it to the validation exit code.
type RunResult struct {
	SessionID    journal.SessionID
	Completed    []task.ID
	Failed       []task.ID
	Blocked      []task.ID
	CycleBlocked []task.ID
	Aborted      bool
	Summary      string
	Metrics      journal.Metrics
}

// Worker agents signal a permanently failed task by exiting with
// fatalAgentExit; every other invocation failure is retried per policy.
const fatalAgentExit = 2

// Run executes a planned session: it reconstructs task state from the
// journal (first run and resume are the same protocol), validates the
// dependency graph, schedules every level, consults the Judge, and writes
// the terminal record. The planner is never re-invoked here.
func (o *Orchestrator) Run(ctx context.Context, id journal.SessionID, overrides RunOverrides) (*RunResult, error) {
	rc, err := journal.ExtractResume(o.paths.Journal(id), o.log)
	if err != nil {
		return nil, err
	}
	if !rc.CanResume {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, id)
	}
	if len(rc.CreatedTasks) == 0 {
		return nil, fmt.Errorf("session %s has no planned tasks; finish planning first", id)
	}

	store, err := task.NewStore(o.paths.TasksDir())
	if err != nil {
		return nil, err
	}
	tasks, err := o.loadTasks(rc.CreatedTasks)
	if err != nil {
		return nil, err
	}

	w, err := o.openJournal(id)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := journal.SetPointer(o.paths.Pointer(), id, o.paths.Journal(id)); err != nil {
		return nil, o.abort(w, fmt.Sprintf("pointer update: %v", err), err)
	}
	if err := resetForResume(store, tasks, rc.CompletedTasks); err != nil {
		return nil, o.abort(w, fmt.Sprintf("task store: %v", err), err)
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return nil, o.abort(w, fmt.Sprintf("validation: %v", err), err)
	}
	levels := g.Levels()
	if err := w.Append(journal.PhaseStart("validation", g.IDs())); err != nil {
		return nil, o.abort(w, fmt.Sprintf("journal: %v", err), err)
	}
	vrec := journal.PhaseComplete("validation", nil, nil, levels.Unschedulable)
	vrec.Cycles = g.Cycles()
	if err := w.Append(vrec); err != nil {
		return nil, o.abort(w, fmt.Sprintf("journal: %v", err), err)
	}

	res, err := o.schedule(ctx, w, store, id, tasks, g, overrides)
	if err != nil {
		return nil, o.abort(w, fmt.Sprintf("scheduling: %v", err), err)
	}

	out := &RunResult{
		SessionID:    id,
		Completed:    res.Completed,
		Failed:       res.Failed,
		Blocked:      res.Blocked,
		CycleBlocked: levels.Unschedulable,
		Aborted:      res.Aborted,
	}

	if res.Aborted {
		if aerr := w.Append(journal.SessionAbort("signal")); aerr != nil {
			o.log.Error("session_abort append failed", "session", id, "error", aerr)
		}
		o.finalizePointer(id)
		return out, nil
	}

	summary, err := o.runJudge(ctx, w, rc.OriginalTask, tasks, res)
	if err != nil {
		return nil, o.abort(w, fmt.Sprintf("journal: %v", err), err)
	}
	out.Summary = summary

	if ctx.Err() != nil {
		// Cancelled between the last level and the terminal record.
		out.Aborted = true
		if aerr := w.Append(journal.SessionAbort("signal")); aerr != nil {
			o.log.Error("session_abort append failed", "session", id, "error", aerr)
		}
		o.finalizePointer(id)
		return out, nil
	}

	out.Metrics = o.sessionMetrics(id, rc.StartedAt, tasks, res)
	if err := w.Append(journal.SessionComplete(summary, out.Metrics)); err != nil {
		return nil, err
	}
	o.finalizePointer(id)
	o.writeSummaryReport(id, rc.OriginalTask, tasks, out)

	o.log.Info("session finished",
		"session", id, "done", out.Metrics.Done, "failed", out.Metrics.Failed,
		"blocked", out.Metrics.Blocked, "attempts", out.Metrics.Attempts)
	return out, nil
}

// schedule wires the config, reviewer, agents, and stores into one
// scheduler run over the session's graph.
func (o *Orchestrator) schedule(ctx context.Context, w *journal.Writer, store *task.Store, id journal.SessionID, tasks []*task.Task, g *graph.Graph, overrides RunOverrides) (scheduler.Result, error) {
	maxWorkers := o.cfg.MaxWorkers
	if overrides.MaxWorkers > 0 {
		maxWorkers = overrides.MaxWorkers
	}
	rev := review.New(review.Config{
		RejectThreshold: o.cfg.Reviewer.RejectThreshold,
		ScopeTolerance:  o.cfg.ScopeTolerance(),
		IgnoreGlobs:     o.cfg.Reviewer.IgnoreGlobs,
	})
	sched, err := scheduler.New(scheduler.Config{
		MaxWorkers:  maxWorkers,
		MaxAttempts: o.cfg.MaxAttempts,
		TaskTimeout: o.cfg.TaskTimeout(),
		GracePeriod: o.cfg.GracePeriod(),
		Backoff:     o.cfg.Backoff,
		Seed:        string(id),
		Worker:      o.workerFn(),
		Apply:       o.applyFn(),
		Reviewer:    rev,
		Journal:     w,
		Store:       store,
		Logger:      o.log,
	})
	if err != nil {
		return scheduler.Result{}, err
	}

	byID := make(map[task.ID]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return sched.Run(ctx, byID, g)
}

// workerFn adapts the Worker agent to the scheduler: prompt out, JSON
// reply in. An unparseable reply is a retryable failure so a flaky agent
// gets its remaining attempts.
func (o *Orchestrator) workerFn() scheduler.WorkerFn {
	return func(ctx context.Context, t *task.Task, attempt int) scheduler.Outcome {
		reply, err := o.invoker.Invoke(ctx, agentio.RoleWorker, agentio.WorkerPrompt(t, attempt))
		if err != nil {
			return scheduler.Failure(err.Error(), retryableInvokeError(err))
		}
		out, err := agentio.ParseWorkerReply(reply)
		if err != nil {
			return scheduler.Failure(fmt.Sprintf("worker reply: %v", err), true)
		}
		return scheduler.Success(out.Files, out.Summary)
	}
}

func retryableInvokeError(err error) bool {
	var xe *agentio.ExitError
	if errors.As(err, &xe) && xe.Code == fatalAgentExit {
		return false
	}
	return true
}

// applyFn writes accepted worker files into the work tree, one atomic
// replace per file. Output paths must stay inside the work directory;
// anything absolute or escaping fails the attempt.
func (o *Orchestrator) applyFn() scheduler.ApplyFn {
	return func(t *task.Task, files map[string]string) ([]journal.OutputRef, error) {
		refs := scheduler.OutputRefs(files)
		for _, ref := range refs {
			if !filepath.IsLocal(filepath.FromSlash(ref.Path)) {
				return nil, fmt.Errorf("task %s: output path escapes the work tree: %q", t.ID, ref.Path)
			}
		}
		for _, ref := range refs {
			dst := filepath.Join(o.workDir, filepath.FromSlash(ref.Path))
			if err := fsutil.WriteFileAtomic(dst, []byte(files[ref.Path]), 0o644); err != nil {
				return nil, fmt.Errorf("task %s: write %s: %w", t.ID, ref.Path, err)
			}
		}
		return refs, nil
	}
}

// resetForResume rewrites task state from the journal's record: tasks with
// a task_done are DONE, everything else reverts to NEW with a fresh retry
// budget. Persisted immediately so the store and journal agree before
// scheduling starts. On a first run after planning this is a no-op rewrite
// of NEW tasks.
func resetForResume(store *task.Store, tasks []*task.Task, completed []task.ID) error {
	done := make(map[task.ID]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	for _, t := range tasks {
		if done[t.ID] {
			t.State = task.StateDone
		} else {
			t.State = task.StateNew
			t.Attempts = 0
			t.LastError = ""
			t.OutputFiles = nil
		}
		if err := store.Write(t); err != nil {
			return fmt.Errorf("reset task %s: %w", t.ID, err)
		}
	}
	return nil
}

// runJudge sends the Judge the aggregate execution report inside the
// review phase. A failed Judge invocation degrades to the report itself;
// only journal writes can fail here.
func (o *Orchestrator) runJudge(ctx context.Context, w *journal.Writer, instruction string, tasks []*task.Task, res scheduler.Result) (string, error) {
	if err := w.Append(journal.PhaseStart("review", nil)); err != nil {
		return "", err
	}
	report := executionReport(instruction, tasks)
	summary := report
	verdict, err := o.invoker.Invoke(ctx, agentio.RoleJudge, agentio.JudgePrompt(instruction, report))
	if err != nil {
		o.log.Warn("judge invocation failed", "session", w.Session(), "error", err)
	} else if v := strings.TrimSpace(verdict); v != "" {
		summary = v
	}
	if err := w.Append(journal.PhaseComplete("review", res.Completed, res.Failed, res.Blocked)); err != nil {
		return "", err
	}
	return summary, nil
}

// executionReport aggregates final task dispositions into the text the
// Judge reviews and the summary falls back to.
func executionReport(instruction string, tasks []*task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n\nTask results:\n", instruction)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s [%s] %s", t.ID, t.State, t.Title)
		if t.Attempts > 1 {
			fmt.Fprintf(&b, " (attempts: %d)", t.Attempts)
		}
		if t.LastError != "" {
			fmt.Fprintf(&b, " error: %s", t.LastError)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// sessionMetrics derives the session_complete metrics: dispositions from
// the schedule result, attempt totals from the final task states, and the
// mean reviewer score plus session duration from the journal itself.
func (o *Orchestrator) sessionMetrics(id journal.SessionID, startedAt time.Time, tasks []*task.Task, res scheduler.Result) journal.Metrics {
	m := journal.Metrics{
		Tasks:   len(tasks),
		Done:    len(res.Completed),
		Failed:  len(res.Failed),
		Blocked: len(res.Blocked),
	}
	for _, t := range tasks {
		m.Attempts += t.Attempts
	}
	if !startedAt.IsZero() {
		m.DurationMS = time.Since(startedAt).Milliseconds()
	}

	var sum, reviews int
	_ = journal.Scan(o.paths.Journal(id), o.log, func(rec journal.Record) bool {
		if rec.Type == journal.TypeTaskReviewed && rec.Score != nil {
			sum += *rec.Score
			reviews++
		}
		return true
	})
	if reviews > 0 {
		m.MeanScore = float64(sum) / float64(reviews)
	}
	return m
}
