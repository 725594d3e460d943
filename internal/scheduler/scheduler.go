// Package scheduler executes a task graph level by level on a bounded
// worker pool. It owns the per-task state machine: READY dispatch, retry
// with exponential back-off, reviewer rejection, transitive blocking of
// dependents, and the one-shot cancellation protocol.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/agentcoord/agentcoord/internal/config"
	"github.com/agentcoord/agentcoord/internal/fsutil"
	"github.com/agentcoord/agentcoord/internal/graph"
	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/review"
	"github.com/agentcoord/agentcoord/internal/task"
)

// Outcome is the result of one worker attempt: either changed files plus a
// summary, or an error with a retryable flag.
type Outcome struct {
	ChangedFiles    map[string]string
	ArtifactSummary string
	Err             string
	Retryable       bool
}

func Success(files map[string]string, summary string) Outcome {
	return Outcome{ChangedFiles: files, ArtifactSummary: summary}
}

func Failure(msg string, retryable bool) Outcome {
	return Outcome{Err: msg, Retryable: retryable}
}

func (o Outcome) Failed() bool { return o.Err != "" }

// WorkerFn executes one attempt of one task. The context is cancelled on
// scheduler shutdown and carries the per-attempt timeout when configured.
type WorkerFn func(ctx context.Context, t *task.Task, attempt int) Outcome

// ApplyFn persists an accepted outcome's changed files and returns the
// output references recorded in task_done. When nil, references are
// computed in memory and nothing touches the filesystem.
type ApplyFn func(t *task.Task, files map[string]string) ([]journal.OutputRef, error)

// Config parameterises one schedule run.
type Config struct {
	MaxWorkers  int
	MaxAttempts int
	TaskTimeout time.Duration // zero disables the per-attempt timeout
	GracePeriod time.Duration // how long cancellation waits for in-flight workers
	Backoff     config.BackoffConfig
	Seed        string // jitter seed prefix, normally the session id

	Worker   WorkerFn
	Apply    ApplyFn
	Reviewer *review.Reviewer // nil skips the quality gate
	Journal  *journal.Writer  // nil skips journaling
	Store    *task.Store      // nil skips persistence
	Logger   *slog.Logger
}

// Result is the outcome of a schedule run. Tasks left in a non-terminal
// state by cancellation appear in none of the lists.
type Result struct {
	Completed []task.ID
	Failed    []task.ID
	Blocked   []task.ID
	Aborted   bool
}

type Scheduler struct {
	cfg Config
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Worker == nil {
		return nil, errors.New("scheduler: worker fn is required")
	}
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("scheduler: maxWorkers must be >= 1, got %d", cfg.MaxWorkers)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{cfg: cfg}, nil
}

// Run executes every task in the graph. Cancellation of ctx triggers the
// one-shot abort protocol and is not an error: the partial result carries
// Aborted=true. A non-nil error means the run itself failed (journal I/O),
// which is fatal to the session.
func (s *Scheduler) Run(ctx context.Context, tasks map[task.ID]*task.Task, g *graph.Graph) (Result, error) {
	if g == nil {
		return Result{}, errors.New("scheduler: nil graph")
	}
	for _, id := range g.IDs() {
		if tasks[id] == nil {
			return Result{}, fmt.Errorf("scheduler: graph id %q has no task", id)
		}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{cfg: s.cfg, tasks: tasks, graph: g, cancel: cancel, log: s.cfg.Logger}
	r.execute(runCtx)
	res := r.result()

	if ctx.Err() != nil {
		res.Aborted = true
		return res, nil
	}
	if cause := context.Cause(runCtx); cause != nil {
		return res, cause
	}
	return res, nil
}

// run carries the state of one Run invocation.
type run struct {
	cfg    Config
	tasks  map[task.ID]*task.Task
	graph  *graph.Graph
	cancel context.CancelCauseFunc
	log    *slog.Logger
}

func (r *run) execute(ctx context.Context) {
	levels := r.graph.Levels()

	// Cycle members and their downstream tasks never become READY.
	for _, id := range levels.Unschedulable {
		t := r.tasks[id]
		if t.State != task.StateBlocked {
			t.State = task.StateBlocked
			r.persist(t)
		}
	}

	for k, level := range levels.Levels {
		if ctx.Err() != nil {
			return
		}
		phase := fmt.Sprintf("level-%d", k)
		if !r.append(journal.PhaseStart(phase, level)) {
			return
		}

		r.runPool(ctx, r.markReady(ctx, level))
		if ctx.Err() != nil {
			return
		}

		completed, failed, blocked := r.classify(level)
		for _, id := range failed {
			r.blockDependents(id)
		}
		if !r.append(journal.PhaseComplete(phase, completed, failed, blocked)) {
			return
		}
	}
}

// markReady transitions the level's schedulable tasks to READY in id order
// and returns them for dispatch. Tasks already terminal are left alone; a
// task whose dependencies are not all DONE is blocked defensively.
func (r *run) markReady(ctx context.Context, level []task.ID) []*task.Task {
	var runnable []*task.Task
	for _, id := range level {
		if ctx.Err() != nil {
			return runnable
		}
		t := r.tasks[id]
		if t.State.Terminal() {
			continue
		}
		if dep := r.unmetDependency(t); dep != "" {
			r.log.Warn("blocking task with unmet dependency", "task", t.ID, "dependency", dep)
			t.State = task.StateBlocked
			r.persist(t)
			continue
		}
		if t.State != task.StateReady {
			t.State = task.StateReady
			r.persist(t)
			if !r.append(journal.TaskReady(t.ID)) {
				return runnable
			}
		}
		runnable = append(runnable, t)
	}
	return runnable
}

func (r *run) unmetDependency(t *task.Task) task.ID {
	for _, dep := range r.graph.Dependencies(t.ID) {
		if d := r.tasks[dep]; d == nil || d.State != task.StateDone {
			return dep
		}
	}
	return ""
}

// runPool drains the level's READY tasks through at most MaxWorkers
// concurrent executors and waits for the level barrier. After cancellation
// the join is bounded by the grace period.
func (r *run) runPool(ctx context.Context, runnable []*task.Task) {
	if len(runnable) == 0 {
		return
	}
	workers := r.cfg.MaxWorkers
	if workers > len(runnable) {
		workers = len(runnable)
	}

	jobs := make(chan *task.Task)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for t := range jobs {
				r.runTask(ctx, t)
			}
		}()
	}

feed:
	for _, t := range runnable {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-ctx.Done():
		select {
		case <-joined:
		case <-time.After(r.cfg.GracePeriod):
			r.log.Warn("grace period expired with workers still in flight", "grace", r.cfg.GracePeriod)
		}
	}
}

// runTask drives one task to a terminal state: attempt, review, retry with
// back-off. Cancellation mid-attempt leaves the task READY for resume.
func (r *run) runTask(ctx context.Context, t *task.Task) {
	for {
		if ctx.Err() != nil {
			return
		}
		attempt := t.Attempts + 1
		t.State = task.StateRunning
		if !r.append(journal.TaskStart(t.ID, attempt)) {
			t.State = task.StateReady
			return
		}

		out := r.attempt(ctx, t, attempt)
		t.Attempts = attempt

		if !out.Failed() {
			if out.ArtifactSummary != "" && !r.append(journal.TaskOutput(t.ID, attempt, out.ArtifactSummary)) {
				t.State = task.StateReady
				return
			}
			out = r.review(t, attempt, out)
		}
		if !out.Failed() {
			refs, err := r.applyOutputs(t, out.ChangedFiles)
			if err != nil {
				out = Failure(fmt.Sprintf("apply outputs: %v", err), true)
			} else {
				t.State = task.StateDone
				t.LastError = ""
				t.OutputFiles = out.ChangedFiles
				r.persist(t)
				r.append(journal.TaskDone(t.ID, refs))
				return
			}
		}

		if ctx.Err() != nil {
			// Cancelled mid-attempt. The failure is an artifact of the
			// abort; leave the task runnable for resume.
			t.State = task.StateReady
			r.persist(t)
			return
		}

		t.LastError = out.Err
		if !out.Retryable || t.Attempts >= r.cfg.MaxAttempts {
			t.State = task.StateFailed
			r.persist(t)
			r.append(journal.TaskFailed(t.ID, out.Err))
			return
		}

		t.State = task.StateReady
		r.persist(t)
		delay := DelayForAttempt(t.Attempts, r.cfg.Backoff, retrySeed(r.cfg.Seed, t.ID, t.Attempts))
		r.log.Debug("retrying after back-off", "task", t.ID, "attempt", t.Attempts, "delay", delay, "error", out.Err)
		if !sleepWithContext(ctx, delay) {
			return
		}
	}
}

// attempt invokes the worker with the per-attempt timeout and panic
// recovery. A panic is a fatal task failure, never a crash of the pool.
func (r *run) attempt(ctx context.Context, t *task.Task, attempt int) (out Outcome) {
	actx := ctx
	if r.cfg.TaskTimeout > 0 {
		var cancelAttempt context.CancelFunc
		actx, cancelAttempt = context.WithTimeout(ctx, r.cfg.TaskTimeout)
		defer cancelAttempt()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("worker panicked", "task", t.ID, "attempt", attempt, "panic", rec, "stack", string(debug.Stack()))
			out = Failure(fmt.Sprintf("worker panic: %v", rec), false)
		}
	}()
	out = r.cfg.Worker(actx, t, attempt)
	if out.Failed() && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// Per-attempt timeout, not an abort: retryable.
		out.Retryable = true
	}
	return out
}

// review runs the quality gate over a successful attempt. A rejection is
// rewritten into a retryable failure carrying the reviewer's reason.
func (r *run) review(t *task.Task, attempt int, out Outcome) Outcome {
	if r.cfg.Reviewer == nil {
		return out
	}
	res := r.cfg.Reviewer.Review(out.ChangedFiles, t.Description)
	if !r.append(journal.TaskReviewed(t.ID, res.Score, res.ShouldReject)) {
		return out
	}
	if res.ShouldReject {
		r.log.Info("reviewer rejected attempt",
			"task", t.ID, "attempt", attempt, "score", res.Score, "critical", res.CriticalCount)
		return Failure(res.RejectReason, true)
	}
	return out
}

func (r *run) applyOutputs(t *task.Task, files map[string]string) ([]journal.OutputRef, error) {
	if r.cfg.Apply == nil {
		return OutputRefs(files), nil
	}
	return r.cfg.Apply(t, files)
}

// blockDependents marks every transitive dependent of a failed task
// BLOCKED. Dependents always live in later levels, so none is in flight.
func (r *run) blockDependents(id task.ID) {
	for _, dep := range r.graph.TransitiveDependents(id) {
		t := r.tasks[dep]
		if t.State.Terminal() {
			continue
		}
		t.State = task.StateBlocked
		r.persist(t)
		r.log.Info("blocked by failed dependency", "task", dep, "failed", id)
	}
}

func (r *run) classify(level []task.ID) (completed, failed, blocked []task.ID) {
	for _, id := range level {
		switch r.tasks[id].State {
		case task.StateDone:
			completed = append(completed, id)
		case task.StateFailed:
			failed = append(failed, id)
		case task.StateBlocked:
			blocked = append(blocked, id)
		}
	}
	return completed, failed, blocked
}

func (r *run) result() Result {
	ids := make([]task.ID, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	task.SortIDs(ids)
	var res Result
	for _, id := range ids {
		switch r.tasks[id].State {
		case task.StateDone:
			res.Completed = append(res.Completed, id)
		case task.StateFailed:
			res.Failed = append(res.Failed, id)
		case task.StateBlocked:
			res.Blocked = append(res.Blocked, id)
		}
	}
	return res
}

// append writes one journal record. Journal failure is fatal to the whole
// run: the run context is cancelled with the write error as cause.
func (r *run) append(rec journal.Record) bool {
	if r.cfg.Journal == nil {
		return true
	}
	if err := r.cfg.Journal.Append(rec); err != nil {
		r.log.Error("journal append failed", "type", rec.Type, "error", err)
		r.cancel(fmt.Errorf("journal append: %w", err))
		return false
	}
	return true
}

func (r *run) persist(t *task.Task) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.Write(t); err != nil {
		r.log.Warn("task store write failed", "task", t.ID, "error", err)
	}
}

// OutputRefs builds sorted journal output references for a set of changed
// files, digesting contents with BLAKE3.
func OutputRefs(files map[string]string) []journal.OutputRef {
	if len(files) == 0 {
		return nil
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	refs := make([]journal.OutputRef, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, journal.OutputRef{
			Path:   p,
			Bytes:  len(files[p]),
			Digest: fsutil.Digest([]byte(files[p])),
		})
	}
	return refs
}
