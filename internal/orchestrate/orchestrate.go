// Package orchestrate drives a session end to end: planning, validation,
// level scheduling, judging, and the terminal journal record. It owns the
// session lifecycle and every on-disk artifact under the coordinator base
// directory; task execution within a session belongs to the scheduler.
package orchestrate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentcoord/agentcoord/internal/agentio"
	"github.com/agentcoord/agentcoord/internal/config"
	"github.com/agentcoord/agentcoord/internal/journal"
)

// ErrNotResumable is returned when a session's journal already carries a
// session_complete record.
var ErrNotResumable = errors.New("session is not resumable")

// Options configures an Orchestrator.
type Options struct {
	Base    string          // coordinator base dir; empty uses DefaultBase
	Config  *config.Config  // nil uses config.Default
	Invoker agentio.Invoker // required
	WorkDir string          // where accepted worker files land; empty means "."
	Logger  *slog.Logger
}

type Orchestrator struct {
	paths   Paths
	cfg     *config.Config
	invoker agentio.Invoker
	workDir string
	log     *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Invoker == nil {
		return nil, errors.New("orchestrate: invoker is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		paths:   NewPaths(opts.Base),
		cfg:     cfg,
		invoker: opts.Invoker,
		workDir: workDir,
		log:     logger,
	}, nil
}

func (o *Orchestrator) Paths() Paths { return o.paths }

// abort journals session_abort with the failure reason and hands back err.
// The abort append is best effort: the caller's failure stays the primary
// fact even when the journal itself is the thing that broke.
func (o *Orchestrator) abort(w *journal.Writer, reason string, err error) error {
	if aerr := w.Append(journal.SessionAbort(reason)); aerr != nil {
		o.log.Error("session_abort append failed", "session", w.Session(), "error", aerr)
	}
	return err
}

// finalizePointer re-points pointer.json at the session on every start and
// completion. Pointer failures at completion time are logged, not fatal:
// the journal already holds the terminal record.
func (o *Orchestrator) finalizePointer(id journal.SessionID) {
	if err := journal.SetPointer(o.paths.Pointer(), id, o.paths.Journal(id)); err != nil {
		o.log.Warn("pointer update failed", "session", id, "error", err)
	}
}

func (o *Orchestrator) openJournal(id journal.SessionID) (*journal.Writer, error) {
	w, err := journal.Open(o.paths.Journal(id), id)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return w, nil
}
