// Package journal implements the append-only NDJSON session log, the
// session pointer file, and the resume-context extractor. The journal is
// the record of record for a session; diagnostics go to slog instead.
package journal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentcoord/agentcoord/internal/task"
)

// SessionID identifies one end-to-end run. Session ids become journal
// filenames, so they share the task-id charset restriction.
type SessionID string

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewSessionID returns a fresh "ses_<ULID>" identifier.
func NewSessionID() SessionID {
	return SessionID("ses_" + ulid.Make().String())
}

func ValidateSessionID(id SessionID) error {
	if !sessionIDPattern.MatchString(string(id)) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	return nil
}

// Type discriminates journal records.
type Type string

const (
	TypeSessionStart    Type = "session_start"
	TypeSessionComplete Type = "session_complete"
	TypeSessionAbort    Type = "session_abort"
	TypePhaseStart      Type = "phase_start"
	TypePhaseComplete   Type = "phase_complete"
	TypeTaskCreated     Type = "task_created"
	TypeTaskReady       Type = "task_ready"
	TypeTaskStart       Type = "task_start"
	TypeTaskOutput      Type = "task_output"
	TypeTaskReviewed    Type = "task_reviewed"
	TypeTaskDone        Type = "task_done"
	TypeTaskFailed      Type = "task_failed"
)

var knownTypes = map[Type]bool{
	TypeSessionStart: true, TypeSessionComplete: true, TypeSessionAbort: true,
	TypePhaseStart: true, TypePhaseComplete: true,
	TypeTaskCreated: true, TypeTaskReady: true, TypeTaskStart: true,
	TypeTaskOutput: true, TypeTaskReviewed: true, TypeTaskDone: true,
	TypeTaskFailed: true,
}

// Terminal reports whether the record type ends a session.
func (t Type) Terminal() bool {
	return t == TypeSessionComplete || t == TypeSessionAbort
}

// OutputRef describes one file a task produced: its path, size, and the
// BLAKE3 digest of its contents.
type OutputRef struct {
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Digest string `json:"digest"`
}

// Metrics summarises a finished session inside session_complete.
type Metrics struct {
	Tasks      int     `json:"tasks"`
	Done       int     `json:"done"`
	Failed     int     `json:"failed"`
	Blocked    int     `json:"blocked"`
	Attempts   int     `json:"attempts"`
	DurationMS int64   `json:"durationMs"`
	MeanScore  float64 `json:"meanScore"`
}

// Record is one journal line. A single struct covers every record type —
// the same shape the NDJSON carries — with Type selecting which fields are
// meaningful. Validate enforces the per-type requirements.
type Record struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID SessionID `json:"sessionId"`

	// session_start
	Task string `json:"task,omitempty"`

	// session_complete
	Summary string   `json:"summary,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`

	// session_abort
	Reason string `json:"reason,omitempty"`

	// phase_start / phase_complete
	Phase     string      `json:"phase,omitempty"`
	Tasks     []task.ID   `json:"tasks,omitempty"`
	Completed []task.ID   `json:"completed,omitempty"`
	Failed    []task.ID   `json:"failed,omitempty"`
	Blocked   []task.ID   `json:"blocked,omitempty"`
	Cycles    [][]task.ID `json:"cycles,omitempty"`

	// task_* records
	TaskID   task.ID     `json:"taskId,omitempty"`
	Title    string      `json:"title,omitempty"`
	TaskType task.Type   `json:"taskType,omitempty"`
	Attempt  int         `json:"attempt,omitempty"`
	Output   string      `json:"output,omitempty"`
	Score    *int        `json:"score,omitempty"`
	Rejected *bool       `json:"rejected,omitempty"`
	Outputs  []OutputRef `json:"outputs,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Validate checks the per-type field contract. The writer stamps Timestamp
// and SessionID, so both may be zero before append.
func (r Record) Validate() error {
	if !knownTypes[r.Type] {
		return fmt.Errorf("unknown record type: %q", r.Type)
	}
	switch r.Type {
	case TypeSessionStart:
		if strings.TrimSpace(r.Task) == "" {
			return fmt.Errorf("session_start: task is required")
		}
	case TypeSessionAbort:
		if strings.TrimSpace(r.Reason) == "" {
			return fmt.Errorf("session_abort: reason is required")
		}
	case TypePhaseStart, TypePhaseComplete:
		if strings.TrimSpace(r.Phase) == "" {
			return fmt.Errorf("%s: phase is required", r.Type)
		}
	case TypeTaskCreated:
		if r.TaskID == "" || strings.TrimSpace(r.Title) == "" {
			return fmt.Errorf("task_created: taskId and title are required")
		}
	case TypeTaskReady:
		if r.TaskID == "" {
			return fmt.Errorf("task_ready: taskId is required")
		}
	case TypeTaskStart, TypeTaskOutput:
		if r.TaskID == "" || r.Attempt < 1 {
			return fmt.Errorf("%s: taskId and attempt >= 1 are required", r.Type)
		}
	case TypeTaskReviewed:
		if r.TaskID == "" || r.Score == nil || r.Rejected == nil {
			return fmt.Errorf("task_reviewed: taskId, score, and rejected are required")
		}
	case TypeTaskDone:
		if r.TaskID == "" {
			return fmt.Errorf("task_done: taskId is required")
		}
	case TypeTaskFailed:
		if r.TaskID == "" || strings.TrimSpace(r.Error) == "" {
			return fmt.Errorf("task_failed: taskId and error are required")
		}
	}
	return nil
}

// Constructors for every record type. The writer fills Timestamp and
// SessionID at append time; read-side code sees them populated from JSON.

func SessionStart(instruction string) Record {
	return Record{Type: TypeSessionStart, Task: instruction}
}

func SessionComplete(summary string, m Metrics) Record {
	return Record{Type: TypeSessionComplete, Summary: summary, Metrics: &m}
}

func SessionAbort(reason string) Record {
	return Record{Type: TypeSessionAbort, Reason: reason}
}

func PhaseStart(phase string, ids []task.ID) Record {
	return Record{Type: TypePhaseStart, Phase: phase, Tasks: ids}
}

func PhaseComplete(phase string, completed, failed, blocked []task.ID) Record {
	return Record{Type: TypePhaseComplete, Phase: phase, Completed: completed, Failed: failed, Blocked: blocked}
}

func TaskCreated(t *task.Task) Record {
	return Record{Type: TypeTaskCreated, TaskID: t.ID, Title: t.Title, TaskType: t.Type}
}

func TaskReady(id task.ID) Record {
	return Record{Type: TypeTaskReady, TaskID: id}
}

func TaskStart(id task.ID, attempt int) Record {
	return Record{Type: TypeTaskStart, TaskID: id, Attempt: attempt}
}

func TaskOutput(id task.ID, attempt int, output string) Record {
	return Record{Type: TypeTaskOutput, TaskID: id, Attempt: attempt, Output: output}
}

func TaskReviewed(id task.ID, score int, rejected bool) Record {
	return Record{Type: TypeTaskReviewed, TaskID: id, Score: &score, Rejected: &rejected}
}

func TaskDone(id task.ID, outputs []OutputRef) Record {
	return Record{Type: TypeTaskDone, TaskID: id, Outputs: outputs}
}

func TaskFailed(id task.ID, errMsg string) Record {
	return Record{Type: TypeTaskFailed, TaskID: id, Error: errMsg}
}
