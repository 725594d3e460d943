package orchestrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/task"
)

// Session states as derived from the journal tail.
const (
	StateActive    = "active"
	StateCompleted = "completed"
	StateAborted   = "aborted"
)

// Status is a point-in-time view of a session, reduced from its journal.
// Task states reflect the latest record per task, so a crashed session
// reads exactly as it last reported itself.
type Status struct {
	SessionID   journal.SessionID      `json:"sessionId"`
	Instruction string                 `json:"instruction,omitempty"`
	State       string                 `json:"state"`
	Phase       string                 `json:"phase,omitempty"`
	LastEvent   string                 `json:"lastEvent,omitempty"`
	LastEventAt time.Time              `json:"lastEventAt"`
	Counts      map[task.State]int     `json:"counts,omitempty"`
	Tasks       map[task.ID]task.State `json:"tasks,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	AbortReason string                 `json:"abortReason,omitempty"`
	Metrics     *journal.Metrics       `json:"metrics,omitempty"`
}

// ReadStatus reduces the journal at path into a Status. Missing journals
// surface journal.ErrNoSession. A session whose last terminal record is
// followed by resumed activity reads as active again.
func ReadStatus(path string, id journal.SessionID, logger *slog.Logger) (*Status, error) {
	st := &Status{
		SessionID: id,
		State:     StateActive,
		Tasks:     make(map[task.ID]task.State),
	}
	err := journal.Scan(path, logger, func(rec journal.Record) bool {
		st.LastEvent = string(rec.Type)
		st.LastEventAt = rec.Timestamp
		if !rec.Type.Terminal() && st.State != StateActive {
			st.State = StateActive
			st.Summary, st.AbortReason = "", ""
			st.Metrics = nil
		}
		switch rec.Type {
		case journal.TypeSessionStart:
			st.Instruction = rec.Task
		case journal.TypeSessionComplete:
			st.State = StateCompleted
			st.Summary = rec.Summary
			st.Metrics = rec.Metrics
		case journal.TypeSessionAbort:
			st.State = StateAborted
			st.AbortReason = rec.Reason
		case journal.TypePhaseStart, journal.TypePhaseComplete:
			st.Phase = rec.Phase
			for _, tid := range rec.Blocked {
				st.Tasks[tid] = task.StateBlocked
			}
		case journal.TypeTaskCreated:
			st.Tasks[rec.TaskID] = task.StateNew
		case journal.TypeTaskReady:
			st.Tasks[rec.TaskID] = task.StateReady
		case journal.TypeTaskStart:
			st.Tasks[rec.TaskID] = task.StateRunning
		case journal.TypeTaskDone:
			st.Tasks[rec.TaskID] = task.StateDone
		case journal.TypeTaskFailed:
			st.Tasks[rec.TaskID] = task.StateFailed
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(st.Tasks) > 0 {
		st.Counts = make(map[task.State]int, len(st.Tasks))
		for _, s := range st.Tasks {
			st.Counts[s]++
		}
	}
	return st, nil
}

const defaultFollowInterval = 250 * time.Millisecond

// Follow prints journal records to w as they are appended, polling the
// file by offset, and returns once a terminal record is seen. A journal
// that does not exist yet is waited for. Cancellation returns ctx.Err().
func Follow(ctx context.Context, path string, w io.Writer, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultFollowInterval
	}
	offset, terminal, err := catchUp(path, 0, w)
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			offset, terminal, err = catchUp(path, offset, w)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}

// catchUp prints every record between offset and EOF and reports whether a
// terminal record was among them. The journal writer appends whole lines,
// so re-opening and seeking is safe against torn reads.
func catchUp(path string, offset int64, w io.Writer) (int64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return offset, false, nil
		}
		return offset, false, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return offset, false, err
		}
	}

	terminal := false
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec journal.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			fmt.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, FormatEvent(rec))
		if rec.Type.Terminal() {
			terminal = true
		}
	}
	if err := sc.Err(); err != nil {
		return offset, false, err
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return offset, terminal, err
	}
	return pos, terminal, nil
}

// FormatEvent renders one journal record as a follow/status line.
func FormatEvent(rec journal.Record) string {
	ts := rec.Timestamp.Local().Format("15:04:05")
	head := fmt.Sprintf("%s  %-16s", ts, rec.Type)

	switch rec.Type {
	case journal.TypeSessionStart:
		return fmt.Sprintf("%s %s", head, rec.Task)
	case journal.TypeSessionComplete:
		if rec.Metrics != nil {
			return fmt.Sprintf("%s done=%d failed=%d blocked=%d attempts=%d",
				head, rec.Metrics.Done, rec.Metrics.Failed, rec.Metrics.Blocked, rec.Metrics.Attempts)
		}
		return head
	case journal.TypeSessionAbort:
		return fmt.Sprintf("%s reason=%s", head, rec.Reason)
	case journal.TypePhaseStart:
		if len(rec.Tasks) > 0 {
			return fmt.Sprintf("%s %s (%d tasks)", head, rec.Phase, len(rec.Tasks))
		}
		return fmt.Sprintf("%s %s", head, rec.Phase)
	case journal.TypePhaseComplete:
		line := fmt.Sprintf("%s %s done=%d failed=%d blocked=%d",
			head, rec.Phase, len(rec.Completed), len(rec.Failed), len(rec.Blocked))
		if len(rec.Cycles) > 0 {
			line += fmt.Sprintf(" cycles=%d", len(rec.Cycles))
		}
		return line
	case journal.TypeTaskCreated:
		return fmt.Sprintf("%s %s: %s", head, rec.TaskID, rec.Title)
	case journal.TypeTaskStart:
		return fmt.Sprintf("%s %s (attempt %d)", head, rec.TaskID, rec.Attempt)
	case journal.TypeTaskOutput:
		return fmt.Sprintf("%s %s: %s", head, rec.TaskID, firstLine(rec.Output, 80))
	case journal.TypeTaskReviewed:
		if rec.Score == nil {
			return fmt.Sprintf("%s %s", head, rec.TaskID)
		}
		line := fmt.Sprintf("%s %s score=%d", head, rec.TaskID, *rec.Score)
		if rec.Rejected != nil && *rec.Rejected {
			line += " rejected"
		}
		return line
	case journal.TypeTaskFailed:
		return fmt.Sprintf("%s %s: %s", head, rec.TaskID, firstLine(rec.Error, 80))
	default:
		// task_ready, task_done, and anything newer.
		if rec.TaskID != "" {
			return fmt.Sprintf("%s %s", head, rec.TaskID)
		}
		return head
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
