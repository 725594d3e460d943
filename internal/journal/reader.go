package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agentcoord/agentcoord/internal/task"
)

// ErrNoSession is returned when a session's journal does not exist.
var ErrNoSession = errors.New("no such session")

// Journal lines hold summaries and digests, never file bodies, so 4 MiB of
// headroom is generous.
const maxLineBytes = 4 * 1024 * 1024

// Scan reads records in file order and calls fn for each. Malformed lines
// are reported to logger and skipped; they never halt the scan. fn
// returning false stops early without error.
func Scan(path string, logger *slog.Logger, fn func(Record) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoSession, path)
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil || !knownTypes[rec.Type] {
			if logger != nil {
				logger.Warn("skipping malformed journal line", "path", path, "line", lineNo, "err", err)
			}
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
	return sc.Err()
}

// ReadAll returns every well-formed record in file order.
func ReadAll(path string, logger *slog.Logger) ([]Record, error) {
	var out []Record
	err := Scan(path, logger, func(rec Record) bool {
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResumeContext is the state reconstructed from a journal by linear scan.
type ResumeContext struct {
	OriginalTask   string
	StartedAt      time.Time
	AbortReason    string
	LastPhase      string
	CreatedTasks   []task.ID // task_created ids in creation order
	CompletedTasks []task.ID // task_done ids, deduplicated and sorted
	CanResume      bool
}

// ExtractResume derives the resume context for the journal at path. A
// session can resume when the journal opens with session_start and carries
// no session_complete: a trailing session_abort resumes, and so does a
// journal with no terminal record at all (hard crash). CreatedTasks keeps
// the planner's creation order; CompletedTasks is every task id mentioned
// in a task_done, deduplicated and sorted.
func ExtractResume(path string, logger *slog.Logger) (ResumeContext, error) {
	var (
		ctx         ResumeContext
		sawStart    bool
		sawComplete bool
		created     = map[task.ID]bool{}
		done        = map[task.ID]bool{}
	)
	err := Scan(path, logger, func(rec Record) bool {
		switch rec.Type {
		case TypeSessionStart:
			if !sawStart {
				sawStart = true
				ctx.OriginalTask = rec.Task
				ctx.StartedAt = rec.Timestamp
			}
		case TypeSessionComplete:
			sawComplete = true
		case TypeSessionAbort:
			ctx.AbortReason = rec.Reason
		case TypePhaseStart, TypePhaseComplete:
			ctx.LastPhase = rec.Phase
		case TypeTaskCreated:
			if !created[rec.TaskID] {
				created[rec.TaskID] = true
				ctx.CreatedTasks = append(ctx.CreatedTasks, rec.TaskID)
			}
		case TypeTaskDone:
			done[rec.TaskID] = true
		}
		return true
	})
	if err != nil {
		return ResumeContext{}, err
	}

	for id := range done {
		ctx.CompletedTasks = append(ctx.CompletedTasks, id)
	}
	task.SortIDs(ctx.CompletedTasks)
	ctx.CanResume = sawStart && !sawComplete
	return ctx, nil
}
