package orchestrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/task"
)

// Reports are derived artifacts for humans; the journal stays the record
// of record. Report failures are logged and never fail the session.

func (o *Orchestrator) writePlanningReports(id journal.SessionID, instruction string, tasks []*task.Task) {
	if !o.cfg.WriteReports() {
		return
	}
	dir := o.paths.ReportsDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.log.Warn("reports dir", "session", id, "error", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Planning report\n\n")
	fmt.Fprintf(&b, "- Session: `%s`\n", id)
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Instruction: %s\n\n", instruction)
	fmt.Fprintf(&b, "| ID | Title | Type | Priority | Depends on |\n")
	fmt.Fprintf(&b, "|----|-------|------|----------|------------|\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			t.ID, t.Title, t.Type, t.Priority, joinIDs(t.Dependencies))
	}
	o.writeReport(id, filepath.Join(dir, "00-planning.md"), b.String())

	b.Reset()
	fmt.Fprintf(&b, "# Task breakdown\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n## %s: %s\n\n", t.ID, t.Title)
		if t.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(t.Description))
		}
		fmt.Fprintf(&b, "- Type: %s\n- Priority: %s\n", t.Type, t.Priority)
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&b, "- Depends on: %s\n", joinIDs(t.Dependencies))
		}
	}
	o.writeReport(id, filepath.Join(dir, "01-task-breakdown.md"), b.String())
}

func (o *Orchestrator) writeSummaryReport(id journal.SessionID, instruction string, tasks []*task.Task, res *RunResult) {
	if !o.cfg.WriteReports() {
		return
	}
	dir := o.paths.ReportsDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.log.Warn("reports dir", "session", id, "error", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session summary\n\n")
	fmt.Fprintf(&b, "- Session: `%s`\n", id)
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Instruction: %s\n", instruction)
	fmt.Fprintf(&b, "- Done: %d, failed: %d, blocked: %d (of %d tasks)\n",
		len(res.Completed), len(res.Failed), len(res.Blocked), len(tasks))
	fmt.Fprintf(&b, "- Attempts: %d, duration: %s, mean review score: %.1f\n\n",
		res.Metrics.Attempts, time.Duration(res.Metrics.DurationMS)*time.Millisecond, res.Metrics.MeanScore)

	fmt.Fprintf(&b, "| ID | State | Attempts | Last error |\n")
	fmt.Fprintf(&b, "|----|-------|----------|------------|\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", t.ID, t.State, t.Attempts, t.LastError)
	}

	if res.Summary != "" {
		fmt.Fprintf(&b, "\n## Verdict\n\n%s\n", strings.TrimSpace(res.Summary))
	}
	o.writeReport(id, filepath.Join(dir, "summary.md"), b.String())
}

func (o *Orchestrator) writeReport(id journal.SessionID, path, content string) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		o.log.Warn("report write failed", "session", id, "path", path, "error", err)
		return
	}
	o.log.Debug("report written", "session", id, "path", path)
}

func joinIDs(ids []task.ID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
