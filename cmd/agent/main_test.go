package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentcoord/agentcoord/internal/config"
	"github.com/agentcoord/agentcoord/internal/journal"
	"github.com/agentcoord/agentcoord/internal/task"
)

// execCLI drives the command tree the way main does, mapping the error
// back to the process exit code while capturing stdout in buf.
func execCLI(t *testing.T, buf io.Writer, args ...string) int {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var xe *exitCodeError
		if errors.As(err, &xe) {
			return xe.code
		}
		return exitUserError
	}
	return exitOK
}

func writeFixtureSession(t *testing.T, base string, id journal.SessionID, recs ...journal.Record) {
	t.Helper()
	path := filepath.Join(base, "sessions", string(id)+".jsonl")
	w, err := journal.Open(path, id)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for _, rec := range recs {
		if err := w.Append(rec); err != nil {
			t.Fatalf("append %s: %v", rec.Type, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	if err := journal.SetPointer(filepath.Join(base, "pointer.json"), id, path); err != nil {
		t.Fatalf("set pointer: %v", err)
	}
}

func TestPlanWithoutInstruction(t *testing.T) {
	if code := run([]string{"--path", t.TempDir(), "plan"}); code != exitUserError {
		t.Fatalf("exit = %d, want %d", code, exitUserError)
	}
}

func TestPlanResumeRejectsInstruction(t *testing.T) {
	code := run([]string{"--path", t.TempDir(), "plan", "--resume", "extra instruction"})
	if code != exitUserError {
		t.Fatalf("exit = %d, want %d", code, exitUserError)
	}
}

func TestUnknownCommand(t *testing.T) {
	if code := run([]string{"definitely-not-a-command"}); code != exitUserError {
		t.Fatalf("exit = %d, want %d", code, exitUserError)
	}
}

func TestRunRequiresSessionFlag(t *testing.T) {
	if code := run([]string{"--path", t.TempDir(), "run"}); code != exitUserError {
		t.Fatalf("exit = %d, want %d", code, exitUserError)
	}
}

func TestStatusWithoutSessions(t *testing.T) {
	if code := run([]string{"--path", t.TempDir(), "status"}); code != exitUserError {
		t.Fatalf("exit = %d, want %d", code, exitUserError)
	}
}

func TestStatusMissingSession(t *testing.T) {
	code := run([]string{"--path", t.TempDir(), "status", "--session", "ses_NOPE"})
	if code != exitUserError {
		t.Fatalf("exit = %d, want %d", code, exitUserError)
	}
}

func TestStatusCompletedSession(t *testing.T) {
	base := t.TempDir()
	writeFixtureSession(t, base, "ses_OK",
		journal.SessionStart("tidy the docs"),
		journal.TaskCreated(&task.Task{ID: "t1", Title: "tidy"}),
		journal.TaskDone("t1", nil),
		journal.SessionComplete("all tidy", journal.Metrics{Tasks: 1, Done: 1}),
	)

	var buf bytes.Buffer
	if code := execCLI(t, &buf, "--path", base, "status"); code != exitOK {
		t.Fatalf("exit = %d, want %d\n%s", code, exitOK, buf.String())
	}
	out := buf.String()
	if !strings.Contains(out, "ses_OK") || !strings.Contains(out, "completed") {
		t.Fatalf("status output missing session or state:\n%s", out)
	}
	if !strings.Contains(out, "all tidy") {
		t.Fatalf("status output missing summary:\n%s", out)
	}
}

func TestStatusFailedSessionExitsNonzero(t *testing.T) {
	base := t.TempDir()
	writeFixtureSession(t, base, "ses_BAD",
		journal.SessionStart("break things"),
		journal.TaskCreated(&task.Task{ID: "t1", Title: "doomed"}),
		journal.TaskFailed("t1", "no luck"),
		journal.SessionComplete("nothing landed", journal.Metrics{Tasks: 1, Failed: 1}),
	)

	var buf bytes.Buffer
	if code := execCLI(t, &buf, "--path", base, "status"); code != exitExecution {
		t.Fatalf("exit = %d, want %d", code, exitExecution)
	}
}

func TestStatusAbortedSessionExitsNonzero(t *testing.T) {
	base := t.TempDir()
	writeFixtureSession(t, base, "ses_INT",
		journal.SessionStart("long job"),
		journal.SessionAbort("signal"),
	)

	var buf bytes.Buffer
	if code := execCLI(t, &buf, "--path", base, "status"); code != exitExecution {
		t.Fatalf("exit = %d, want %d", code, exitExecution)
	}
	if !strings.Contains(buf.String(), "aborted (signal)") {
		t.Fatalf("status output missing abort reason:\n%s", buf.String())
	}
}

func TestStatusJSON(t *testing.T) {
	base := t.TempDir()
	writeFixtureSession(t, base, "ses_J",
		journal.SessionStart("emit json"),
		journal.SessionComplete("done", journal.Metrics{Tasks: 1, Done: 1}),
	)

	var buf bytes.Buffer
	if code := execCLI(t, &buf, "--path", base, "status", "--json"); code != exitOK {
		t.Fatalf("exit = %d, want %d\n%s", code, exitOK, buf.String())
	}
	var st struct {
		SessionID string `json:"sessionId"`
		State     string `json:"state"`
		Summary   string `json:"summary"`
	}
	if err := json.Unmarshal(buf.Bytes(), &st); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, buf.String())
	}
	if st.SessionID != "ses_J" || st.State != "completed" || st.Summary != "done" {
		t.Fatalf("status = %+v", st)
	}
}

// TestPlanRunStatus exercises the binary's whole surface against real
// subprocess agents: cat replays canned planner and worker payloads,
// echo plays the judge.
func TestPlanRunStatus(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skipf("cat not available: %v", err)
	}
	echoPath, err := exec.LookPath("echo")
	if err != nil {
		t.Skipf("echo not available: %v", err)
	}

	work := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(work); err != nil {
		t.Fatalf("chdir %s: %v", work, err)
	}
	t.Cleanup(func() { os.Chdir(oldWD) })
	base := filepath.Join(work, "state")

	planPath := filepath.Join(work, "plan.json")
	replyPath := filepath.Join(work, "reply.json")
	writeFile(t, planPath, `[{"id": "t1", "title": "write hello.txt", "description": "write hello.txt with the hello text"}]`)
	writeFile(t, replyPath, `{"files": {"hello.txt": "hello from the worker\n"}, "summary": "wrote hello.txt"}`)

	cfg := config.Default()
	cfg.Agents.Planner.Command = []string{catPath, planPath}
	cfg.Agents.Worker.Command = []string{catPath, replyPath}
	cfg.Agents.Judge.Command = []string{echoPath, "ship it"}
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir base: %v", err)
	}
	writeFile(t, filepath.Join(base, "config.json"), string(rawCfg))

	var buf bytes.Buffer
	if code := execCLI(t, &buf, "--path", base, "plan", "add a hello file"); code != exitOK {
		t.Fatalf("plan exit = %d, want %d\n%s", code, exitOK, buf.String())
	}
	if !strings.Contains(buf.String(), "t1") || !strings.Contains(buf.String(), "agent run --session") {
		t.Fatalf("plan output = %q", buf.String())
	}

	ptr, err := journal.LoadPointer(filepath.Join(base, "pointer.json"))
	if err != nil || ptr.Current == "" {
		t.Fatalf("pointer after plan: %v (current %q)", err, ptr.Current)
	}

	buf.Reset()
	if code := execCLI(t, &buf, "--path", base, "run", "--session", string(ptr.Current)); code != exitOK {
		t.Fatalf("run exit = %d, want %d\n%s", code, exitOK, buf.String())
	}
	if !strings.Contains(buf.String(), "1/1 done") || !strings.Contains(buf.String(), "ship it") {
		t.Fatalf("run output = %q", buf.String())
	}

	data, err := os.ReadFile(filepath.Join(work, "hello.txt"))
	if err != nil {
		t.Fatalf("read hello.txt: %v", err)
	}
	if string(data) != "hello from the worker\n" {
		t.Fatalf("hello.txt = %q", data)
	}

	buf.Reset()
	if code := execCLI(t, &buf, "--path", base, "status"); code != exitOK {
		t.Fatalf("status exit = %d, want %d\n%s", code, exitOK, buf.String())
	}
	if !strings.Contains(buf.String(), "completed") || !strings.Contains(buf.String(), "1 done") {
		t.Fatalf("status output = %q", buf.String())
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
