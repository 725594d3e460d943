// Package agentio runs the planner, worker, and judge agents and parses
// their payloads. An agent is an opaque subprocess: it receives a prompt on
// stdin, replies on stdout, and writes diagnostics to stderr.
package agentio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/agentcoord/agentcoord/internal/config"
)

// Role names an agent role.
type Role string

const (
	RolePlanner Role = "planner"
	RoleWorker  Role = "worker"
	RoleJudge   Role = "judge"
)

// Invoker runs one agent invocation and returns the raw stdout reply.
type Invoker interface {
	Invoke(ctx context.Context, role Role, prompt string) (string, error)
}

// ExitError reports a non-zero agent exit. Callers inspect Code to decide
// whether the failure is worth retrying.
type ExitError struct {
	Role Role
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agentio: %s agent exited %d: %v", e.Role, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// SubprocessInvoker executes each role's configured argv as a child
// process. Cancellation of the context kills the child.
type SubprocessInvoker struct {
	commands map[Role][]string
	timeouts map[Role]time.Duration
	dir      string
	env      []string
	log      *slog.Logger
}

// NewSubprocessInvoker wires the agents section of the config into an
// invoker. dir is the child working directory; empty inherits the
// process's. extraEnv entries are appended to the inherited environment.
func NewSubprocessInvoker(agents config.AgentsConfig, dir string, extraEnv []string, logger *slog.Logger) *SubprocessInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessInvoker{
		commands: map[Role][]string{
			RolePlanner: agents.Planner.Command,
			RoleWorker:  agents.Worker.Command,
			RoleJudge:   agents.Judge.Command,
		},
		timeouts: map[Role]time.Duration{
			RolePlanner: agents.Planner.Timeout(),
			RoleWorker:  agents.Worker.Timeout(),
			RoleJudge:   agents.Judge.Timeout(),
		},
		dir: dir,
		env: extraEnv,
		log: logger,
	}
}

func (s *SubprocessInvoker) Invoke(ctx context.Context, role Role, prompt string) (string, error) {
	argv := s.commands[role]
	if len(argv) == 0 {
		return "", fmt.Errorf("agentio: no command configured for %s agent", role)
	}

	ictx := ctx
	if to := s.timeouts[role]; to > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, to)
		defer cancel()
	}

	cmd := exec.CommandContext(ictx, argv[0], argv[1:]...)
	if s.dir != "" {
		cmd.Dir = s.dir
	}
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	if stderr.Len() > 0 {
		s.log.Debug("agent stderr", "role", role, "stderr", truncate(stderr.String(), 2048))
	}
	if err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		s.log.Warn("agent invocation failed",
			"role", role, "exit", exitCode, "duration", dur, "error", err)
		if cause := ictx.Err(); cause != nil {
			return "", fmt.Errorf("agentio: %s agent: %w", role, cause)
		}
		return "", &ExitError{Role: role, Code: exitCode, Err: err}
	}

	s.log.Debug("agent reply",
		"role", role, "duration", dur, "stdout_bytes", stdout.Len())
	return stdout.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// ScriptedReply is one canned ScriptedInvoker response.
type ScriptedReply struct {
	Text string
	Err  error
}

// ScriptedInvoker replays canned replies per role in order and records
// every prompt it receives. It backs tests and dry runs.
type ScriptedInvoker struct {
	mu      sync.Mutex
	replies map[Role][]ScriptedReply
	prompts map[Role][]string
}

func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{
		replies: map[Role][]ScriptedReply{},
		prompts: map[Role][]string{},
	}
}

// Script queues replies for a role.
func (s *ScriptedInvoker) Script(role Role, replies ...ScriptedReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[role] = append(s.replies[role], replies...)
}

// Reply queues plain successful replies for a role.
func (s *ScriptedInvoker) Reply(role Role, texts ...string) {
	for _, t := range texts {
		s.Script(role, ScriptedReply{Text: t})
	}
}

// Prompts returns the prompts a role has received so far.
func (s *ScriptedInvoker) Prompts(role Role) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[role]...)
}

func (s *ScriptedInvoker) Invoke(ctx context.Context, role Role, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[role] = append(s.prompts[role], prompt)
	queue := s.replies[role]
	if len(queue) == 0 {
		return "", fmt.Errorf("agentio: script exhausted for %s agent", role)
	}
	next := queue[0]
	s.replies[role] = queue[1:]
	return next.Text, next.Err
}
