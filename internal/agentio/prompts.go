package agentio

import (
	"fmt"
	"strings"

	"github.com/agentcoord/agentcoord/internal/task"
)

const plannerInstructions = `You are the planning agent for an autonomous code-change session.
Decompose the instruction into the minimum set of executable tasks.

Output ONLY a JSON array (no wrapper, no markdown, no prose):
[
  {
    "id": "optional-stable-id",
    "title": "<imperative one-line summary>",
    "description": "<what to change and where>",
    "dependencies": ["<id of a prerequisite task>"],
    "taskType": "implementation|investigation|documentation|integration",
    "priority": "low|normal|high"
  }
]

Rules:
- Tasks without a dependency edge between them may run in parallel.
- Add a dependency only for a real data or ordering need.
- Ids are optional; omitted ids are assigned automatically.
- Never produce a dependency cycle.`

const workerInstructions = `You are a worker agent executing one task of a code-change session.
Apply the task to the repository and reply with the complete contents of
every file you changed.

Output ONLY a JSON object (no wrapper, no markdown, no prose):
{
  "files": {"<path>": "<full new contents>"},
  "summary": "<one paragraph describing what you did>"
}`

const judgeInstructions = `You are the judge agent reviewing a finished code-change session.
Assess whether the work satisfies the original instruction. Reply with a
short free-text verdict: what was accomplished, what failed or was
blocked, and any follow-up you recommend.`

// PlannerPrompt renders the planner request for one instruction.
func PlannerPrompt(instruction string) string {
	var b strings.Builder
	b.WriteString(plannerInstructions)
	b.WriteString("\n\nInstruction:\n")
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n")
	return b.String()
}

// WorkerPrompt renders the worker request for one task attempt. Retries
// carry the previous failure so the agent does not repeat it.
func WorkerPrompt(t *task.Task, attempt int) string {
	var b strings.Builder
	b.WriteString(workerInstructions)
	fmt.Fprintf(&b, "\n\nTask %s: %s\n", t.ID, t.Title)
	if strings.TrimSpace(t.Description) != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}
	fmt.Fprintf(&b, "Type: %s\nPriority: %s\nAttempt: %d of %d\n", t.Type, t.Priority, attempt, t.MaxAttempts)
	if attempt > 1 && strings.TrimSpace(t.LastError) != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed:\n%s\nAddress the failure; do not repeat the same approach.\n", t.LastError)
	}
	return b.String()
}

// JudgePrompt renders the judge request over the session's aggregate
// outcome report.
func JudgePrompt(instruction, report string) string {
	var b strings.Builder
	b.WriteString(judgeInstructions)
	b.WriteString("\n\nOriginal instruction:\n")
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\nSession outcome:\n")
	b.WriteString(strings.TrimSpace(report))
	b.WriteString("\n")
	return b.String()
}
