package agentio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentcoord/agentcoord/internal/task"
)

// Agent replies are schema-validated before the typed decode so a
// malformed payload is rejected with a precise reason instead of half
// filling a struct.

const planSchemaJSON = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["title", "description"],
    "properties": {
      "id": {"type": "string"},
      "title": {"type": "string", "minLength": 1},
      "description": {"type": "string"},
      "dependencies": {"type": "array", "items": {"type": "string"}},
      "taskType": {"type": "string"},
      "priority": {"type": "string"}
    },
    "additionalProperties": false
  }
}`

const workerReplySchemaJSON = `{
  "type": "object",
  "required": ["files"],
  "properties": {
    "files": {"type": "object", "additionalProperties": {"type": "string"}},
    "summary": {"type": "string"}
  },
  "additionalProperties": false
}`

var (
	planSchema        = compileSchema("plan.json", planSchemaJSON)
	workerReplySchema = compileSchema("worker_reply.json", workerReplySchemaJSON)
)

func compileSchema(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(err)
	}
	return s
}

// StripFences removes a surrounding markdown code fence
// (```json ... ```) from an agent reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// PlanTask is one entry of the planner's reply array.
type PlanTask struct {
	ID           string   `json:"id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
	TaskType     string   `json:"taskType,omitempty"`
	Priority     string   `json:"priority,omitempty"`
}

// ParsePlan validates the planner's raw reply and converts it into tasks.
// Entries without an id get a fresh UUID; a duplicate id is a planning
// error, as is an unknown taskType or priority. maxAttempts is stamped on
// every task.
func ParsePlan(raw string, maxAttempts int) ([]*task.Task, error) {
	stripped := StripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(stripped), &doc); err != nil {
		return nil, fmt.Errorf("planner reply is not JSON: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("planner reply rejected by schema: %w", err)
	}

	var entries []PlanTask
	if err := json.Unmarshal([]byte(stripped), &entries); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("planner returned 0 tasks")
	}

	seen := make(map[task.ID]bool, len(entries))
	tasks := make([]*task.Task, 0, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = uuid.New().String()
		}

		deps := make([]task.ID, 0, len(e.Dependencies))
		for _, d := range e.Dependencies {
			deps = append(deps, task.ID(d))
		}

		t := &task.Task{
			ID:           task.ID(id),
			Title:        e.Title,
			Description:  e.Description,
			Dependencies: deps,
			Type:         task.Type(e.TaskType),
			Priority:     task.Priority(e.Priority),
			State:        task.StateNew,
			MaxAttempts:  maxAttempts,
		}
		if err := t.Normalize(); err != nil {
			return nil, fmt.Errorf("plan entry %d: %w", i, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("plan contains duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// WorkerReply is the worker agent's JSON payload: the files it changed
// (path to full contents) and a human-readable summary.
type WorkerReply struct {
	Files   map[string]string `json:"files"`
	Summary string            `json:"summary,omitempty"`
}

// ParseWorkerReply validates and decodes a worker reply. The caller treats
// a parse failure as a retryable condition: the worker is prompted again
// with the error.
func ParseWorkerReply(raw string) (WorkerReply, error) {
	stripped := StripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(stripped), &doc); err != nil {
		return WorkerReply{}, fmt.Errorf("worker reply is not JSON: %w", err)
	}
	if err := workerReplySchema.Validate(doc); err != nil {
		return WorkerReply{}, fmt.Errorf("worker reply rejected by schema: %w", err)
	}

	var rep WorkerReply
	if err := json.Unmarshal([]byte(stripped), &rep); err != nil {
		return WorkerReply{}, fmt.Errorf("decode worker reply: %w", err)
	}
	return rep, nil
}
