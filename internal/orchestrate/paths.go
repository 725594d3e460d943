package orchestrate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/agentcoord/agentcoord/internal/journal"
)

// EnvBase overrides the default coordinator base directory.
const EnvBase = "AGENTCOORD_PATH"

const defaultBaseName = ".agentcoord"

// Paths derives every on-disk location from the coordinator base directory:
//
//	config.json
//	sessions/<sessionId>.jsonl
//	planning-sessions/<sessionId>.json
//	tasks/<taskId>.json
//	pointer.json
//	reports/<sessionId>/*.md
type Paths struct {
	Base string
}

// DefaultBase resolves the base directory from AGENTCOORD_PATH, falling
// back to .agentcoord in the working directory.
func DefaultBase() string {
	if p := strings.TrimSpace(os.Getenv(EnvBase)); p != "" {
		return p
	}
	return defaultBaseName
}

func NewPaths(base string) Paths {
	if strings.TrimSpace(base) == "" {
		base = DefaultBase()
	}
	return Paths{Base: base}
}

func (p Paths) SessionsDir() string { return filepath.Join(p.Base, "sessions") }

func (p Paths) Journal(id journal.SessionID) string {
	return filepath.Join(p.SessionsDir(), string(id)+".jsonl")
}

func (p Paths) PlanningDir() string { return filepath.Join(p.Base, "planning-sessions") }

func (p Paths) PlanningSnapshot(id journal.SessionID) string {
	return filepath.Join(p.PlanningDir(), string(id)+".json")
}

func (p Paths) TasksDir() string { return filepath.Join(p.Base, "tasks") }

func (p Paths) Pointer() string { return filepath.Join(p.Base, "pointer.json") }

func (p Paths) ReportsDir(id journal.SessionID) string {
	return filepath.Join(p.Base, "reports", string(id))
}
