package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentcoord/agentcoord/internal/fsutil"
)

// ErrNotFound is returned by Store.Read for an unknown task id.
var ErrNotFound = errors.New("task not found")

// Store persists one JSON file per task under dir. It performs no locking:
// the scheduler guarantees at most one writer per task id (a RUNNING task
// has exactly one worker).
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("task store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id ID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

// Write persists the task with write-tmp-rename semantics.
func (s *Store) Write(t *Task) error {
	if t == nil {
		return fmt.Errorf("task is nil")
	}
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	return fsutil.WriteJSONAtomic(s.path(t.ID), t)
}

func (s *Store) Read(id ID) (*Task, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return &t, nil
}

// List returns every stored task sorted by id. Non-JSON entries in the
// directory are skipped.
func (s *Store) List() ([]*Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := ID(strings.TrimSuffix(e.Name(), ".json"))
		t, err := s.Read(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
