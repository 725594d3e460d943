package journal

import (
	"errors"
	"io/fs"

	"github.com/agentcoord/agentcoord/internal/fsutil"
)

// Pointer maps session ids to their journal paths and names the most
// recently started session. It is rewritten whole with write-tmp-rename on
// every session start and completion.
type Pointer struct {
	Current  SessionID            `json:"current,omitempty"`
	Sessions map[SessionID]string `json:"sessions"`
}

// LoadPointer reads the pointer file; a missing file is an empty pointer.
func LoadPointer(path string) (Pointer, error) {
	var p Pointer
	err := fsutil.ReadJSONStrict(path, &p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Pointer{Sessions: map[SessionID]string{}}, nil
		}
		return Pointer{}, err
	}
	if p.Sessions == nil {
		p.Sessions = map[SessionID]string{}
	}
	return p, nil
}

// SetPointer records id -> journalPath and marks id current, atomically.
func SetPointer(path string, id SessionID, journalPath string) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	p, err := LoadPointer(path)
	if err != nil {
		return err
	}
	p.Sessions[id] = journalPath
	p.Current = id
	return fsutil.WriteJSONAtomic(path, p)
}
