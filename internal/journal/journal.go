package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("journal is closed")

// Writer appends records to one session's NDJSON journal. A single mutex
// serialises appends; timestamps are stamped inside the critical section
// and clamped so they never decrease, which keeps the journal's timestamp
// invariant true under concurrent callers.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	id     SessionID
	lastTS time.Time
	closed bool
}

// Open creates or re-opens the journal at path for appending. Re-opening
// an existing journal is how a resumed session continues the same file.
func Open(path string, id SessionID) (*Writer, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, path: path, id: id}, nil
}

func (w *Writer) Path() string       { return w.path }
func (w *Writer) Session() SessionID { return w.id }

// Append validates the record, stamps sessionId and a non-decreasing UTC
// timestamp, and writes it as one line in a single write call so a crash
// never leaves a torn record visible to line-oriented readers. Terminal
// records are fsynced before returning.
func (w *Writer) Append(rec Record) error {
	if w == nil {
		return fmt.Errorf("journal writer is nil")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	if rec.SessionID == "" {
		rec.SessionID = w.id
	}
	now := time.Now().UTC()
	if now.Before(w.lastTS) {
		now = w.lastTS
	}
	w.lastTS = now
	rec.Timestamp = now

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line := append(b, '\n')
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	if rec.Type.Terminal() {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("journal sync: %w", err)
		}
	}
	return nil
}

// Sync flushes buffered data to durable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.f.Sync()
}

// Close syncs and releases the file handle. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
