package indexing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CursorFile is the progress file name inside the cursor directory.
const CursorFile = "cursor.json"

// Cursor records how far a corpus run got. A run resumes only when collection,
// corpus size and batch size all match.
type Cursor struct {
	Collection  string    `json:"collection"`
	Files       int       `json:"files"`
	BatchSize   int       `json:"batch_size"`
	BatchesDone int       `json:"batches_done"`
	Documents   int       `json:"documents"`
	Skipped     int       `json:"skipped"`
	Done        bool      `json:"done"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c Cursor) matches(collection string, files, batchSize int) bool {
	return c.Collection == collection && c.Files == files && c.BatchSize == batchSize
}

// cursorStore persists a Cursor as JSON. A zero path disables persistence.
type cursorStore struct {
	path string
}

func newCursorStore(dir string) cursorStore {
	if dir == "" {
		return cursorStore{}
	}
	return cursorStore{path: filepath.Join(filepath.Clean(dir), CursorFile)}
}

func (s cursorStore) load() (Cursor, error) {
	var c Cursor
	if s.path == "" {
		return c, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read cursor %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse cursor %s: %w", s.path, err)
	}
	return c, nil
}

func (s cursorStore) save(c Cursor) error {
	if s.path == "" {
		return nil
	}
	c.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit cursor: %w", err)
	}
	return nil
}

func (s cursorStore) reset() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cursor: %w", err)
	}
	return nil
}
