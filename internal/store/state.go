// Package store persists position state and trade records.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"spotbot-go/internal/position"
)

// StateFile keeps the position in a JSON file replaced atomically on save.
type StateFile struct {
	path string
	mu   sync.Mutex
}

// NewStateFile returns a store rooted at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the backing file path.
func (s *StateFile) Path() string { return s.path }

// Load reads the persisted state. A missing file yields Flat; an unreadable
// or inconsistent one is an error.
func (s *StateFile) Load() (position.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return position.Flat(), nil
		}
		return position.State{}, fmt.Errorf("read state: %w", err)
	}
	var st position.State
	if err := json.Unmarshal(data, &st); err != nil {
		return position.State{}, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	if !st.Valid() {
		return position.State{}, fmt.Errorf("state %s violates invariant: %s", s.path, st)
	}
	return st, nil
}

// Save writes to a temp file, syncs it and renames it over the target.
func (s *StateFile) Save(st position.State) error {
	if !st.Valid() {
		return fmt.Errorf("refusing to save invalid state %s", st)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename state: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
