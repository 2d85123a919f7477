package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCursorRegression is returned when a caller tries to move the
// cursor backwards without an explicit Reset.
var ErrCursorRegression = fmt.Errorf("cursor may not decrease")

// cursorKeyPrefix namespaces the watermark per deployment environment
// so switching between staging and production never replays the wrong
// feed.
const cursorKeyPrefix = "change_cursor."

// FileCursorStore persists the change feed cursor in a small JSON
// key-value file, deliberately separate from the entity store. Writes
// go through a temp file and rename so a crash never leaves a torn
// file.
type FileCursorStore struct {
	path string
	key  string

	mu sync.Mutex
}

// NewFileCursorStore creates a cursor store at path, namespaced by
// environment (e.g. "production", "staging").
func NewFileCursorStore(path, environment string) *FileCursorStore {
	return &FileCursorStore{
		path: path,
		key:  cursorKeyPrefix + environment,
	}
}

// Cursor returns the persisted watermark, zero when none exists yet.
// Zero is what routes the next sync through bootstrap.
func (s *FileCursorStore) Cursor() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return 0, err
	}
	return values[s.key], nil
}

// SetCursor advances the watermark. Moving backwards is refused;
// rewinds go through Reset.
func (s *FileCursorStore) SetCursor(v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if v < values[s.key] {
		return fmt.Errorf("%w: have %d, got %d", ErrCursorRegression, values[s.key], v)
	}
	values[s.key] = v
	return s.save(values)
}

// Reset clears the watermark, forcing the next sync through bootstrap.
func (s *FileCursorStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	delete(values, s.key)
	return s.save(values)
}

func (s *FileCursorStore) load() (map[string]int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("failed to read cursor file: %w", err)
	}

	values := map[string]int64{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("cursor file corrupt: %w", err)
		}
	}
	return values, nil
}

func (s *FileCursorStore) save(values map[string]int64) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cursor directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cursor file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}
	return nil
}
