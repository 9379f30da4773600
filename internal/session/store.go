package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists sessions as one JSON document per session under a single
// directory. Writes are atomic: serialize to a temporary file in the same
// directory, then rename over the canonical file. A reader never observes a
// partial write; filesystem rename is the sole consistency primitive.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the canonical session file location for an id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// ActivityLogPath returns the activity log location for an id.
func (s *Store) ActivityLogPath(id string) string {
	return filepath.Join(s.dir, id+".activity.jsonl")
}

// Save atomically persists the session. A failed persist is fatal for the
// session: the caller must abort rather than continue with unpersisted
// state.
func (s *Store) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, sess.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync session %s: %w", sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp session file: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path(sess.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session %s: %w", sess.ID, err)
	}
	return nil
}

// Load reconstructs a session from its persisted file.
func (s *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &sess, nil
}

// List loads every session in the store, newest first. Files that fail to
// decode are skipped.
func (s *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}
