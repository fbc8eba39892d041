package robinhood

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// sessionSchemaVersion is bumped whenever the persisted record shape
// changes. A record with an unknown version is treated as absent.
const sessionSchemaVersion = 1

type sessionRecord struct {
	SchemaVersion int     `json:"schema_version"`
	Session       Session `json:"session"`
}

// SessionStore persists the session at a fixed per-user path. Writes go to a
// temp file in the same directory followed by an atomic rename, so a crash
// or a concurrent writer never leaves a partial record behind.
type SessionStore struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// NewSessionStore creates a store writing to path.
func NewSessionStore(path string, log *slog.Logger) *SessionStore {
	if log == nil {
		log = slog.Default()
	}
	return &SessionStore{path: path, log: log.With("component", "session_store")}
}

// Save persists the session atomically with owner-only permissions.
func (s *SessionStore) Save(session *Session) error {
	if session == nil {
		return fmt.Errorf("no session to save")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(sessionRecord{
		SchemaVersion: sessionSchemaVersion,
		Session:       *session,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting session file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}

	s.log.Debug("session saved", "path", s.path)
	return nil
}

// Load reads and structurally validates the persisted session. Any defect
// (missing file, malformed JSON, unknown schema version, missing required
// fields) yields nil: a corrupt store means "no session" and the caller
// re-authenticates. Defects are logged, never surfaced as errors.
func (s *SessionStore) Load() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("session file unreadable, ignoring", "path", s.path, "error", err)
		}
		return nil
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("session file corrupt, ignoring", "path", s.path, "error", err)
		return nil
	}
	if rec.SchemaVersion != sessionSchemaVersion {
		s.log.Warn("session schema version mismatch, ignoring",
			"path", s.path, "version", rec.SchemaVersion, "want", sessionSchemaVersion)
		return nil
	}

	sess := rec.Session
	if sess.AccessToken == "" || sess.RefreshToken == "" || sess.DeviceToken == "" {
		s.log.Warn("session record incomplete, ignoring", "path", s.path)
		return nil
	}

	return &sess
}

// Clear removes the persisted record. A missing file is not an error.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// Path returns the location of the persisted record.
func (s *SessionStore) Path() string { return s.path }
