// Package session manages durable session directories and their metadata.
//
// Every working directory gets its own bucket under the share directory,
// keyed by the md5 of the absolute path:
//
//	<share>/sessions/<md5(workdir)>/<session-id>/
//	    wire.jsonl    durable wire log (see pkg/wire)
//	    session.json  descriptor
//	    lock          single-writer ownership (pid inside)
//
// A meta.db SQLite index at the bucket level records every session plus the
// last-used session id, which powers --continue and session listing.
package session

import (
	"crypto/md5" //nolint:gosec // keys the per-workdir directory name, not a security boundary
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"agentcore/pkg/logx"
	"agentcore/pkg/wire"
)

const descriptorFileName = "session.json"

// ErrNoSessions is returned by Continue when the workdir has no prior session.
var ErrNoSessions = errors.New("no previous session for this working directory")

// ErrSessionNotFound is returned when a requested session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the session bucket for one working directory.
type Manager struct {
	meta     *metaDB
	logger   *logx.Logger
	shareDir string
	workDir  string // absolute
	dir      string // <share>/sessions/<md5(workDir)>
}

// Session is an open, lock-owned session. Callers must Close it when done so
// the lock is released and the index row refreshed.
type Session struct {
	mgr       *Manager
	lock      *fileLock
	ID        string
	WorkDir   string
	Dir       string
	CreatedAt time.Time
	Resumed   bool
}

// Record is one row of the session index, newest first in List output.
type Record struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     int
}

// descriptor is the session.json shape.
type descriptor struct {
	ID        string    `json:"id"`
	WorkDir   string    `json:"workdir"`
	CreatedAt time.Time `json:"created_at"`
}

// NewManager opens (creating if needed) the session bucket for workDir.
func NewManager(shareDir, workDir string) (*Manager, error) {
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	dir := filepath.Join(shareDir, "sessions", workdirHash(absWork))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	meta, err := openMeta(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, err
	}

	return &Manager{
		meta:     meta,
		logger:   logx.NewLogger("session"),
		shareDir: shareDir,
		workDir:  absWork,
		dir:      dir,
	}, nil
}

// workdirHash derives the bucket name for an absolute working directory.
func workdirHash(absWorkDir string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(absWorkDir))) //nolint:gosec // directory naming only
}

// Close releases the metadata index. Open sessions must be closed separately.
func (m *Manager) Close() error {
	return m.meta.Close()
}

// Dir returns the bucket directory for this working directory.
func (m *Manager) Dir() string {
	return m.dir
}

// WorkDir returns the absolute working directory the bucket is keyed by.
func (m *Manager) WorkDir() string {
	return m.workDir
}

// Create starts a fresh session: new id, new directory, acquired lock,
// index row, and last-session pointer.
func (m *Manager) Create() (*Session, error) {
	id := uuid.New().String()
	dir := filepath.Join(m.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	desc := descriptor{ID: id, WorkDir: m.workDir, CreatedAt: now}
	if err := writeDescriptor(dir, &desc); err != nil {
		_ = lock.Release()
		return nil, err
	}

	if err := m.meta.insertSession(id, now); err != nil {
		_ = lock.Release()
		return nil, err
	}
	if err := m.meta.setLastSessionID(id); err != nil {
		_ = lock.Release()
		return nil, err
	}

	m.logger.Info("created session %s in %s", id, dir)
	return &Session{
		mgr:       m,
		lock:      lock,
		ID:        id,
		WorkDir:   m.workDir,
		Dir:       dir,
		CreatedAt: now,
	}, nil
}

// Resume reopens an existing session by id, acquiring its lock. It fails with
// ErrSessionNotFound if the directory is missing and ErrLocked if a live
// process still owns it. Stale locks (dead pid) are broken silently.
func (m *Manager) Resume(id string) (*Session, error) {
	dir := filepath.Join(m.dir, id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to stat session directory: %w", err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	desc, err := readDescriptor(dir)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	if err := m.meta.setLastSessionID(id); err != nil {
		_ = lock.Release()
		return nil, err
	}

	m.logger.Info("resumed session %s", id)
	return &Session{
		mgr:       m,
		lock:      lock,
		ID:        desc.ID,
		WorkDir:   desc.WorkDir,
		Dir:       dir,
		CreatedAt: desc.CreatedAt,
		Resumed:   true,
	}, nil
}

// Continue resumes the most recently used session for this working directory.
func (m *Manager) Continue() (*Session, error) {
	id, err := m.meta.lastSessionID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNoSessions
	}
	return m.Resume(id)
}

// List returns all indexed sessions for this working directory, newest first.
func (m *Manager) List() ([]Record, error) {
	return m.meta.listSessions()
}

// Delete removes a session directory and its index row. It refuses while a
// live process owns the session's lock.
func (m *Manager) Delete(id string) error {
	dir := filepath.Join(m.dir, id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return fmt.Errorf("failed to stat session directory: %w", err)
	}

	if owner, held := lockOwner(dir); held {
		return fmt.Errorf("%w (pid %d)", ErrLocked, owner)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	if err := m.meta.deleteSession(id); err != nil {
		return err
	}

	last, err := m.meta.lastSessionID()
	if err != nil {
		return err
	}
	if last == id {
		if err := m.meta.setLastSessionID(""); err != nil {
			return err
		}
	}

	m.logger.Info("deleted session %s", id)
	return nil
}

// LogPath returns the session's wire log location.
func (s *Session) LogPath() string {
	return filepath.Join(s.Dir, wire.LogFileName)
}

// RecordTurn bumps the session's turn counter in the index. Called at the end
// of each completed turn.
func (s *Session) RecordTurn() error {
	return s.mgr.meta.recordTurn(s.ID)
}

// Close releases the session lock and refreshes the index timestamp.
func (s *Session) Close() error {
	if err := s.mgr.meta.touchSession(s.ID); err != nil {
		s.mgr.logger.Warn("failed to touch session %s on close: %v", s.ID, err)
	}
	return s.lock.Release()
}

func writeDescriptor(dir string, desc *descriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session descriptor: %w", err)
	}
	path := filepath.Join(dir, descriptorFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session descriptor: %w", err)
	}
	return nil
}

func readDescriptor(dir string) (*descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, descriptorFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read session descriptor: %w", err)
	}
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse session descriptor: %w", err)
	}
	return &desc, nil
}
