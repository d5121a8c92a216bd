package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const metaFileName = "meta.db"

const metaSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	turns      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS workdir_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const lastSessionKey = "last_session_id"

// metaDB is the per-workdir session index. SQLite in WAL mode with a busy
// timeout and a single connection: one writer at a time, readers unblocked.
type metaDB struct {
	db *sql.DB
}

func openMeta(path string) (*metaDB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping session index: %w", err)
	}

	if _, err := db.Exec(metaSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session index schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &metaDB{db: db}, nil
}

func (m *metaDB) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close session index: %w", err)
	}
	return nil
}

func (m *metaDB) insertSession(id string, created time.Time) error {
	ts := created.UTC().Format(time.RFC3339Nano)
	_, err := m.db.Exec(`
		INSERT INTO sessions (id, created_at, updated_at, turns)
		VALUES (?, ?, ?, 0)
	`, id, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (m *metaDB) touchSession(id string) error {
	_, err := m.db.Exec(`
		UPDATE sessions
		SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to touch session index row: %w", err)
	}
	return nil
}

func (m *metaDB) recordTurn(id string) error {
	_, err := m.db.Exec(`
		UPDATE sessions
		SET turns = turns + 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

func (m *metaDB) deleteSession(id string) error {
	_, err := m.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session index row: %w", err)
	}
	return nil
}

func (m *metaDB) listSessions() ([]Record, error) {
	rows, err := m.db.Query(`
		SELECT id, created_at, updated_at, turns
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query session index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		var created, updated string
		if err := rows.Scan(&rec.ID, &created, &updated, &rec.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan session index row: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session index: %w", err)
	}
	return records, nil
}

func (m *metaDB) lastSessionID() (string, error) {
	var id string
	err := m.db.QueryRow(`
		SELECT value FROM workdir_meta WHERE key = ?
	`, lastSessionKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last session id: %w", err)
	}
	return id, nil
}

func (m *metaDB) setLastSessionID(id string) error {
	_, err := m.db.Exec(`
		INSERT INTO workdir_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastSessionKey, id)
	if err != nil {
		return fmt.Errorf("failed to store last session id: %w", err)
	}
	return nil
}
