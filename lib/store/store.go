// Package store keeps compiled scripts and VM save slots in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/sheep/pkg/bytecode"
)

var log = commonlog.GetLogger("sheep.store")

// ErrNotFound indicates the requested script or save doesn't exist
var ErrNotFound = errors.New("not found")

// Memory opens a private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS scripts (
	name    TEXT PRIMARY KEY COLLATE NOCASE,
	data    BLOB NOT NULL,
	updated INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS saves (
	id      TEXT PRIMARY KEY,
	label   TEXT NOT NULL,
	data    BLOB NOT NULL,
	created INTEGER NOT NULL
);`

// Store handles SQLite storage for scripts and save slots
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened store %s", path)
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// PutScript stores a compiled script under its name, replacing any
// script whose name differs only in case.
func (s *Store) PutScript(script *bytecode.Script) error {
	data, err := script.Serialize()
	if err != nil {
		return fmt.Errorf("serializing %s: %w", script.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO scripts (name, data, updated) VALUES (?, ?, ?)",
		script.Name, data, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving script %s: %w", script.Name, err)
	}
	return nil
}

// Script loads a compiled script by name, ignoring case.
func (s *Store) Script(name string) (*bytecode.Script, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM scripts WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("script %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("querying script %s: %w", name, err)
	}

	script, err := bytecode.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("decoding script %s: %w", name, err)
	}
	return script, nil
}

// ScriptNames lists stored scripts in name order.
func (s *Store) ScriptNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM scripts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing scripts: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteScript removes a script.
func (s *Store) DeleteScript(name string) error {
	return s.delete("DELETE FROM scripts WHERE name = ?", "script", name)
}

// ---------------------------------------------------------------------------
// Save slots
// ---------------------------------------------------------------------------

// SaveInfo describes a save slot without its payload.
type SaveInfo struct {
	ID      string
	Label   string
	Created time.Time
	Size    int
}

// Save stores a VM state snapshot and returns its new slot ID.
func (s *Store) Save(label string, data []byte) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO saves (id, label, data, created) VALUES (?, ?, ?, ?)",
		id, label, data, s.now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("saving state: %w", err)
	}
	log.Infof("saved state %s (%s, %d bytes)", id, label, len(data))
	return id, nil
}

// LoadSave returns the payload of a save slot.
func (s *Store) LoadSave(id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("save %q: %w", id, ErrNotFound)
	}

	var data []byte
	err := s.db.QueryRow("SELECT data FROM saves WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("save %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying save %s: %w", id, err)
	}
	return data, nil
}

// Saves lists save slots, newest first.
func (s *Store) Saves() ([]SaveInfo, error) {
	rows, err := s.db.Query("SELECT id, label, created, length(data) FROM saves ORDER BY created DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("listing saves: %w", err)
	}
	defer rows.Close()

	var saves []SaveInfo
	for rows.Next() {
		var info SaveInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.Label, &created, &info.Size); err != nil {
			return nil, fmt.Errorf("listing saves: %w", err)
		}
		info.Created = time.Unix(0, created)
		saves = append(saves, info)
	}
	return saves, rows.Err()
}

// DeleteSave removes a save slot.
func (s *Store) DeleteSave(id string) error {
	return s.delete("DELETE FROM saves WHERE id = ?", "save", id)
}

func (s *Store) delete(query, what, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, key)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", what, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", what, key, ErrNotFound)
	}
	return nil
}
