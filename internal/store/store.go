// Package store provides local persistence for the handover dataset,
// the offline operation queue, and sync metadata.
//
// Storage is an embedded SQLite database (ncruces/go-sqlite3) holding a
// single key-value table. Each value is a JSON blob (or timestamp string)
// under a fixed key, mirroring the namespace the original spreadsheet
// client used:
//
//   - dataset        full dataset blob
//   - offline_queue  pending remote operations
//   - last_sync      last successful full-sync timestamp
//   - last_import    last manual import timestamp
//   - endpoint       remote endpoint URL
//   - config         config blob
//
// The database runs in WAL mode so the dashboard and CLI can read while
// the sync daemon writes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"handsync/internal/handover"
)

// Fixed keys of the persistence namespace.
const (
	KeyDataset    = "dataset"
	KeyQueue      = "offline_queue"
	KeyLastSync   = "last_sync"
	KeyLastImport = "last_import"
	KeyEndpoint   = "endpoint"
	KeyConfig     = "config"
)

// Metadata tracks sync bookkeeping timestamps.
//
// LastSync is only advanced after a fully successful sync cycle.
// LastImport is advanced after a manual spreadsheet import.
type Metadata struct {
	LastSync   time.Time
	LastImport time.Time
}

// Store wraps the SQLite connection with dataset-specific accessors.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the store database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// Pass ":memory:" for an in-memory store (used by tests).
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	// Set connection pool settings. A :memory: database is private to its
	// connection, so the pool must never grow past one there.
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{conn: conn, path: path}

	if path != ":memory:" {
		if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the kv table if it doesn't exist. Idempotent.
func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if s.path != ":memory:" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the raw value for a key. The second return value reports
// whether the key was present.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores a raw value under a key. The upsert is a single statement, so
// readers never observe a partial write.
func (s *Store) Put(key, value string) error {
	const q = `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.conn.Exec(q, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// ReadDataset returns the persisted dataset.
//
// An absent dataset is not an error: the canonical empty shape is returned.
// A stored blob that cannot be parsed IS an error - corruption propagates
// to the caller rather than being silently discarded.
func (s *Store) ReadDataset() (handover.Dataset, error) {
	raw, ok, err := s.Get(KeyDataset)
	if err != nil {
		return handover.Dataset{}, err
	}
	if !ok {
		return handover.New(), nil
	}

	var ds handover.Dataset
	if err := json.Unmarshal([]byte(raw), &ds); err != nil {
		return handover.Dataset{}, fmt.Errorf("corrupt dataset blob: %w", err)
	}
	ds.Normalize()
	return ds, nil
}

// WriteDataset persists the dataset. The value is normalized first so the
// stored blob is always complete-shaped.
func (s *Store) WriteDataset(ds handover.Dataset) error {
	ds.Normalize()
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return s.Put(KeyDataset, string(data))
}

// ReadMetadata returns the sync metadata. Absent or unparseable timestamps
// are zero times, never errors - stale metadata only makes the next cycle
// more eager.
func (s *Store) ReadMetadata() (Metadata, error) {
	var md Metadata

	if raw, ok, err := s.Get(KeyLastSync); err != nil {
		return md, err
	} else if ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			md.LastSync = ts
		}
	}

	if raw, ok, err := s.Get(KeyLastImport); err != nil {
		return md, err
	} else if ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			md.LastImport = ts
		}
	}

	return md, nil
}

// WriteMetadata persists the sync metadata. Zero timestamps clear the key.
func (s *Store) WriteMetadata(md Metadata) error {
	if err := s.writeTimestamp(KeyLastSync, md.LastSync); err != nil {
		return err
	}
	return s.writeTimestamp(KeyLastImport, md.LastImport)
}

func (s *Store) writeTimestamp(key string, ts time.Time) error {
	if ts.IsZero() {
		return s.Delete(key)
	}
	return s.Put(key, ts.UTC().Format(time.RFC3339))
}

// Endpoint returns the configured remote endpoint URL, or "" when none is
// configured.
func (s *Store) Endpoint() (string, error) {
	raw, _, err := s.Get(KeyEndpoint)
	return raw, err
}

// SetEndpoint stores the remote endpoint URL. An empty value clears it,
// which puts the remote client into no-op mode.
func (s *Store) SetEndpoint(url string) error {
	if url == "" {
		return s.Delete(KeyEndpoint)
	}
	return s.Put(KeyEndpoint, url)
}
