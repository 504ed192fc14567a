// Package dupstore implements the persistent, batch-scoped duplicate QR
// store described in spec section 4.2.
//
// It mirrors the original SCANNER project's DuplicateTracker
// (original_source/SCANNER/duplicate_tracker.py) almost line for line: a
// single SQLite file, WAL journaling for crash safety, and a
// (batch, qr) primary key with idempotent insert.
package dupstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a thread-safe, durable set of (batch, qr) pairs.
//
// All access is serialized through mu; SQLite's own WAL mode lets readers
// and the writer avoid blocking each other at the file level, but the
// supervisor never has more than one in-flight write, so a plain mutex is
// enough to satisfy spec's "concurrent callers ... serialized internally."
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or attaches to the duplicate-store database at path,
// enabling WAL journaling and creating the schema from spec section 4.2 if
// it does not already exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("dupstore: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("dupstore: open: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under WAL without
	// needing a busy_timeout dance.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("dupstore: pragma %q: %w", pragma, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS scanned_qr (
	batch TEXT NOT NULL,
	qr    TEXT NOT NULL,
	PRIMARY KEY (batch, qr)
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dupstore: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Seen reports whether qr has already been recorded for batch. It observes
// all writes that completed before the call started (monotonic per spec).
func (s *Store) Seen(batch, qr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT 1 FROM scanned_qr WHERE batch = ? AND qr = ? LIMIT 1`, batch, qr)
	var x int
	switch err := row.Scan(&x); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("dupstore: seen: %w", err)
	}
}

// Record idempotently persists (batch, qr). A re-insert of an existing pair
// is a no-op, matching spec's idempotent insert requirement.
func (s *Store) Record(batch, qr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO scanned_qr (batch, qr) VALUES (?, ?)`, batch, qr); err != nil {
		return fmt.Errorf("dupstore: record: %w", err)
	}
	return nil
}

// Reset removes all records for batch, used by the operator's explicit
// "reset batch" operation (not by "reset counters", which leaves the store
// untouched per spec's edge-case policy).
func (s *Store) Reset(batch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM scanned_qr WHERE batch = ?`, batch); err != nil {
		return fmt.Errorf("dupstore: reset: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
