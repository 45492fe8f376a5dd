// Package decider answers whether a build node's cached result is still
// valid, and records new results after verified success. Records persist
// across process runs in a SQLite store under the cache root.
package decider

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrCacheCorrupt marks an unreadable or inconsistent cache record. It is a
// rebuild signal, never a fatal condition.
var ErrCacheCorrupt = errors.New("cache record corrupt")

// Record is the persisted state of one node's last successful build.
type Record struct {
	Key          string
	InputDigest  string
	OutputDigest string
	BuiltAt      time.Time
}

// Store persists cache records keyed by node identity.
type Store interface {
	Get(key string) (Record, bool, error)
	// Put replaces the record for its key in one atomic step.
	Put(rec Record) error
	Delete(key string) error
	Clear() error
	Close() error
}

// SQLiteStore implements Store on a single SQLite database, safe for
// concurrent use within a process and shareable across processes.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the record store at dbPath.
// Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_records (
		key TEXT PRIMARY KEY,
		input_digest TEXT NOT NULL,
		output_digest TEXT NOT NULL,
		built_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	var builtAt int64
	row := s.db.QueryRow(
		"SELECT key, input_digest, output_digest, built_at FROM cache_records WHERE key = ?", key)
	if err := row.Scan(&rec.Key, &rec.InputDigest, &rec.OutputDigest, &builtAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
	}
	if rec.InputDigest == "" || rec.OutputDigest == "" {
		return Record{}, false, fmt.Errorf("%w: empty digests for %s", ErrCacheCorrupt, key)
	}
	rec.BuiltAt = time.Unix(builtAt, 0)
	return rec, true, nil
}

func (s *SQLiteStore) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO cache_records (key, input_digest, output_digest, built_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			input_digest = excluded.input_digest,
			output_digest = excluded.output_digest,
			built_at = excluded.built_at`,
		rec.Key, rec.InputDigest, rec.OutputDigest, rec.BuiltAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM cache_records WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM cache_records"); err != nil {
		return fmt.Errorf("clear cache records: %w", err)
	}
	return nil
}

// Len reports the number of stored records.
func (s *SQLiteStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
