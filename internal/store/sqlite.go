package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	. "github.com/roelfdiedericks/tabclaw/internal/logging"
)

// SQLiteStore implements Store using a single kv table in SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	notifier *notifier
	closed   bool
}

// SQLiteConfig configures the SQLite backend
type SQLiteConfig struct {
	Path        string // Database file path
	BusyTimeout int    // Busy timeout in ms (default: 5000)
}

// NewSQLiteStore opens (creating if needed) the kv database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	timeout := cfg.BusyTimeout
	if timeout == 0 {
		timeout = 5000
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", cfg.Path, timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, notifier: newNotifier()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("store: sqlite opened", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	return err
}

// Get returns the value stored under key
func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// Set stores value under key and notifies subscribers
func (s *SQLiteStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}

	s.mu.Lock()
	if !s.closed {
		s.notifier.notify(key, value)
	}
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Subscribe returns a channel receiving new values for key
func (s *SQLiteStore) Subscribe(key string) <-chan json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier.subscribe(key)
}

// Close closes the database and all subscriber channels
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.notifier.closeAll()
	}
	s.mu.Unlock()
	return s.db.Close()
}
