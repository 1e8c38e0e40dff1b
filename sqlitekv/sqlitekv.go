// Package sqlitekv is a kv.Backend stored in a SQLite database.
// Keys are enumerated in order of first insertion.
package sqlitekv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjk/easystore/kv"
)

//go:embed schema.sql
var schema string

// DefaultTimeout is the timeout of a single operation
const DefaultTimeout = 10 * time.Second

// Store persists items in SQLite.
type Store struct {
	sqlDB *sql.DB
	// timeout of a single operation
	Timeout time.Duration
}

var (
	_ kv.Backend   = &Store{}
	_ kv.KeyLister = &Store{}
)

// Open opens (creating if needed) a SQLite database at path
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, Timeout: DefaultTimeout}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (s *Store) GetItem(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM items WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get item: %w", err)
	}
	return value, true, nil
}

// SetItem inserts or updates key. An update keeps the position of the key.
func (s *Store) SetItem(key string, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO items (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set item: %w", err)
	}
	return nil
}

func (s *Store) RemoveItem(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

func (s *Store) Key(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	var key string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT key FROM items ORDER BY seq LIMIT 1 OFFSET ?`, index).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("key at %d: %w", index, err)
	}
	return key, true, nil
}

func (s *Store) Len() (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (s *Store) Keys() ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key FROM items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		res = append(res, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return res, nil
}
