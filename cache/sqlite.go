package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kazini-app/go-kazini-auth"

	_ "modernc.org/sqlite"
)

var _ auth.LocalCache = (*SQLite)(nil)

const createKVTable = `CREATE TABLE IF NOT EXISTS kv (
    key TEXT NOT NULL PRIMARY KEY,
    value BLOB NOT NULL
)`

// SQLite stores values in a single key/value table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and prepares the table.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	c, err := NewSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewSQLite uses an existing handle.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete kv[%s]: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
