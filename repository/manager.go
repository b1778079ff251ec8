package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Manager owns the database handle and the repositories built on it.
type Manager struct {
	db       *bun.DB
	profiles *ProfileRepository
}

// NewManager wraps an already configured Bun database.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:       db,
		profiles: NewProfileRepository(db),
	}
}

// Open connects to dsn, runs migrations and returns a ready manager.
// sqlite DSNs go through sqliteshim, postgres ones through pgx.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Manager, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch dialect {
	case DialectSQLite:
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("db open error: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DialectPostgres:
		sqldb, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open error: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	if err := Migrate(ctx, sqldb, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return NewManager(db), nil
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Profiles returns the profile store.
func (m *Manager) Profiles() *ProfileRepository {
	return m.profiles
}

func (m *Manager) Close() error {
	return m.db.Close()
}
