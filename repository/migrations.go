package repository

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect names the SQL flavor migrations run against.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Migrate applies the embedded profile migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}
