package index

import (
	"database/sql"
	"fmt"

	"github.com/hyperengineering/librarian/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending schema migrations using goose.
func RunMigrations(db *sql.DB) error {
	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied goose migration version.
func SchemaVersion(db *sql.DB) (int64, error) {
	return goose.GetDBVersion(db)
}
