package migrations

import (
	"database/sql"
	"io"
	"log"

	"github.com/pressly/goose/v3"
)

const dir = "sqlite"

func setup(quiet bool) error {
	goose.SetBaseFS(SQLite)
	if quiet {
		goose.SetLogger(log.New(io.Discard, "", 0))
	}
	return goose.SetDialect("sqlite3")
}

// Up migrates the schema to the latest version.
func Up(db *sql.DB) error {
	if err := setup(false); err != nil {
		return err
	}
	return goose.Up(db, dir)
}

// UpQuiet is Up without goose's progress output, used by tests and the TUI.
func UpQuiet(db *sql.DB) error {
	if err := setup(true); err != nil {
		return err
	}
	return goose.Up(db, dir)
}

// Down rolls back a single migration.
func Down(db *sql.DB) error {
	if err := setup(false); err != nil {
		return err
	}
	return goose.Down(db, dir)
}

// Status prints the migration status table.
func Status(db *sql.DB) error {
	if err := setup(false); err != nil {
		return err
	}
	return goose.Status(db, dir)
}
