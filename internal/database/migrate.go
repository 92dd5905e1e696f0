package database

import (
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/johndosdos/huddle/sql/schema"
)

func init() {
	goose.SetBaseFS(schema.FS)
}

// Migrate applies every pending embedded migration.
func Migrate(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

// Reset rolls every migration back.
func Reset(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Reset(db, ".")
}
