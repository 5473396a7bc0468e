package database

import (
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

// MigrationCommands lists the goose commands the migrator accepts.
var MigrationCommands = []string{"up", "down", "status", "version", "reset"}

// Migrate runs one goose command against the embedded SQL files in dir.
func Migrate(db *sqlx.DB, migrations fs.FS, dir, command string) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.Up(db.DB, dir)
	case "down":
		err = goose.Down(db.DB, dir)
	case "status":
		err = goose.Status(db.DB, dir)
	case "version":
		err = goose.Version(db.DB, dir)
	case "reset":
		err = goose.Reset(db.DB, dir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
