package main

import (
	"flag"
	"io/fs"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/migrations"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var (
		command string
		dir     string
	)
	flag.StringVar(&command, "command", "up", "goose command: "+strings.Join(database.MigrationCommands, ", "))
	flag.StringVar(&dir, "dir", cfg.Persistence.MigrationsDir, "directory of SQL migrations (empty uses the embedded set)")
	flag.Parse()

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var source fs.FS = migrations.FS
	if dir != "" {
		source = os.DirFS(dir)
	}

	if err := database.Migrate(db, source, ".", command); err != nil {
		logr.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
	logr.Info("migration finished", zap.String("command", command), zap.String("dir", dir))
}
