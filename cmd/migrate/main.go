package main

// Apply, inspect or roll back the schema:
//   go run ./cmd/migrate [up|status|down]

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"docscan-backend/internal/shared/config"
	"docscan-backend/internal/shared/storage/db"
)

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	run, ok := commands[command]
	if !ok {
		log.Printf("unknown command %q (want up, status or down)", command)
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required")
		os.Exit(1)
	}
	ctx := context.Background()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	err = run(ctx, sqlDB)
	sqlDB.Close()
	if err != nil {
		log.Printf("migrate %s: %v", command, err)
		os.Exit(1)
	}
}

var commands = map[string]func(context.Context, *sql.DB) error{
	"up": func(ctx context.Context, sqlDB *sql.DB) error {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return err
		}
		return reportVersion(ctx, sqlDB, "migrations applied")
	},
	"down": func(ctx context.Context, sqlDB *sql.DB) error {
		if err := db.RollbackMigration(ctx, sqlDB); err != nil {
			return err
		}
		return reportVersion(ctx, sqlDB, "rolled back")
	},
	"status": db.MigrationStatus,
}

func reportVersion(ctx context.Context, sqlDB *sql.DB, what string) error {
	version, err := db.SchemaVersion(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	log.Printf("%s; schema version %d", what, version)
	return nil
}
