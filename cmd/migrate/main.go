// Command migrate applies the goose migrations embedded in the migrations package.
//
//	migrate [up|status|down]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/numberdrop/golang_services/internal/platform/config"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/logger"
	"github.com/numberdrop/golang_services/migrations"
)

func main() {
	cfg, err := config.Load("migrate")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", "migrate")

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd {
	case "up":
		err = database.Migrate(ctx, cfg.PostgresDSN, migrations.FS)
	case "down":
		err = database.RollbackLast(ctx, cfg.PostgresDSN, migrations.FS)
	case "status":
		statuses, serr := database.MigrationStatus(ctx, cfg.PostgresDSN, migrations.FS)
		for _, s := range statuses {
			applied := "pending"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-40s %s\n", s.Source.Path, applied)
		}
		err = serr
	default:
		appLogger.Error("Unknown command", "command", cmd, "usage", "migrate [up|status|down]")
		os.Exit(2)
	}
	if err != nil {
		appLogger.Error("Migration failed", "command", cmd, "error", err)
		os.Exit(1)
	}
	appLogger.Info("Migration finished", "command", cmd)
}
