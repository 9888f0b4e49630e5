// Command init-db creates or upgrades the SQLite schema and exits.
package main

import (
	"context"
	"os"
	"time"

	"stablewatch/internal/cli"
	"stablewatch/internal/log"
	"stablewatch/internal/storage"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg, log.ComponentStorage)

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize database", log.FieldError, err.Error(), "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := repo.Count(ctx)
	if err != nil {
		logger.Error("Database check failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Database initialized successfully",
		"path", cfg.SQLiteDBPath,
		"schema_version", repo.SchemaVersion(),
		"transactions", n)
}
