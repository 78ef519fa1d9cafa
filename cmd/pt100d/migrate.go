package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"pt100-monitor/internal/logging"
	"pt100-monitor/internal/storage"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the schema and add a column for every configured channel",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, logging.WithWriter(os.Stdout), logging.WithService("migrate"))

			storageCfg := provideStorageConfig(cfg)
			if storageCfg.Driver == storage.DriverMemory {
				logger.Info("memory driver selected, nothing to migrate")
				return nil
			}

			repo, err := storage.OpenPostgres(ctx, storageCfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "channels", len(storageCfg.Channels))
			return nil
		},
	}
}
