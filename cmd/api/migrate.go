package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"linear/api/internal/config"
	"linear/api/internal/logging"
	"linear/api/internal/store"
)

func newMigrateCommand() *cobra.Command {
	var dir string
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations, or revert the latest with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if dir != "" {
				cfg.MigrationsDir = dir
			}
			logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

			db, err := store.OpenWith(cmd.Context(), cfg.DatabaseURL, store.DefaultPool, logger)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if down > 0 {
				reverted, err := store.Rollback(cmd.Context(), db, cfg.MigrationsDir, down)
				for _, version := range reverted {
					logger.Info("migration reverted", "version", version)
				}
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				return nil
			}

			applied, err := store.Migrate(cmd.Context(), db, cfg.MigrationsDir)
			for _, version := range applied {
				logger.Info("migration applied", "version", version)
			}
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			logger.Info("schema up to date", "dir", cfg.MigrationsDir, "applied", len(applied))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (overrides LINEAR_MIGRATIONS_DIR)")
	cmd.Flags().IntVar(&down, "down", 0, "revert this many of the latest applied migrations")
	return cmd
}
