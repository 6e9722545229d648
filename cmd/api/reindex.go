package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"linear/api/internal/config"
	"linear/api/internal/logging"
	"linear/api/internal/search"
	"linear/api/internal/store"
)

func newReindexCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every ticket from Postgres to Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is empty")
			}

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			defer meiliClient.Close()
			if !waitHealthy(cmd.Context(), meiliClient, wait) {
				return fmt.Errorf("meilisearch at %s is unavailable", cfg.MeiliURL)
			}

			service := search.NewService(meiliClient, search.NewPostgres(db), logger)
			n, err := service.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("reindex complete", "tickets", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for meilisearch to become healthy")
	return cmd
}

func waitHealthy(ctx context.Context, m *search.Meili, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for !m.Healthy() {
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
	return true
}
