package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"linear/api/internal/app"
	"linear/api/internal/attachment"
	"linear/api/internal/config"
	"linear/api/internal/email"
	"linear/api/internal/logging"
	"linear/api/internal/realtime"
	"linear/api/internal/search"
	"linear/api/internal/store"
)

func newServeCommand() *cobra.Command {
	var addr string
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.Addr = addr
			}
			logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !skipMigrations, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides API_ADDR)")
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrate bool, logger *slog.Logger) error {
	db, err := store.OpenWith(ctx, cfg.DatabaseURL, store.DefaultPool, logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if migrate {
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{Store: dataStore, Logger: logger}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, search.NewPostgres(db), logger)

	var hub *realtime.Hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		var client *redis.Client
		client, err = realtime.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		bus := realtime.NewRedisBus(client, cfg.ChannelPrefix, logger)
		deps.Events = bus
		hub = realtime.NewHub(bus, cfg.CORSOrigin, logger)
	} else {
		logger.Warn("REDIS_URL is empty, team channels are disabled")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := attachment.Open(ctx, attachment.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			MaxBytes:  cfg.UploadMaxBytes,
		}, logger)
		if err != nil {
			return fmt.Errorf("attachment storage failed: %w", err)
		}
		deps.Blobs = blobs
	} else {
		logger.Info("MINIO_ENDPOINT is empty, uploads are disabled")
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		deps.Mailer = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: "Linear",
			BaseURL:  cfg.PublicURL,
		}, logger)
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}
