// Package main implements a Cloud Run service that monitors Amazon
// best-seller badges for tracked ASINs via the Keepa API and sends
// Slack notifications when badges are gained or lost.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"bestseller-tracker/config"
	"bestseller-tracker/keepa"
	"bestseller-tracker/schedule"
	"bestseller-tracker/server"
	"bestseller-tracker/slack"
	"bestseller-tracker/store"
	"bestseller-tracker/track"
)

const version = "1.2.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	backend, cleanup, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	st := store.New(backend, logger.With("component", "store"))

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	keepaClient := keepa.New(cfg.KeepaAPIKey, httpClient, logger.With("component", "keepa"),
		keepa.WithMinInterval(cfg.MinRequestInterval))

	var provider slack.Provider
	if cfg.MockSlack() {
		provider = slack.NewMockProvider(logger.With("component", "slack"))
	} else {
		provider = slack.NewAPIProvider(cfg.SlackBotToken, httpClient, logger.With("component", "slack"))
	}
	notifier := slack.NewNotifier(provider, cfg.SlackChannelID, logger.With("component", "slack"))

	tracker := track.New(keepaClient, st, notifier, logger.With("component", "track"))

	sched := schedule.New(tracker, st, notifier,
		map[string]schedule.Probe{
			"keepa": keepaClient.HealthCheck,
			"store": st.HealthCheck,
			"slack": notifier.HealthCheck,
		},
		cfg.BatchSize, cfg.CheckInterval, logger.With("component", "schedule"))

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	srv := server.New(&server.Config{
		Trigger: sched,
		Store:   st,
		Probes: map[string]server.HealthProbe{
			"keepa": keepaClient.HealthCheck,
			"store": st.HealthCheck,
			"slack": notifier.HealthCheck,
		},
		Logger:  logger.With("component", "server"),
		Version: version,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe(cfg.Port)
	}()

	select {
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
}

// newBackend picks the storage backend: Postgres when a DSN is set,
// Cloud Storage when a bucket is set, the local directory otherwise.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		logger.Info("Using Postgres storage")
		backend, err := store.NewPostgres(ctx, cfg.DatabaseURL, logger.With("component", "store"))
		if err != nil {
			return nil, nil, err
		}
		return backend, func() {
			if err := backend.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}, nil

	case cfg.StorageBucket != "":
		logger.Info("Using Cloud Storage", "bucket", cfg.StorageBucket)
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store.NewGCS(client, cfg.StorageBucket, logger.With("component", "store")), func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}, nil

	default:
		logger.Info("Using local storage", "storage_path", cfg.LocalStorage)
		backend, err := store.NewLocal(cfg.LocalStorage, logger.With("component", "store"))
		if err != nil {
			return nil, nil, err
		}
		return backend, func() {}, nil
	}
}
