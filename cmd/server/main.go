package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/api"
	"github.com/neighborly/volunteerhub/internal/auth"
	"github.com/neighborly/volunteerhub/internal/backend/postgres"
	"github.com/neighborly/volunteerhub/internal/config"
	"github.com/neighborly/volunteerhub/internal/notify"
	"github.com/neighborly/volunteerhub/internal/sync"
)

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer log.Sync()

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.ApplyMigrations(ctx, pool, log); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	feed, err := postgres.NewFeed(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("failed to open change feed", zap.Error(err))
	}
	defer feed.Close(context.Background())

	var dispatcher notify.Dispatcher = notify.Discard{}
	if cfg.MailerEndpoint != "" {
		dispatcher = notify.NewMailer(cfg.MailerEndpoint, nil)
	}

	engine, err := sync.New(sync.Config{
		Store:         postgres.NewStore(pool),
		Feed:          feed,
		Notifier:      dispatcher,
		SweepInterval: cfg.SweepInterval,
		Log:           log,
	})
	if err != nil {
		log.Fatal("failed to build sync engine", zap.Error(err))
	}
	if err := engine.Start(ctx); err != nil {
		log.Fatal("failed to start sync engine", zap.Error(err))
	}
	defer engine.Close()

	authService, err := auth.NewService(pool, cfg.JWTSecret, log)
	if err != nil {
		log.Fatal("failed to build auth service", zap.Error(err))
	}

	srv := api.NewServer(engine, authService, cfg.CORSOrigins, log)

	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}
