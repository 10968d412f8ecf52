package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/soulprint/soulprint-sync/internal/api/http"
	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/extraction"
	"github.com/soulprint/soulprint-sync/internal/health"
	"github.com/soulprint/soulprint-sync/internal/logger"
	"github.com/soulprint/soulprint-sync/internal/migrations"
	"github.com/soulprint/soulprint-sync/internal/monitor"
	"github.com/soulprint/soulprint-sync/internal/notify"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/store/postgres"
	"github.com/soulprint/soulprint-sync/internal/store/sqlite"
	"github.com/soulprint/soulprint-sync/internal/tokens"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

func main() {
	log := logger.New("sync-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("base_url", cfg.BaseURL).
		Msg("Sync service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Storage unavailable")
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Up(db, cfg.DBDriver); err != nil {
		log.Fatal().Err(err).Msg("Migrations failed")
	}

	v, err := vault.New(cfg.EncryptionKeyBytes())
	if err != nil {
		log.Fatal().Err(err).Msg("Vault key rejected")
	}

	registry := platforms.DefaultRegistry(cfg.CallTimeout)

	// Core services
	hub := notify.NewHub(log)
	tokenManager := tokens.NewManager(st, v, registry, cfg, log)
	orchestrator := extraction.NewOrchestrator(st, tokenManager, registry, hub, log)
	monitorManager := monitor.NewManager(st, v, registry, tokenManager, cfg, log)
	receiver := monitor.NewReceiver(st, v, registry, orchestrator, hub, log)

	// Background loops
	sweeper := tokens.NewSweeper(st, tokenManager, hub, cfg, log)
	go func() { _ = sweeper.Run(ctx) }()

	reaper := extraction.NewReaper(st, cfg, log)
	go func() { _ = reaper.Run(ctx) }()

	poller := monitor.NewPoller(st, registry, orchestrator, cfg, log)
	go func() { _ = poller.Run(ctx) }()

	svcHealth := startHealthCheckers(ctx, st, log)

	router := httpapi.NewRouter(httpapi.Handlers{
		OAuth:          httpapi.NewOAuthHandler(st, v, registry, monitorManager, cfg, log),
		Connections:    httpapi.NewConnectionHandler(st, monitorManager, log),
		Extraction:     httpapi.NewExtractionHandler(st, orchestrator, log),
		Webhooks:       httpapi.NewWebhookHandler(receiver, log),
		Stream:         httpapi.NewStreamHandler(notify.NewWSHandler(hub, cfg.HeartbeatInterval, log), notify.NewSSEHandler(hub, cfg.HeartbeatInterval, log)),
		Health:         httpapi.NewHealthHandler(svcHealth),
		MetricsEnabled: cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			os.Exit(1)
		}
		log.Info().Msg("Server exited")
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

// openStore opens the configured driver and returns both the raw handle
// (for migrations) and the store.
func openStore(cfg *config.Config) (*sql.DB, store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return db, postgres.NewWithDB(db), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, sqlite.NewWithDB(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

func startHealthCheckers(ctx context.Context, st store.Store, log zerolog.Logger) *health.ServiceHealthChecker {
	var checkers []health.Checker
	if pinger, ok := st.(health.Pinger); ok {
		storeChecker := health.NewPingChecker("store", pinger, 2*time.Second, log)
		go storeChecker.Start(ctx, 30*time.Second)
		checkers = append(checkers, storeChecker)
	}
	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, 30*time.Second)
	return svcHealth
}
