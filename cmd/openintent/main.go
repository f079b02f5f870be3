// Command openintent runs the coordination server: the REST and SSE API,
// background sweepers and the federation dispatcher, over a SQLite or
// PostgreSQL store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openintent-protocol/openintent/pkg/api"
	"github.com/openintent-protocol/openintent/pkg/cleanup"
	"github.com/openintent-protocol/openintent/pkg/config"
	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/federation"
	"github.com/openintent-protocol/openintent/pkg/models"
	"github.com/openintent-protocol/openintent/pkg/services"
	"github.com/openintent-protocol/openintent/pkg/version"
)

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	slog.Info("Starting server", "app", version.Full(), "addr", cfg.Addr())

	ctx := context.Background()

	db, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()
	slog.Info("Database ready", "dialect", db.Dialect())

	identity, err := loadIdentity(cfg)
	if err != nil {
		slog.Error("Failed to load federation identity", "error", err)
		os.Exit(1)
	}
	slog.Info("Federation identity loaded", "did", cfg.ServerDID, "alg", identity.Alg())

	hub := events.NewHub(cfg.SSEQueueSize)

	svcs := services.New(db, hub).WithFederation(db, services.FederationOptions{
		Identity:   identity,
		PublicURL:  cfg.PublicURL,
		Trust:      models.TrustPolicy(cfg.TrustPolicy),
		Allowlist:  cfg.FederationAllowlist,
		Timeout:    cfg.FederationTimeout,
		MaxRetries: cfg.FederationMaxRetries,
		RateLimit:  cfg.FederationRateLimit,
		HMACSecret: cfg.FederationSecret,
	})

	leaseSweeper := cleanup.NewSweeper("leases", cfg.LeaseSweepInterval, svcs.Leases.SweepExpired)
	leaseSweeper.Start(ctx)
	subscriptionSweeper := cleanup.NewSweeper("subscriptions", cfg.SubscriptionSweepInterval, svcs.Subscriptions.SweepExpired)
	subscriptionSweeper.Start(ctx)

	server := api.NewServer(cfg, db, svcs, hub, identity)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("HTTP server listening", "addr", cfg.Addr(), "public_url", cfg.PublicURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	leaseSweeper.Stop()
	subscriptionSweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	slog.Info("Shutdown complete")
}

// loadIdentity resolves the server's signing identity. A configured shared
// secret selects the HMAC dev fallback; otherwise an Ed25519 key is loaded
// from disk, generated on first run.
func loadIdentity(cfg config.Config) (*federation.Identity, error) {
	if cfg.FederationSecret != "" {
		return federation.NewHMACIdentity(cfg.ServerDID, cfg.FederationSecret), nil
	}
	return federation.LoadOrGenerate(cfg.FederationKeyPath, cfg.ServerDID)
}
