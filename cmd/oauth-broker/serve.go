package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/config"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore/memory"
	oauthredis "github.com/getsentry/sentry-mcp-oauth/internal/oauthstore/redis"
	"github.com/getsentry/sentry-mcp-oauth/internal/refreshcoordinator"
	"github.com/getsentry/sentry-mcp-oauth/internal/server"
	"github.com/getsentry/sentry-mcp-oauth/internal/telemetry"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

func commandServe() *cobra.Command {
	return &cobra.Command{
		Use:     "serve [flags] config-file",
		Short:   "Run the oauth-broker HTTP server",
		Example: "oauth-broker serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServe(cmd.Context(), args[0])
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("oauth-broker: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("oauth-broker: %w", err)
	}

	logger := newLogger(cfg.Logger)

	store, err := newStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("oauth-broker: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	upstreamClient := upstream.New(upstream.Config{
		ClientID:     cfg.Upstream.ClientID,
		ClientSecret: cfg.Upstream.ClientSecret,
		Host:         cfg.Upstream.Host,
		Metrics:      metrics,
	})

	coordinator := refreshcoordinator.New(store, upstreamClient, logger)
	authz := authzservice.New(store)
	tokens := tokenservice.New(store, coordinator, logger, metrics)

	srv := server.New(cfg, store, authz, tokens, upstreamClient, logger, metrics)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: cfg.Web.HTTPAddr, Handler: srv.Router()}
	telemetryServer := &http.Server{Addr: cfg.Telemetry.HTTPAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("oauth-broker: serving", "addr", cfg.Web.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if cfg.Telemetry.HTTPAddr != "" {
		go func() {
			logger.Info("oauth-broker: serving telemetry", "addr", cfg.Telemetry.HTTPAddr)
			if err := telemetryServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("telemetry server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("oauth-broker: fatal server error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = telemetryServer.Shutdown(shutdownCtx)
	return nil
}

func newStorage(cfg config.Storage, logger *slog.Logger) (oauthstore.Storage, error) {
	switch cfg.Type {
	case "redis":
		return oauthredis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix, logger), nil
	case "memory":
		return memory.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown storage.type %q", cfg.Type)
	}
}
