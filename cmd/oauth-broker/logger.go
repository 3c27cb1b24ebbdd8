package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-mcp-oauth/internal/config"
)

// newLogger builds the process-wide *slog.Logger from config, following
// cmd/dex/logger.go's format switch (json vs text).
func newLogger(cfg config.Logger) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
