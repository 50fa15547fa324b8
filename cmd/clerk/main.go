// Package main provides the CLI entry point for clerk, the proactive
// assistant runtime for financial advisors.
//
// Start the server:
//
//	clerk serve --config clerk.yaml
//
// Manage consents from the command line:
//
//	clerk consent grant --user u1 --action send_email
//	clerk consent list --user u1
//
// Inspect the audit trail:
//
//	clerk audit list --user u1
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/advisorlabs/clerk/internal/config"
	"github.com/advisorlabs/clerk/internal/storage"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clerk",
		Short:        "Clerk - proactive assistant runtime for financial advisors",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConsentCmd(),
		buildAuditCmd(),
		buildTokenCmd(),
	)

	return rootCmd
}

// loadConfig reads the config file when given, otherwise defaults.
func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore builds the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "postgres":
		pg := storage.DefaultPostgresConfig(cfg.Storage.URL)
		if cfg.Storage.MaxConnections > 0 {
			pg.MaxOpenConns = cfg.Storage.MaxConnections
		}
		if cfg.Storage.ConnMaxLifetime > 0 {
			pg.ConnMaxLifetime = cfg.Storage.ConnMaxLifetime
		}
		return storage.NewPostgresStore(pg)
	default:
		return storage.NewSQLiteStore(cfg.Storage.Path)
	}
}

func buildLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
