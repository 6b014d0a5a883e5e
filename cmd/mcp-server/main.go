// Package main provides the MCP server entry point for the course tutor.
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

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/github"
	mcpserver "github.com/bull/course-tutor/internal/mcp"
	"github.com/bull/course-tutor/internal/tutor"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load(os.Getenv("TUTOR_CONFIG"))
	if err != nil {
		return err
	}

	svc, err := tutor.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var fetcher *github.Fetcher
	if cfg.GitHub.Owner != "" {
		if fetcher, err = tutor.NewGitHubFetcher(cfg.GitHub); err != nil {
			return err
		}
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Tutor:   svc,
		GitHub:  fetcher,
		Version: version,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mcpserver.NewRouter(server, svc, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Mode == "http" {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("starting HTTP server", "addr", httpServer.Addr, "index", cfg.Index.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients,
	// with the health endpoint in the background for local testing
	go func() {
		logger.Info("starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("health server error", "error", err)
		}
	}()

	logger.Info("starting course tutor MCP server (stdio mode)", "index", cfg.Index.Backend)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
