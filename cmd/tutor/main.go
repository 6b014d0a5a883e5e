// Package main provides the course tutor command line interface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/tutor"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Math tutor grounded in your course materials",
	Long: `Ingest lecture notes and exercise sets (pdf, txt, md), then ask questions,
compute exact symbolic results and generate practice problems.

Configuration is read from --config (or TUTOR_CONFIG) and overridden by
environment variables:
  OPENAI_API_KEY      OpenAI API key for embeddings and answers
  ANTHROPIC_API_KEY   Anthropic API key when LLM_PROVIDER=anthropic
  INDEX_BACKEND       memory, sqlite, qdrant or pgvector (default: sqlite)
  VECTOR_DB_PATH      SQLite index file (default: data/tutor.db)
  GITHUB_TOKEN        GitHub token for higher rate limits (optional)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TUTOR_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openService loads the configuration and opens the tutor.
func openService(ctx context.Context) (*tutor.Service, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	svc, err := tutor.Open(ctx, cfg, newLogger())
	if err != nil {
		return nil, config.Config{}, err
	}
	return svc, cfg, nil
}

func printError(err error) {
	info := tutor.Describe(err)
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(os.Stderr, "Error (%s): ", info.Kind)
	fmt.Fprintln(os.Stderr, info.Message)
	if info.Kind.Retryable() {
		fmt.Fprintln(os.Stderr, "The service may be temporarily unavailable; try again shortly.")
	}
}
