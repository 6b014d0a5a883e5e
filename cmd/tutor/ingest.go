package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bull/course-tutor/internal/indexer"
	"github.com/bull/course-tutor/internal/tutor"
)

var (
	ingestGitHub bool
	ingestWatch  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Index course materials",
	Long: `Extracts, chunks and embeds course materials into the vector index.

Directories are walked recursively; hidden files and unsupported formats are
skipped. Documents whose text has not changed since the last ingestion are
not re-embedded.

With --github the configured repository (GITHUB_OWNER, GITHUB_REPO,
GITHUB_PATH) is ingested instead. With --watch the given directories are
re-ingested as files change until interrupted.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestGitHub, "github", false, "ingest the configured GitHub repository")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "keep watching the paths for changes")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case ingestGitHub && len(args) > 0:
		return fmt.Errorf("%w: give either paths or --github, not both", tutor.ErrInvalidRequest)
	case ingestGitHub && ingestWatch:
		return fmt.Errorf("%w: --watch applies to local paths only", tutor.ErrInvalidRequest)
	case !ingestGitHub && len(args) == 0:
		return fmt.Errorf("%w: no paths to ingest", tutor.ErrInvalidRequest)
	}

	svc, cfg, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var result *indexer.IndexResult
	if ingestGitHub {
		fetcher, err := tutor.NewGitHubFetcher(cfg.GitHub)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Ingesting github.com/%s/%s/%s...\n", cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Path)
		result, err = svc.IngestGitHub(ctx, "", fetcher)
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Ingesting %d path(s) into the %s index...\n", len(args), cfg.Index.Backend)
		result, err = svc.Ingest(ctx, "", args...)
		if err != nil {
			return err
		}
	}
	printIngestResult(out, result)

	if !ingestWatch {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Watching for changes (Ctrl+C to stop)...")
	return svc.Pipeline().Watch(ctx, args, 0, func(change indexer.Change, res *indexer.IndexResult, err error) {
		printChange(out, change, res, err)
	})
}

func printIngestResult(out io.Writer, result *indexer.IndexResult) {
	fmt.Fprintln(out)
	color.New(color.FgGreen, color.Bold).Fprintln(out, "Ingestion complete!")
	fmt.Fprintf(out, "  Documents: %d/%d", result.SuccessfulDocs, result.TotalDocs)
	if result.SkippedDocs > 0 {
		fmt.Fprintf(out, " (%d unchanged)", result.SkippedDocs)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Chunks: %d\n", result.TotalChunks)
	fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.CommitSHA != "" {
		fmt.Fprintf(out, "  Commit: %s\n", result.CommitSHA)
	}

	if len(result.FailedDocs) > 0 {
		fmt.Fprintln(out)
		color.New(color.FgYellow).Fprintln(out, "Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Fprintf(out, "  - %s: %s\n", failed.Path, failed.Reason)
		}
	}
}

func printChange(out io.Writer, change indexer.Change, res *indexer.IndexResult, err error) {
	stamp := time.Now().Format(time.TimeOnly)
	switch {
	case err != nil:
		color.New(color.FgRed).Fprintf(out, "[%s] %s: %v\n", stamp, change.Path, err)
	case change.Type == indexer.ChangeDeleted:
		fmt.Fprintf(out, "[%s] removed %s\n", stamp, change.Path)
	case res != nil && res.SkippedDocs > 0:
		fmt.Fprintf(out, "[%s] unchanged %s\n", stamp, change.Path)
	case res != nil && len(res.FailedDocs) > 0:
		color.New(color.FgYellow).Fprintf(out, "[%s] failed %s: %s\n", stamp, change.Path, res.FailedDocs[0].Reason)
	case res != nil:
		fmt.Fprintf(out, "[%s] indexed %s (%d chunks)\n", stamp, change.Path, res.TotalChunks)
	}
}
