package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bull/course-tutor/internal/extract"
	"github.com/bull/course-tutor/internal/github"
)

// IngestPaths indexes files and directories. Directories are walked
// recursively for supported formats; hidden entries are skipped. A missing or
// unsupported path is a per-document failure.
func (p *Pipeline) IngestPaths(ctx context.Context, paths ...string) (*IndexResult, error) {
	files, failed := collectFiles(paths)

	sources := make([]Source, 0, len(files))
	for _, file := range files {
		src, err := localSource(file)
		if err != nil {
			failed = append(failed, FailedDoc{Path: file, Reason: err.Error(), Err: err})
			continue
		}
		sources = append(sources, src)
	}

	result, err := p.IngestSources(ctx, sources)
	result.TotalDocs += len(failed)
	result.FailedDocs = append(failed, result.FailedDocs...)
	return result, err
}

// localSource reads one file and identifies it by absolute path.
func localSource(path string) (Source, error) {
	format, err := extract.FormatFromPath(path)
	if err != nil {
		return Source{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Source{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Source{SourcePath: abs, Format: format, Data: data}, nil
}

// collectFiles expands directories into their supported files, in lexical order.
func collectFiles(paths []string) ([]string, []FailedDoc) {
	var (
		files  []string
		failed []FailedDoc
	)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			failed = append(failed, FailedDoc{Path: path, Reason: err.Error(), Err: err})
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		var found []string
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != path && isHidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, err := extract.FormatFromPath(p); err == nil {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			failed = append(failed, FailedDoc{Path: path, Reason: err.Error(), Err: err})
			continue
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, failed
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// IngestGitHub indexes every supported file under the fetcher's directory.
func (p *Pipeline) IngestGitHub(ctx context.Context, fetcher *github.Fetcher) (*IndexResult, error) {
	start := time.Now()
	commitSHA, err := fetcher.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("get commit SHA: %w", err)
	}
	p.logger.Info("Starting GitHub ingestion", "repository", fetcher.Repository(), "commit", commitSHA)

	paths, err := fetcher.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	p.logger.Info("Found documents", "count", len(paths))

	result := &IndexResult{CommitSHA: commitSHA}
	for _, path := range paths {
		fetched, err := fetcher.FetchDoc(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.TotalDocs++
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: path, Reason: err.Error(), Err: err})
			continue
		}
		one, err := p.IngestSources(ctx, []Source{{
			SourcePath: fetched.SourcePath,
			Format:     fetched.Format,
			Data:       fetched.Content,
		}})
		result.merge(one)
		if err != nil {
			return result, err
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}
