package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bull/course-tutor/internal/extract"
)

// DefaultDebounce is how long a file must be quiet before it is re-ingested.
const DefaultDebounce = 500 * time.Millisecond

// ChangeType classifies a filesystem change.
type ChangeType int

const (
	ChangeUpdated ChangeType = iota // Created or written
	ChangeDeleted                   // Removed or renamed away
)

// Change is a course file that needs re-ingestion or removal.
type Change struct {
	Type ChangeType
	Path string
}

// handleFsEvent maps a raw event to a change. Directories, hidden files,
// unsupported formats and chmod-only events yield nothing.
func handleFsEvent(event fsnotify.Event) (Change, bool) {
	if isHidden(filepath.Base(event.Name)) {
		return Change{}, false
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, err := extract.FormatFromPath(event.Name); err != nil {
			return Change{}, false
		}
		return Change{Type: ChangeDeleted, Path: event.Name}, true
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return Change{}, false
		}
		if _, err := extract.FormatFromPath(event.Name); err != nil {
			return Change{}, false
		}
		return Change{Type: ChangeUpdated, Path: event.Name}, true
	default:
		return Change{}, false
	}
}

// Watch re-ingests files under roots as they change and removes deleted ones,
// until ctx is cancelled. Each applied change is reported to onChange, which
// may be nil. Bursts of writes to one file are debounced.
func (p *Pipeline) Watch(ctx context.Context, roots []string, debounce time.Duration, onChange func(Change, *IndexResult, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := addRecursive(watcher, root); err != nil {
			return err
		}
	}
	p.logger.Info("Watching course materials", "roots", roots)

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
		applyMu sync.Mutex // one change at a time
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(change Change) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[change.Path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		var timer *time.Timer
		timer = time.AfterFunc(debounce, func() {
			defer wg.Done()
			mu.Lock()
			if pending[change.Path] == timer {
				delete(pending, change.Path)
			}
			mu.Unlock()

			applyMu.Lock()
			defer applyMu.Unlock()
			if ctx.Err() != nil {
				return
			}
			result, err := p.applyChange(ctx, change)
			if onChange != nil {
				onChange(change, result, err)
			}
		})
		pending[change.Path] = timer
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(info.Name()) {
					if err := addRecursive(watcher, event.Name); err != nil {
						p.logger.Warn("Failed to watch directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if change, ok := handleFsEvent(event); ok {
				schedule(change)
			}
		}
	}
}

// applyChange ingests or deletes one changed file.
func (p *Pipeline) applyChange(ctx context.Context, change Change) (*IndexResult, error) {
	switch change.Type {
	case ChangeDeleted:
		abs, err := filepath.Abs(change.Path)
		if err != nil {
			return nil, err
		}
		return &IndexResult{}, p.DeleteSource(ctx, abs)
	default:
		return p.IngestPaths(ctx, change.Path)
	}
}

// addRecursive watches root and every non-hidden directory below it.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
