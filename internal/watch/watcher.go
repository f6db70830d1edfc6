// Package watch triggers a callback whenever a repository's HEAD commit
// changes, by watching the git directory with fsnotify.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of ref and index writes a single
// commit produces.
const DefaultDebounce = 500 * time.Millisecond

// HeadReader resolves the current HEAD commit.
type HeadReader interface {
	Head(ctx context.Context) (string, error)
}

// Func is called with the new HEAD commit hash.
type Func func(ctx context.Context, head string) error

// Watcher watches a git directory for HEAD movement.
type Watcher struct {
	fsw      *fsnotify.Watcher
	gitDir   string
	repo     HeadReader
	debounce time.Duration
	logger   *slog.Logger
	last     string
}

// New starts watching gitDir and its refs. Events that happen after New
// returns are observed by Run.
func New(ctx context.Context, gitDir string, repo HeadReader, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(gitDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	refs := filepath.Join(gitDir, "refs", "heads")
	if _, err := os.Stat(refs); err == nil {
		if err := addDirsRecursive(fsw, refs); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{fsw: fsw, gitDir: gitDir, repo: repo, debounce: debounce, logger: logger}
	// An unborn HEAD reads as empty; the first commit then counts as a move.
	w.last, _ = repo.Head(ctx)
	return w, nil
}

// Run calls fn each time HEAD settles on a new commit, until ctx is
// cancelled. Errors from fn are logged and watching continues. Run closes the
// watcher when it returns.
func (w *Watcher) Run(ctx context.Context, fn Func) error {
	defer w.fsw.Close()

	w.logger.Info("watcher: started", slog.String("git_dir", w.gitDir), slog.String("head", w.last))

	var timer *time.Timer
	var timerC <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerC:
			w.check(ctx, fn)

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(w.fsw, ev.Name); err != nil {
						w.logger.Warn("watcher: add dir failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()))
					}
				}
			}
			schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) check(ctx context.Context, fn Func) {
	head, err := w.repo.Head(ctx)
	if err != nil {
		w.logger.Warn("watcher: read HEAD failed", slog.String("error", err.Error()))
		return
	}
	if head == w.last {
		return
	}
	w.logger.Info("watcher: HEAD moved", slog.String("from", w.last), slog.String("to", head))
	w.last = head

	if err := fn(ctx, head); err != nil {
		w.logger.Error("watcher: run failed", slog.String("head", head), slog.String("error", err.Error()))
	}
	// fn may itself have committed; that commit is not a new trigger.
	if now, err := w.repo.Head(ctx); err == nil {
		w.last = now
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
