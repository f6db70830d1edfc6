// Package internal provides the application initialization and runtime logic.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/fedpost/internal/atproto"
	"github.com/starford/fedpost/internal/draft"
	"github.com/starford/fedpost/internal/gitrepo"
	"github.com/starford/fedpost/internal/models"
	"github.com/starford/fedpost/internal/publisher"
	"github.com/starford/fedpost/internal/storage"
	"github.com/starford/fedpost/internal/watch"
)

// Run performs one publish run.
func Run(ctx context.Context, opts ...Option) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	repo, postsRoot, err := app.open(ctx)
	if err != nil {
		return err
	}
	return app.publish(ctx, repo, postsRoot)
}

// Watch performs one publish run and then another each time HEAD moves,
// until interrupted.
func Watch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	// Bound to signals before the initial run so an interrupt still gets
	// its closing commit.
	ctx, stop := signalContext(ctx)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo, postsRoot, err := app.open(ctx)
	if err != nil {
		return err
	}
	gitDir, err := repo.GitDir(ctx)
	if err != nil {
		return err
	}

	if err := app.publish(ctx, repo, postsRoot); err != nil {
		app.logger.Error("initial run failed", slog.String("error", err.Error()))
	}

	// Started after the initial run so its closing commit is not a trigger.
	w, err := watch.New(ctx, gitDir, repo, watch.DefaultDebounce, app.logger)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return w.Run(gCtx, func(ctx context.Context, _ string) error {
			return app.publish(ctx, repo, postsRoot)
		})
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			app.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	return g.Wait()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func newApplication(opts []Option) (*application, error) {
	app := &application{workDir: ".", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		app.logger = NewLogger(app.config.App, os.Stderr)
	}
	return app, nil
}

// NewLogger builds the structured logger described by cfg.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

// open locates the repository and the posts subtree inside it.
func (a *application) open(ctx context.Context) (*gitrepo.Repo, string, error) {
	cfg := a.config
	repo, err := gitrepo.Open(ctx, a.workDir)
	if err != nil {
		return nil, "", err
	}
	dir := cfg.Posts.Dir
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(filepath.Join(a.workDir, dir))
		if err != nil {
			return nil, "", fmt.Errorf("resolve posts dir: %w", err)
		}
		dir = abs
	}
	postsRoot, err := repo.Rel(dir)
	if err != nil {
		return nil, "", fmt.Errorf("posts dir: %w", err)
	}

	a.logger.Info("Configuration loaded",
		slog.String("repo", repo.Root()),
		slog.String("posts_dir", postsRoot),
		slog.String("handle", cfg.Account.Handle),
		slog.String("service", cfg.Account.Service),
		slog.String("base_url", cfg.Site.BaseURL),
		slog.Bool("dry_run", a.dryRun),
		slog.String("log_level", cfg.App.LogLevel.String()))
	return repo, postsRoot, nil
}

func (a *application) publish(ctx context.Context, repo *gitrepo.Repo, postsRoot string) error {
	cfg := a.config

	paths, err := repo.ListMarkdownFiles(ctx, postsRoot)
	if err != nil {
		return err
	}
	builder := draft.NewBuilder(repo, draft.Options{
		PostsRoot:     postsRoot,
		BaseURL:       cfg.Site.BaseURL,
		TextField:     cfg.Posts.TextField,
		ImageStrategy: cfg.Posts.ImageStrategy,
		ImageField:    cfg.Posts.ImageField,
	}, a.logger)
	drafts, skipped, err := builder.Build(ctx, paths)
	if err != nil {
		return err
	}

	if a.dryRun {
		printPlan(a.out, drafts, skipped)
		return nil
	}

	files, err := storage.NewFS(repo.Root())
	if err != nil {
		return err
	}
	pub := publisher.New(repo, atproto.New(cfg.Account.Service), files, publisher.Options{
		Handle:      cfg.Account.Handle,
		PasswordEnv: cfg.Account.PasswordEnv,
		Env:         a.env,
	}, a.logger)

	report, err := pub.Publish(ctx, drafts)
	printReport(a.out, report)
	return err
}

func printPlan(w io.Writer, drafts []models.Draft, skipped []string) {
	fmt.Fprintf(w, "would publish %d post(s), %d already published\n", len(drafts), len(skipped))
	for _, d := range drafts {
		fmt.Fprintf(w, "\n%s -> %s\n", d.Post.Path, d.Backlink)
		if d.Image != nil {
			fmt.Fprintf(w, "  image: %s (%s, %d bytes)\n", d.Image.Path, d.Image.MIME, len(d.Image.Data))
		}
		fmt.Fprintf(w, "  graphemes: %d\n", draft.Length(d.Text))
		for _, line := range strings.Split(d.Text, "\n") {
			fmt.Fprintf(w, "  | %s\n", line)
		}
	}
}

func printReport(w io.Writer, report *publisher.Report) {
	if report == nil || len(report.Published) == 0 {
		return
	}
	for _, p := range report.Published {
		fmt.Fprintf(w, "published %s: %s\n", p.Path, p.URL)
	}
	if report.Commit != "" {
		fmt.Fprintf(w, "commit %s (%s%d)\n", report.Commit, gitrepo.CommitPrefix, report.Sequence)
	}
}
