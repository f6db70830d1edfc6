// Package publisher sends drafts to the network in order, records each
// success as a marker field in the post file and closes the run with a
// single commit.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/fedpost/internal/apperr"
	"github.com/starford/fedpost/internal/atproto"
	"github.com/starford/fedpost/internal/checksum"
	"github.com/starford/fedpost/internal/draft"
	"github.com/starford/fedpost/internal/frontmatter"
	"github.com/starford/fedpost/internal/gitrepo"
	"github.com/starford/fedpost/internal/models"
	"github.com/starford/fedpost/internal/storage"
)

// Remote creates posts on the network.
type Remote interface {
	CreateSession(ctx context.Context, handle, password string) (*models.Session, error)
	UploadBlob(ctx context.Context, sess *models.Session, data []byte, mime string) (models.Blob, error)
	CreateRecord(ctx context.Context, sess *models.Session, text string, image *atproto.ImageEmbed) (*models.PublishResult, error)
}

// Repository is the version control side of a run.
type Repository interface {
	AssertClean(ctx context.Context) error
	NextSequenceNumber(ctx context.Context) (int, error)
	Commit(ctx context.Context, paths []string, message string) (string, error)
}

// Options holds the account settings for a run.
type Options struct {
	Handle      string
	PasswordEnv string
	Env         map[string]string
}

// Published is one post created during a run.
type Published struct {
	Path string
	URL  string
	URI  string
	CID  string
}

// Report summarizes a run. It is returned even when the run fails part way,
// listing what was published before the failure.
type Report struct {
	Published []Published
	Sequence  int
	Commit    string
}

// Publisher drives one publish run.
type Publisher struct {
	repo   Repository
	remote Remote
	files  storage.ReadWriter
	opts   Options
	logger *slog.Logger
}

// New creates a Publisher. files must be rooted at the repository root.
func New(repo Repository, remote Remote, files storage.ReadWriter, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{repo: repo, remote: remote, files: files, opts: opts, logger: logger}
}

// Publish publishes drafts in order. Every success writes the marker field
// into the working-tree file. Marked files are committed together at the end,
// also when a later draft fails, so a published post never keeps an
// uncommitted marker.
func (p *Publisher) Publish(ctx context.Context, drafts []models.Draft) (*Report, error) {
	report := &Report{}
	if len(drafts) == 0 {
		p.logger.Info("nothing to publish")
		return report, nil
	}
	if err := p.repo.AssertClean(ctx); err != nil {
		return report, err
	}

	password := strings.TrimSpace(p.opts.Env[p.opts.PasswordEnv])
	if password == "" {
		return report, fmt.Errorf("%w: environment variable %s is not set", apperr.ErrConfig, p.opts.PasswordEnv)
	}
	sess, err := p.remote.CreateSession(ctx, p.opts.Handle, password)
	if err != nil {
		return report, fmt.Errorf("create session for %s: %w", p.opts.Handle, err)
	}
	p.logger.Info("session created", slog.String("handle", p.opts.Handle), slog.String("did", sess.DID))

	var (
		changed []string
		runErr  error
	)
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		pub, err := p.publishOne(ctx, sess, d)
		if err != nil {
			runErr = fmt.Errorf("publish %s: %w", d.Post.Path, err)
			break
		}
		changed = append(changed, d.Post.Path)
		report.Published = append(report.Published, *pub)
	}

	if len(changed) == 0 {
		if runErr != nil {
			return report, runErr
		}
		return report, fmt.Errorf("%w: %d drafts produced no changed files", apperr.ErrVCS, len(drafts))
	}

	commitErr := p.commit(context.WithoutCancel(ctx), changed, report)
	if runErr != nil {
		p.logger.Error("run stopped early",
			slog.Int("published", len(changed)),
			slog.Int("remaining", len(drafts)-len(changed)),
			slog.String("error", runErr.Error()))
		return report, errors.Join(runErr, commitErr)
	}
	return report, commitErr
}

func (p *Publisher) publishOne(ctx context.Context, sess *models.Session, d models.Draft) (*Published, error) {
	log := p.logger.With(slog.String("path", d.Post.Path))

	var embed *atproto.ImageEmbed
	if d.Image != nil {
		blob, err := p.remote.UploadBlob(ctx, sess, d.Image.Data, d.Image.MIME)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", d.Image.Path, err)
		}
		log.Debug("image uploaded",
			slog.String("image", d.Image.Path),
			slog.String("sha256", checksum.Short(d.Image.Data)),
			slog.Int("bytes", len(d.Image.Data)))
		embed = &atproto.ImageEmbed{Alt: d.Image.Alt, Blob: blob}
	}

	res, err := p.remote.CreateRecord(ctx, sess, d.Text, embed)
	if err != nil {
		return nil, err
	}
	url, err := atproto.PostURL(res.URI, sess.Handle)
	if err != nil {
		return nil, err
	}

	if err := p.mark(d.Post.Path, url); err != nil {
		log.Error("post published but marker not written",
			slog.String("url", url),
			slog.String("error", err.Error()))
		return nil, err
	}
	log.Info("published", slog.String("url", url))
	return &Published{Path: d.Post.Path, URL: url, URI: res.URI, CID: res.CID}, nil
}

func (p *Publisher) mark(path, url string) error {
	content, err := p.files.Read(path)
	if err != nil {
		return err
	}
	return p.files.Write(path, []byte(frontmatter.UpsertField(string(content), draft.MarkerField, url)))
}

func (p *Publisher) commit(ctx context.Context, paths []string, report *Report) error {
	seq, err := p.repo.NextSequenceNumber(ctx)
	if err != nil {
		return fmt.Errorf("closing commit: %w", err)
	}
	hash, err := p.repo.Commit(ctx, paths, fmt.Sprintf("%s%d", gitrepo.CommitPrefix, seq))
	if err != nil {
		return fmt.Errorf("closing commit: %w", err)
	}
	report.Sequence = seq
	report.Commit = hash
	p.logger.Info("closing commit created",
		slog.Int("sequence", seq),
		slog.String("commit", hash),
		slog.Int("files", len(paths)))
	return nil
}
