// Package draft turns committed posts into outbound drafts: it decides which
// posts are unpublished, resolves their text, image and backlink, and
// enforces the post length limit.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/starford/fedpost/internal/apperr"
	"github.com/starford/fedpost/internal/atproto"
	"github.com/starford/fedpost/internal/backlink"
	"github.com/starford/fedpost/internal/frontmatter"
	"github.com/starford/fedpost/internal/models"
)

// MarkerField records the public URL of a published post. Its presence, with
// any value, means the post is never published again.
const MarkerField = "bsky_post"

// Defaults for configurable field names.
const (
	DefaultTextField  = "bsky_text"
	DefaultImageField = "bsky_image"
)

// Image strategies.
const (
	StrategyBody  = "body"
	StrategyField = "field"
)

// MaxGraphemes is the longest post the network accepts.
const MaxGraphemes = 300

// FallbackTextFields are tried in order after the configured text field.
var FallbackTextFields = []string{"summary", "description"}

// Source reads committed file content.
type Source interface {
	ReadFileAtHead(ctx context.Context, path string) ([]byte, error)
}

// Options controls how posts become drafts.
type Options struct {
	PostsRoot     string // repo-relative subtree
	BaseURL       string
	TextField     string
	ImageStrategy string
	ImageField    string
}

// Builder builds drafts from posts committed at HEAD.
type Builder struct {
	src    Source
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a Builder. Empty option fields take their defaults.
func NewBuilder(src Source, opts Options, logger *slog.Logger) *Builder {
	if opts.TextField == "" {
		opts.TextField = DefaultTextField
	}
	if opts.ImageStrategy == "" {
		opts.ImageStrategy = StrategyBody
	}
	if opts.ImageField == "" {
		opts.ImageField = DefaultImageField
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{src: src, opts: opts, logger: logger}
}

// Build loads every path at HEAD and returns drafts for the unpublished ones
// in input order, along with the paths skipped because they carry the
// marker. The first invalid post aborts the whole batch.
func (b *Builder) Build(ctx context.Context, paths []string) ([]models.Draft, []string, error) {
	var (
		drafts  []models.Draft
		skipped []string
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		post, err := b.load(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		if IsPublished(post.Frontmatter) {
			b.logger.Debug("skipping published post", slog.String("path", p))
			skipped = append(skipped, p)
			continue
		}
		d, err := b.draft(ctx, post)
		if err != nil {
			return nil, nil, err
		}
		drafts = append(drafts, *d)
	}
	b.logger.Info("drafts built",
		slog.Int("posts", len(paths)),
		slog.Int("drafts", len(drafts)),
		slog.Int("skipped", len(skipped)))
	return drafts, skipped, nil
}

// IsPublished reports whether the frontmatter carries the publish marker.
func IsPublished(fm *frontmatter.Map) bool {
	return fm.Has(MarkerField)
}

func (b *Builder) load(ctx context.Context, p string) (models.Post, error) {
	raw, err := b.src.ReadFileAtHead(ctx, p)
	if err != nil {
		return models.Post{}, fmt.Errorf("read %s: %w", p, err)
	}
	fm, body, err := frontmatter.Split(string(raw))
	if err != nil {
		return models.Post{}, fmt.Errorf("%w: %s: %w", apperr.ErrValidation, p, err)
	}
	return models.Post{Path: p, Raw: raw, Frontmatter: fm, Body: body}, nil
}

func (b *Builder) draft(ctx context.Context, post models.Post) (*models.Draft, error) {
	text, err := b.text(post)
	if err != nil {
		return nil, err
	}
	if n := Length(text); n > MaxGraphemes {
		return nil, invalid(post.Path, "text is %d graphemes, limit is %d", n, MaxGraphemes)
	}

	link, err := backlink.Resolve(post.Path, b.opts.PostsRoot, post.Frontmatter, b.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrValidation, post.Path, err)
	}
	text = AppendBacklink(text, link)
	if n := Length(text); n > MaxGraphemes {
		return nil, invalid(post.Path, "text with backlink is %d graphemes, limit is %d", n, MaxGraphemes)
	}

	img, err := b.image(ctx, post)
	if err != nil {
		return nil, err
	}
	return &models.Draft{Post: post, Text: text, Backlink: link, Image: img}, nil
}

func (b *Builder) text(post models.Post) (string, error) {
	fields := append([]string{b.opts.TextField}, FallbackTextFields...)
	for _, f := range fields {
		v, ok := frontmatter.ReadField(post.Frontmatter, f)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	if s := strings.TrimSpace(StripImages(post.Body)); s != "" {
		return s, nil
	}
	return "", invalid(post.Path, "no post text in %s, %s or body", b.opts.TextField, strings.Join(FallbackTextFields, ", "))
}

var (
	imageMarkupRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// StripImages removes inline image markup from markdown text.
func StripImages(s string) string {
	s = imageMarkupRe.ReplaceAllString(s, "")
	return blankLinesRe.ReplaceAllString(s, "\n\n")
}

// Length counts user-perceived characters.
func Length(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// AppendBacklink adds url after a blank line unless text already links to
// exactly that URL.
func AppendBacklink(text, url string) string {
	if url == "" {
		return text
	}
	for _, f := range atproto.LinkFacets(text) {
		if text[f.Index.ByteStart:f.Index.ByteEnd] == url {
			return text
		}
	}
	return strings.TrimRight(text, " \t\r\n") + "\n\n" + url
}

func invalid(p, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", apperr.ErrValidation, p, fmt.Sprintf(format, args...))
}
