package draft

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/fedpost/internal/apperr"
	"github.com/starford/fedpost/internal/frontmatter"
	"github.com/starford/fedpost/internal/models"
)

// MaxImageBytes is the largest blob the network accepts.
const MaxImageBytes = 1_000_000

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
}

type imageRef struct {
	alt string
	src string
}

func (b *Builder) image(ctx context.Context, post models.Post) (*models.Image, error) {
	var (
		ref *imageRef
		err error
	)
	switch b.opts.ImageStrategy {
	case StrategyField:
		ref, err = fieldImage(post.Frontmatter, b.opts.ImageField)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", apperr.ErrValidation, post.Path, err)
		}
	default:
		ref = firstBodyImage(post.Body)
	}
	if ref == nil {
		return nil, nil
	}

	p, err := ResolveImagePath(post.Path, ref.src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrValidation, post.Path, err)
	}
	mime, ok := mimeByExt[strings.ToLower(path.Ext(p))]
	if !ok {
		return nil, invalid(post.Path, "unsupported image type %q", path.Ext(p))
	}
	data, err := b.src.ReadFileAtHead(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: image %s: %w", apperr.ErrValidation, post.Path, p, err)
	}
	if len(data) > MaxImageBytes {
		return nil, invalid(post.Path, "image %s is %d bytes, limit is %d", p, len(data), MaxImageBytes)
	}
	if detected := mimetype.Detect(data); !detected.Is(mime) {
		return nil, invalid(post.Path, "image %s has extension for %s but content is %s", p, mime, detected.String())
	}
	return &models.Image{Alt: ref.alt, Path: p, MIME: mime, Data: data}, nil
}

// firstBodyImage returns the first image in markdown body, skipping code.
func firstBodyImage(body string) *imageRef {
	src := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var found *imageRef
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		found = &imageRef{alt: string(img.Text(src)), src: string(img.Destination)}
		return ast.WalkStop, nil
	})
	return found
}

// fieldImage reads an image reference from a frontmatter field holding either
// a path or a map with src (or path) and alt keys. A missing field is no image.
func fieldImage(fm *frontmatter.Map, field string) (*imageRef, error) {
	v, ok := frontmatter.ReadField(fm, field)
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return &imageRef{src: strings.TrimSpace(val)}, nil
	case *frontmatter.Map:
		ref := &imageRef{}
		for _, key := range []string{"src", "path"} {
			if s, ok := stringField(val, key); ok {
				ref.src = s
				break
			}
		}
		if ref.src == "" {
			return nil, fmt.Errorf("image field %s has no src or path", field)
		}
		ref.alt, _ = stringField(val, "alt")
		return ref, nil
	default:
		return nil, fmt.Errorf("image field %s must be a path or a map", field)
	}
}

func stringField(m *frontmatter.Map, key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

// ResolveImagePath turns an image reference in the post at postPath into a
// repo-relative path. A leading slash is relative to the repository root,
// anything else to the post's directory. Remote references and paths
// escaping the repository are rejected.
func ResolveImagePath(postPath, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty image reference")
	}
	if strings.HasPrefix(ref, "//") {
		return "", fmt.Errorf("image %q is not a local path", ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("image %q: %w", ref, err)
	}
	if u.Scheme != "" || u.Host != "" || u.Opaque != "" {
		return "", fmt.Errorf("image %q is not a local path", ref)
	}
	if u.Path == "" {
		return "", fmt.Errorf("image %q has no path", ref)
	}

	var p string
	if strings.HasPrefix(u.Path, "/") {
		p = path.Clean(strings.TrimLeft(u.Path, "/"))
	} else {
		p = path.Join(path.Dir(postPath), u.Path)
	}
	if p == "." || p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p) {
		return "", fmt.Errorf("image %q resolves outside the repository", ref)
	}
	return p, nil
}
