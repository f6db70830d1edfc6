// Package backlink computes the canonical public URL of a post.
package backlink

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/starford/fedpost/internal/frontmatter"
)

// SlugField overrides the path-derived URL when present.
const SlugField = "slug"

// ErrNoBacklink is returned when no URL path can be derived for a post.
var ErrNoBacklink = errors.New("backlink: cannot derive a URL path")

// Resolve returns the backlink for the post at postPath (repo-relative) under
// postsRoot (repo-relative subtree, "" or "." for the repository root).
func Resolve(postPath, postsRoot string, fm *frontmatter.Map, baseURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", fmt.Errorf("backlink: base URL is empty")
	}

	if v, ok := fm.Get(SlugField); ok {
		s, err := slugString(v)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrNoBacklink, postPath, err)
		}
		slug := strings.Trim(strings.TrimSpace(s), "/")
		if slug == "" {
			return base, nil
		}
		return base + "/" + escapeSegments(slug), nil
	}

	rel, err := relativeTo(postPath, postsRoot)
	if err != nil {
		return "", err
	}
	rel = trimMarkdownExt(rel)
	if rel == "index" {
		rel = ""
	}
	rel = strings.TrimSuffix(rel, "/index")
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("%w: %s", ErrNoBacklink, postPath)
	}
	return base + "/" + escapeSegments(rel), nil
}

// slugString accepts scalar slugs only. A null slug is empty.
func slugString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("slug must be a scalar, got %T", v)
	}
}

func relativeTo(postPath, postsRoot string) (string, error) {
	p := path.Clean(postPath)
	root := path.Clean(strings.TrimSpace(postsRoot))
	if root == "." || root == "/" {
		return strings.TrimPrefix(p, "/"), nil
	}
	if !strings.HasPrefix(p, root+"/") {
		return "", fmt.Errorf("%w: %s is outside posts root %s", ErrNoBacklink, postPath, postsRoot)
	}
	return strings.TrimPrefix(p, root+"/"), nil
}

func trimMarkdownExt(p string) string {
	lower := strings.ToLower(p)
	for _, ext := range []string{".markdown", ".md"} {
		if strings.HasSuffix(lower, ext) {
			return p[:len(p)-len(ext)]
		}
	}
	return p
}

// escapeSegments percent-encodes each slash-separated segment on its own,
// dropping empty segments.
func escapeSegments(p string) string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s == "" {
			continue
		}
		out = append(out, url.PathEscape(s))
	}
	return strings.Join(out, "/")
}
