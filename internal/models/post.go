// Package models defines the domain types shared across the publish pipeline.
package models

import (
	"encoding/json"

	"github.com/starford/fedpost/internal/frontmatter"
)

// Post is a markdown file as committed at HEAD.
type Post struct {
	Path        string // repo-relative, slash separated
	Raw         []byte
	Frontmatter *frontmatter.Map
	Body        string
}

// Image is the single image attached to a draft.
type Image struct {
	Alt  string
	Path string // repo-relative, slash separated
	MIME string
	Data []byte
}

// Draft is a post ready to be sent: final text with the backlink appended and
// an optional image. Drafts only live for the duration of one run.
type Draft struct {
	Post     Post
	Text     string
	Backlink string
	Image    *Image
}

// Session is the bearer credential obtained once per run.
type Session struct {
	AccessJWT string
	DID       string
	Handle    string
}

// Blob is the opaque upload handle, embedded verbatim into a record.
type Blob = json.RawMessage

// PublishResult identifies a created post record.
type PublishResult struct {
	URI string
	CID string
}
