// Package atproto is a minimal XRPC client for creating posts on an AT
// Protocol personal data server.
package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/fedpost/internal/apperr"
	"github.com/starford/fedpost/internal/models"
)

// DefaultService is the endpoint used when none is configured.
const DefaultService = "https://bsky.social"

// Lexicon identifiers written into records.
const (
	PostCollection  = "app.bsky.feed.post"
	ImagesEmbedType = "app.bsky.embed.images"
	LinkFeatureType = "app.bsky.richtext.facet#link"
)

// APIError is a non-2xx XRPC response.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Message)
}

// Is classifies every API failure as a network error.
func (e *APIError) Is(target error) bool { return target == apperr.ErrNetwork }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client talks to one service endpoint.
type Client struct {
	service string
	http    *http.Client
	now     func() time.Time
}

// New creates a client for service, e.g. https://bsky.social.
func New(service string, opts ...Option) *Client {
	if service == "" {
		service = DefaultService
	}
	c := &Client{
		service: strings.TrimRight(service, "/"),
		http:    &http.Client{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession exchanges a handle and app password for an access token.
func (c *Client) CreateSession(ctx context.Context, handle, password string) (*models.Session, error) {
	const op = "com.atproto.server.createSession"
	body, err := json.Marshal(map[string]string{
		"identifier": handle,
		"password":   password,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	var out struct {
		AccessJWT string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := c.call(ctx, op, nil, "application/json", body, &out); err != nil {
		return nil, err
	}
	if out.AccessJWT == "" || out.DID == "" {
		return nil, fmt.Errorf("%w: %s: response missing accessJwt or did", apperr.ErrNetwork, op)
	}
	return &models.Session{AccessJWT: out.AccessJWT, DID: out.DID, Handle: handle}, nil
}

// UploadBlob uploads raw image bytes and returns the blob reference to embed.
func (c *Client) UploadBlob(ctx context.Context, sess *models.Session, data []byte, mime string) (models.Blob, error) {
	const op = "com.atproto.repo.uploadBlob"
	var out struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := c.call(ctx, op, sess, mime, data, &out); err != nil {
		return nil, err
	}
	if len(out.Blob) == 0 || string(out.Blob) == "null" {
		return nil, fmt.Errorf("%w: %s: response missing blob", apperr.ErrNetwork, op)
	}
	return models.Blob(out.Blob), nil
}

// ImageEmbed attaches an uploaded blob to a post.
type ImageEmbed struct {
	Alt  string
	Blob models.Blob
}

// CreateRecord creates a post with text and an optional image. Every http(s)
// URL in text becomes a link facet.
func (c *Client) CreateRecord(ctx context.Context, sess *models.Session, text string, image *ImageEmbed) (*models.PublishResult, error) {
	const op = "com.atproto.repo.createRecord"
	rec := postRecord{
		Type:      PostCollection,
		Text:      text,
		CreatedAt: c.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Facets:    LinkFacets(text),
	}
	if image != nil {
		rec.Embed = &imagesEmbed{
			Type:   ImagesEmbedType,
			Images: []embeddedImage{{Alt: image.Alt, Image: json.RawMessage(image.Blob)}},
		}
	}
	body, err := json.Marshal(createRecordRequest{
		Repo:       sess.DID,
		Collection: PostCollection,
		Record:     rec,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := c.call(ctx, op, sess, "application/json", body, &out); err != nil {
		return nil, err
	}
	if out.URI == "" || out.CID == "" {
		return nil, fmt.Errorf("%w: %s: response missing uri or cid", apperr.ErrNetwork, op)
	}
	return &models.PublishResult{URI: out.URI, CID: out.CID}, nil
}

// PostURL derives the public web URL of a post record.
func PostURL(uri, handle string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	parts := strings.Split(rest, "/")
	if !ok || len(parts) != 3 || parts[0] == "" || parts[1] != PostCollection || parts[2] == "" {
		return "", fmt.Errorf("%w: unexpected record uri %q", apperr.ErrNetwork, uri)
	}
	return "https://bsky.app/profile/" + handle + "/post/" + parts[2], nil
}

func (c *Client) call(ctx context.Context, op string, sess *models.Session, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.service+"/xrpc/"+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.AccessJWT)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", apperr.ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %w", apperr.ErrNetwork, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", apperr.ErrNetwork, op, err)
	}
	return nil
}

func errorMessage(status int, body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}

