package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/fedpost/internal/checksum"
)

// Fake account credentials accepted by FakePDS.
const (
	FakeHandle   = "alice.test"
	FakePassword = "app-password"
	FakeDID      = "did:plc:alice"
	FakeToken    = "access-token"
)

// FakeBlob is an uploaded blob as received by the server.
type FakeBlob struct {
	MIME string
	Data []byte
}

// FakePDS is an in-process XRPC server implementing the three calls used to
// create a post. It records every request it accepts.
type FakePDS struct {
	*httptest.Server

	mu           sync.Mutex
	sessions     int
	blobs        []FakeBlob
	records      []map[string]any
	failRecordAt int
	failStatus   int
	failMessage  string
}

// NewFakePDS starts a server that is closed when the test ends.
func NewFakePDS(t *testing.T) *FakePDS {
	t.Helper()
	p := &FakePDS{}

	r := chi.NewRouter()
	r.Post("/xrpc/com.atproto.server.createSession", p.createSession)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(FakeToken))
		r.Post("/xrpc/com.atproto.repo.uploadBlob", p.uploadBlob)
		r.Post("/xrpc/com.atproto.repo.createRecord", p.createRecord)
	})

	p.Server = httptest.NewServer(r)
	t.Cleanup(p.Close)
	return p
}

// FailRecord makes the n-th createRecord call (1-based) fail with status and
// an XRPC error body carrying message.
func (p *FakePDS) FailRecord(n, status int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRecordAt = n
	p.failStatus = status
	p.failMessage = message
}

// Sessions returns how many sessions were created.
func (p *FakePDS) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions
}

// Blobs returns the uploaded blobs in arrival order.
func (p *FakePDS) Blobs() []FakeBlob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FakeBlob(nil), p.blobs...)
}

// Records returns the created post records in arrival order.
func (p *FakePDS) Records() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.records...)
}

func (p *FakePDS) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if req.Identifier != FakeHandle || req.Password != FakePassword {
		writeXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
		return
	}
	p.mu.Lock()
	p.sessions++
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"accessJwt":  FakeToken,
		"refreshJwt": "refresh-token",
		"handle":     FakeHandle,
		"did":        FakeDID,
	})
}

func (p *FakePDS) uploadBlob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	mime := r.Header.Get("Content-Type")
	p.mu.Lock()
	p.blobs = append(p.blobs, FakeBlob{MIME: mime, Data: data})
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"blob": map[string]any{
			"$type":    "blob",
			"ref":      map[string]string{"$link": "bafkrei" + checksum.Short(data)},
			"mimeType": mime,
			"size":     len(data),
		},
	})
}

func (p *FakePDS) createRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Repo       string         `json:"repo"`
		Collection string         `json:"collection"`
		Record     map[string]any `json:"record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if req.Repo != FakeDID || req.Collection != "app.bsky.feed.post" {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", "unexpected repo or collection")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.records) + 1
	if p.failRecordAt == n {
		p.failRecordAt = 0
		writeXRPCError(w, p.failStatus, "InternalServerError", p.failMessage)
		return
	}
	p.records = append(p.records, req.Record)
	writeJSON(w, http.StatusOK, map[string]string{
		"uri": fmt.Sprintf("at://%s/app.bsky.feed.post/rkey%d", FakeDID, n),
		"cid": fmt.Sprintf("bafyrecord%d", n),
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func writeXRPCError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
