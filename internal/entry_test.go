package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/starford/fedpost/internal/apperr"
	"github.com/starford/fedpost/internal/testutil"
)

func runEnv(t *testing.T) (*testutil.GitRepo, *testutil.FakePDS, *Config) {
	t.Helper()
	fixture := testutil.TestGitRepo(t)
	fixture.Commit("initial", map[string]string{
		"content/hello.md":  "---\nbsky_text: Hello world\n---\nBody\n",
		"content/pic.md":    "Picture day\n\n![A picture](img/p.png)\n",
		"content/img/p.png": string(testutil.PNG),
		"content/old.md":    "---\nbsky_post: \"https://bsky.app/profile/a/post/1\"\n---\nOld\n",
		"notes/ignored.md":  "Not a post\n",
	})
	pds := testutil.NewFakePDS(t)

	cfg := NewDefaultConfig()
	cfg.Account.Handle = testutil.FakeHandle
	cfg.Account.Service = pds.URL
	cfg.Posts.Dir = "content"
	cfg.Site.BaseURL = "https://abc.com/blog"
	return fixture, pds, cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DryRun(t *testing.T) {
	fixture, pds, cfg := runEnv(t)
	var out bytes.Buffer

	err := Run(context.Background(),
		WithConfig(cfg),
		WithWorkDir(fixture.Dir),
		WithDryRun(true),
		WithOutput(&out),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pds.Sessions() != 0 {
		t.Error("dry run contacted the server")
	}
	got := out.String()
	for _, want := range []string{
		"would publish 2 post(s), 1 already published",
		"content/hello.md -> https://abc.com/blog/hello",
		"image: content/img/p.png (image/png",
		"  | Hello world",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Errorf("post outside posts dir listed:\n%s", got)
	}
}

func TestRun_Publishes(t *testing.T) {
	fixture, pds, cfg := runEnv(t)
	var out bytes.Buffer
	opts := []Option{
		WithConfig(cfg),
		WithWorkDir(fixture.Dir),
		WithEnv(map[string]string{DefaultPasswordEnv: testutil.FakePassword}),
		WithOutput(&out),
		WithLogger(quietLogger()),
	}

	if err := Run(context.Background(), opts...); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pds.Records()) != 2 || len(pds.Blobs()) != 1 {
		t.Errorf("records = %d, blobs = %d", len(pds.Records()), len(pds.Blobs()))
	}
	if !strings.Contains(out.String(), "published content/hello.md: https://bsky.app/profile/alice.test/post/rkey1") {
		t.Errorf("report:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "(fedpost: publish #1)") {
		t.Errorf("report:\n%s", out.String())
	}
	if msg := fixture.Git("log", "-1", "--format=%s"); msg != "fedpost: publish #1" {
		t.Errorf("commit = %q", msg)
	}

	out.Reset()
	if err := Run(context.Background(), opts...); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(pds.Records()) != 2 || out.Len() != 0 {
		t.Errorf("second run published again: records = %d, output %q", len(pds.Records()), out.String())
	}
}

func TestRun_MissingPassword(t *testing.T) {
	fixture, _, cfg := runEnv(t)
	err := Run(context.Background(),
		WithConfig(cfg),
		WithWorkDir(fixture.Dir),
		WithEnv(map[string]string{}),
		WithOutput(io.Discard),
		WithLogger(quietLogger()),
	)
	if !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestRun_PostsDirOutsideRepo(t *testing.T) {
	fixture, _, cfg := runEnv(t)
	cfg.Posts.Dir = "../elsewhere"
	err := Run(context.Background(),
		WithConfig(cfg),
		WithWorkDir(fixture.Dir),
		WithOutput(io.Discard),
		WithLogger(quietLogger()),
	)
	if err == nil {
		t.Fatal("expected error for posts dir outside the repository")
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestSignalContext_CancelledOnInterrupt(t *testing.T) {
	ctx, stop := signalContext(context.Background())
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGINT")
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	fixture, _, cfg := runEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx,
			WithConfig(cfg),
			WithWorkDir(fixture.Dir),
			WithDryRun(true),
			WithOutput(&out),
			WithLogger(quietLogger()),
		)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(ApplicationConfig{LogLevel: slog.LevelWarn, LogFormat: LogFormatText}, &buf).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	NewLogger(ApplicationConfig{LogFormat: LogFormatJSON}, &buf).Info("shown")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
