package internal

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/fedpost/internal/apperr"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Account.Handle = "alice.test"
	cfg.Site.BaseURL = "https://abc.com/blog"
	return cfg
}

func TestNewDefaultConfig_RequiresHandleAndBaseURL(t *testing.T) {
	err := NewDefaultConfig().Validate()
	if err == nil {
		t.Fatal("defaults without handle should fail")
	}
	if !strings.Contains(err.Error(), "Handle") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg := NewDefaultConfig()
	cfg.Account.Handle = "alice.test"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "BaseURL") {
		t.Errorf("missing base url: %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if cfg.Account.Service != "https://bsky.social" || cfg.Account.PasswordEnv != "BSKY_APP_PASSWORD" {
		t.Errorf("account defaults = %+v", cfg.Account)
	}
	if cfg.Posts.Dir != "posts" || cfg.Posts.TextField != "bsky_text" || cfg.Posts.ImageStrategy != "body" {
		t.Errorf("posts defaults = %+v", cfg.Posts)
	}
}

func TestConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad base url scheme", func(c *Config) { c.Site.BaseURL = "ftp://abc.com" }},
		{"relative base url", func(c *Config) { c.Site.BaseURL = "abc.com/blog" }},
		{"bad service", func(c *Config) { c.Account.Service = "bsky.social" }},
		{"bad log format", func(c *Config) { c.App.LogFormat = "xml" }},
		{"bad strategy", func(c *Config) { c.Posts.ImageStrategy = "both" }},
		{"field strategy without field", func(c *Config) {
			c.Posts.ImageStrategy = "field"
			c.Posts.ImageField = ""
		}},
		{"bad password env name", func(c *Config) { c.Account.PasswordEnv = "NOT-VALID" }},
		{"empty posts dir", func(c *Config) { c.Posts.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestResolveConfig_SourcesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fedpost.yaml")
	yaml := `app:
  log_level: debug
  log_format: text
account:
  handle: file.test
posts:
  dir: content
  image_strategy: field
site:
  base_url: https://file.example
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ResolveConfig(
		FileSource{Path: path},
		EnvSource{Env: map[string]string{
			EnvHandle:    "env.test",
			EnvTextField: "social.text",
			EnvBaseURL:   "",
		}},
		ConfigSourceFunc(func(c *Config) error {
			c.Site.BaseURL = "https://flag.example"
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.LogFormat != LogFormatText {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Account.Handle != "env.test" {
		t.Errorf("handle = %q, want env override", cfg.Account.Handle)
	}
	if cfg.Posts.Dir != "content" || cfg.Posts.TextField != "social.text" || cfg.Posts.ImageField != "bsky_image" {
		t.Errorf("posts = %+v", cfg.Posts)
	}
	if cfg.Site.BaseURL != "https://flag.example" {
		t.Errorf("base url = %q", cfg.Site.BaseURL)
	}
	if cfg.Account.Service != "https://bsky.social" {
		t.Errorf("service = %q", cfg.Account.Service)
	}
}

func TestResolveConfig_FileErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	env := EnvSource{Env: map[string]string{EnvHandle: "a.test", EnvBaseURL: "https://abc.com"}}

	if _, err := ResolveConfig(FileSource{Path: missing, Optional: true}, env); err != nil {
		t.Errorf("optional missing file: %v", err)
	}
	_, err := ResolveConfig(FileSource{Path: missing}, env)
	if !errors.Is(err, apperr.ErrConfig) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("required missing file: %v", err)
	}
}

func TestResolveConfig_InvalidIsConfigError(t *testing.T) {
	_, err := ResolveConfig()
	if !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}
