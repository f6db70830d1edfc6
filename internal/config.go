package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/fedpost/internal/apperr"
	"github.com/starford/fedpost/internal/atproto"
	"github.com/starford/fedpost/internal/draft"
	pkgconfig "github.com/starford/fedpost/pkg/config"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Environment variables that override file settings.
const (
	EnvHandle      = "FEDPOST_HANDLE"
	EnvService     = "FEDPOST_SERVICE"
	EnvBaseURL     = "FEDPOST_BASE_URL"
	EnvPostsDir    = "FEDPOST_POSTS_DIR"
	EnvPasswordEnv = "FEDPOST_PASSWORD_ENV"
	EnvTextField   = "FEDPOST_TEXT_FIELD"
)

// DefaultPasswordEnv names the variable holding the app password.
const DefaultPasswordEnv = "BSKY_APP_PASSWORD"

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Account AccountConfig     `yaml:"account"`
	Posts   PostsConfig       `yaml:"posts"`
	Site    SiteConfig        `yaml:"site"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Account.Validate(); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if err := c.Posts.Validate(); err != nil {
		return fmt.Errorf("posts: %w", err)
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	)
}

// AccountConfig identifies the account posts are published to.
type AccountConfig struct {
	Handle      string `yaml:"handle"`
	Service     string `yaml:"service"`
	PasswordEnv string `yaml:"password_env"`
}

// Validate validates the account configuration.
func (c *AccountConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Handle, validation.Required),
		validation.Field(&c.Service, validation.Required, validation.By(httpURL)),
		validation.Field(&c.PasswordEnv, validation.Required, validation.Match(envNameRe)),
	)
}

// PostsConfig describes where posts live and how they are read.
type PostsConfig struct {
	Dir           string `yaml:"dir"`
	TextField     string `yaml:"text_field"`
	ImageStrategy string `yaml:"image_strategy"`
	ImageField    string `yaml:"image_field"`
}

// Validate validates the posts configuration.
func (c *PostsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.TextField, validation.Required),
		validation.Field(&c.ImageStrategy, validation.Required, validation.In(draft.StrategyBody, draft.StrategyField)),
		validation.Field(&c.ImageField, validation.When(c.ImageStrategy == draft.StrategyField, validation.Required)),
	)
}

// SiteConfig holds the public website the backlinks point to.
type SiteConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
	)
}

func httpURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
// Handle and base URL have no defaults.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
		},
		Account: AccountConfig{
			Service:     atproto.DefaultService,
			PasswordEnv: DefaultPasswordEnv,
		},
		Posts: PostsConfig{
			Dir:           "posts",
			TextField:     draft.DefaultTextField,
			ImageStrategy: draft.StrategyBody,
			ImageField:    draft.DefaultImageField,
		},
	}
}

// ConfigSource contributes settings to a Config. Sources are applied in
// order, so later sources override earlier ones.
type ConfigSource interface {
	Apply(cfg *Config) error
}

// ConfigSourceFunc adapts a function to ConfigSource.
type ConfigSourceFunc func(cfg *Config) error

// Apply calls f.
func (f ConfigSourceFunc) Apply(cfg *Config) error { return f(cfg) }

// FileSource reads a YAML config file. A missing optional file is skipped.
type FileSource struct {
	Path     string
	Optional bool
}

// Apply decodes the file over cfg.
func (s FileSource) Apply(cfg *Config) error {
	if s.Path == "" {
		return nil
	}
	if _, err := os.Stat(s.Path); errors.Is(err, os.ErrNotExist) && s.Optional {
		return nil
	}
	return pkgconfig.Read(s.Path, cfg)
}

// EnvSource applies FEDPOST_* overrides from an environment mapping.
type EnvSource struct {
	Env map[string]string
}

// Apply copies every non-empty override into cfg.
func (s EnvSource) Apply(cfg *Config) error {
	for name, field := range map[string]*string{
		EnvHandle:      &cfg.Account.Handle,
		EnvService:     &cfg.Account.Service,
		EnvBaseURL:     &cfg.Site.BaseURL,
		EnvPostsDir:    &cfg.Posts.Dir,
		EnvPasswordEnv: &cfg.Account.PasswordEnv,
		EnvTextField:   &cfg.Posts.TextField,
	} {
		if v := s.Env[name]; v != "" {
			*field = v
		}
	}
	return nil
}

// ResolveConfig applies sources over the defaults and validates the result.
func ResolveConfig(sources ...ConfigSource) (*Config, error) {
	cfg := NewDefaultConfig()
	for _, src := range sources {
		if err := src.Apply(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConfig, err)
	}
	return cfg, nil
}
