package internal

import (
	"io"
	"log/slog"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	env     map[string]string
	workDir string
	dryRun  bool
	out     io.Writer
	logger  *slog.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithEnv sets the environment mapping the app password is read from.
func WithEnv(env map[string]string) Option {
	return func(a *application) {
		a.env = env
	}
}

// WithWorkDir sets the directory the repository is located from.
func WithWorkDir(dir string) Option {
	return func(a *application) {
		a.workDir = dir
	}
}

// WithDryRun stops each run after drafts are built and prints the plan.
func WithDryRun(dryRun bool) Option {
	return func(a *application) {
		a.dryRun = dryRun
	}
}

// WithOutput sets where the run report is printed.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}
