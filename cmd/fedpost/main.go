package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/fedpost/internal"
	pkgconfig "github.com/starford/fedpost/pkg/config"
)

const defaultConfigFile = "fedpost.yaml"

// options resolves the configuration and environment shared by all commands.
func options(cmd *cli.Command) ([]internal.Option, error) {
	env, err := pkgconfig.ReadEnv(cmd.String("env-file"))
	if err != nil {
		return nil, err
	}

	flags := internal.ConfigSourceFunc(func(cfg *internal.Config) error {
		if cmd.IsSet("handle") {
			cfg.Account.Handle = cmd.String("handle")
		}
		if cmd.IsSet("base-url") {
			cfg.Site.BaseURL = cmd.String("base-url")
		}
		if cmd.IsSet("posts-dir") {
			cfg.Posts.Dir = cmd.String("posts-dir")
		}
		return nil
	})

	cfg, err := internal.ResolveConfig(
		internal.FileSource{Path: cmd.String("config"), Optional: !cmd.IsSet("config")},
		internal.EnvSource{Env: env},
		flags,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithEnv(env),
		internal.WithDryRun(cmd.Bool("dry-run")),
	}, nil
}

func publish(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func watch(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Watch(ctx, opts...); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "fedpost",
		Usage:  "Publish committed markdown posts to Bluesky and record them back in git",
		Action: publish,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigFile,
				Value:       defaultConfigFile,
				Sources:     cli.EnvVars("FEDPOST_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file holding the app password",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Build drafts and print what would be published",
			},
			&cli.StringFlag{
				Name:  "handle",
				Usage: "Account handle, overrides config",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "Public site URL backlinks point to, overrides config",
			},
			&cli.StringFlag{
				Name:  "posts-dir",
				Usage: "Directory holding posts, overrides config",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "publish",
				Usage:  "Publish every committed post without a marker (default)",
				Action: publish,
			},
			{
				Name:   "watch",
				Usage:  "Publish now and again whenever HEAD moves",
				Action: watch,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
