package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/scott-cotton/cli"

	splists "github.com/yasutakesougo/audit-management-system-mvp-sub007"
	"github.com/yasutakesougo/audit-management-system-mvp-sub007/config"
	"github.com/yasutakesougo/audit-management-system-mvp-sub007/tokencache"
)

const tokenEnv = "LISTCTL_TOKEN"

const usageText = `listctl - work with REST/OData lists

Usage:
  listctl items [-config file] [-select a,b] [-filter expr] [-top n] [list]
  listctl provision [-config file] -f manifest.yaml
  listctl version

The bearer token is read from $LISTCTL_TOKEN. Settings come from
~/.config/splists/config.toml and SPLISTS_* environment variables.`

// Root returns the root command for listctl.
func Root() *cli.Command {
	return cli.NewCommand("listctl").
		WithSynopsis("listctl - work with REST/OData lists").
		WithDescription(usageText).
		WithSubs(
			ItemsCommand(),
			ProvisionCommand(),
			VersionCommand(),
		)
}

// envToken reads the token from the environment. A refresh rereads it so a
// wrapper script can rotate it between calls.
func envToken(context.Context) (string, error) {
	return os.Getenv(tokenEnv), nil
}

type session struct {
	cfg    config.Config
	client *splists.Client
	close  func()
}

func openSession(ctx context.Context, configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.SiteURL == "" {
		return nil, fmt.Errorf("%w: site_url is not configured", cli.ErrUsage)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFor(cfg.Debug)}))
	opts := append(cfg.ClientOptions(), splists.WithLogger(splists.NewSlogLogger(logger)))

	s := &session{cfg: cfg, close: func() {}}
	cache, err := cfg.OpenMissingFieldCache(ctx)
	if err != nil {
		return nil, fmt.Errorf("open missing-field cache: %w", err)
	}
	if cache != nil {
		opts = append(opts, splists.WithMissingFieldCache(cache))
		s.close = func() { _ = cache.Close() }
	}

	tokens := tokencache.New(envToken, tokencache.DefaultSkew)
	s.client, err = splists.New(cfg.SiteURL, tokens.Token, opts...)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func levelFor(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

type versionConfig struct {
	*cli.Command
}

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	cfg := &versionConfig{}
	return cli.NewCommandAt(&cfg.Command, "version").
		WithSynopsis("version - print version information").
		WithRun(cfg.run)
}

func (cfg *versionConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}
	fmt.Fprintln(cc.Out, splists.GetVersion())
	return nil
}
