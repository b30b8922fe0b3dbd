package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/yasutakesougo/audit-management-system-mvp-sub007/internal/manifest"
)

type provisionConfig struct {
	*cli.Command
	ConfigFile string `cli:"name=config desc='config file (toml)'"`
	File       string `cli:"name=f aliases=file desc='manifest file (yaml)'"`
}

// ProvisionCommand returns the provision subcommand.
func ProvisionCommand() *cli.Command {
	cfg := &provisionConfig{}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "provision").
		WithSynopsis("provision -f manifest.yaml - create a list and its fields").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *provisionConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}
	if cfg.File == "" {
		return fmt.Errorf("%w: usage: listctl provision -f <manifest.yaml>", cli.ErrUsage)
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", cfg.File, err)
	}
	defer f.Close()

	m, err := manifest.Load(f)
	if err != nil {
		return err
	}
	fields, err := m.Schemas()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, cfg.ConfigFile)
	if err != nil {
		return err
	}
	defer s.close()

	info, err := s.client.EnsureListExists(ctx, m.Spec(), fields)
	if err != nil {
		return fmt.Errorf("failed to provision %s: %w", m.List.Title, err)
	}

	state := "exists"
	if info.Created {
		state = color.GreenString("created")
	}
	fmt.Fprintf(cc.Out, "list %s (%s): %s\n", info.Title, info.ID, state)
	for _, name := range info.FieldsCreated {
		fmt.Fprintf(cc.Out, "  %s %s\n", color.GreenString("+"), name)
	}
	for _, name := range info.RequiredMismatches {
		fmt.Fprintf(cc.Out, "  %s %s: required flag differs from server\n", color.YellowString("!"), name)
	}
	return nil
}
