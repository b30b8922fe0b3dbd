package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scott-cotton/cli"

	splists "github.com/yasutakesougo/audit-management-system-mvp-sub007"
)

type itemsConfig struct {
	*cli.Command
	ConfigFile string `cli:"name=config desc='config file (toml)'"`
	Select     string `cli:"name=select desc='comma separated fields to select'"`
	Optional   string `cli:"name=optional desc='comma separated fields to select when present'"`
	Filter     string `cli:"name=filter desc='OData $filter expression'"`
	OrderBy    string `cli:"name=orderby desc='OData $orderby expression'"`
	Top        int    `cli:"name=top desc='page size'"`
}

// ItemsCommand returns the items subcommand.
func ItemsCommand() *cli.Command {
	cfg := &itemsConfig{}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "items").
		WithSynopsis("items [opts] [list] - print every item as a JSON line").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *itemsConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
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

	ref := s.cfg.List()
	if len(args) > 0 {
		ref = splists.ResolveList(args[0], s.cfg.ListTitle)
	}
	if ref.Value == "" {
		return fmt.Errorf("%w: usage: listctl items <list>", cli.ErrUsage)
	}

	q := splists.Query{
		Select:         splitList(cfg.Select),
		OptionalSelect: splitList(cfg.Optional),
		Filter:         cfg.Filter,
		OrderBy:        cfg.OrderBy,
		Top:            cfg.Top,
	}

	items, err := s.client.Items(ctx, ref, q)
	var pageErr *splists.PageError
	if err != nil && !errors.As(err, &pageErr) {
		return fmt.Errorf("failed to read %s: %w", ref, err)
	}

	enc := json.NewEncoder(cc.Out)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	if pageErr != nil {
		return fmt.Errorf("stopped after %d items: %w", len(items), pageErr)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
