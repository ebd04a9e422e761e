package main

import (
	"context"
	"fmt"

	"github.com/scott-cotton/cli"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/verify"
	"github.com/mm-lang/mmlsp/worksheet"
)

type ShowConfig struct {
	*MainConfig
	Show     *cli.Command
	LocAfter string `cli:"name=after desc='LOC_AFTER label for the rendered worksheet'"`
}

func ShowCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ShowConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Show, "show").
		WithSynopsis("show [-after <label>] <main.mm> <theorem>").
		WithDescription("verify a theorem and print its proof as a worksheet").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return show(cfg, cc, args)
		})
}

func show(cfg *ShowConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Show.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: show requires the main database file and a theorem label", cli.ErrUsage)
	}
	ctx := context.Background()
	snap, err := db.Build(ctx, args[0], nil, nil)
	if err != nil {
		return err
	}
	st := snap.ActiveAssertion(args[1])
	if st == nil {
		return fmt.Errorf("%w: no axiom or theorem %q", cli.ErrUsage, args[1])
	}
	vp, err := verify.Verify(ctx, snap, st)
	if err != nil {
		return err
	}
	locAfter := cfg.LocAfter
	if locAfter == "" {
		locAfter = "?"
	}
	fmt.Fprint(cc.Out, worksheet.Render(snap, vp, locAfter))
	return nil
}
