package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/scott-cotton/cli"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/verify"
)

type VerifyConfig struct {
	*MainConfig
	Verify *cli.Command
}

func VerifyCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &VerifyConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Verify, "verify").
		WithAliases("v").
		WithSynopsis("verify <main.mm> [labels...]").
		WithDescription("verify all theorem proofs, or just the named ones").
		WithRun(func(cc *cli.Context, args []string) error {
			return verifyRun(cfg, cc, args)
		})
}

func verifyRun(cfg *VerifyConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Verify.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: verify requires the main database file", cli.ErrUsage)
	}
	ctx := context.Background()
	snap, err := db.Build(ctx, args[0], nil, nil)
	if err != nil {
		// Only an unreadable root is fatal; everything inside the
		// database comes back as diagnostics.
		return err
	}
	store := verify.NewStore()

	ds := append([]diag.Diag{}, snap.Diags...)
	labels := args[1:]
	if len(labels) == 0 {
		vds, err := verify.VerifyAll(ctx, snap, store, cfg.Jobs)
		if err != nil {
			return err
		}
		ds = append(ds, vds...)
	} else {
		for _, label := range labels {
			st := snap.ActiveAssertion(label)
			if st == nil {
				return fmt.Errorf("%w: no axiom or theorem %q", cli.ErrUsage, label)
			}
			if _, err := store.Verify(ctx, snap, st); err != nil {
				var ve *verify.Error
				if !errors.As(err, &ve) {
					return err
				}
				ds = append(ds, ve.Diag())
			}
		}
	}
	diag.Sort(ds)
	diag.Fprint(cc.Out, ds)
	for _, d := range ds {
		if d.Severity == diag.Error {
			return cli.ExitCodeErr(1)
		}
	}
	fmt.Fprintf(cc.Out, "verified %d statements\n", len(snap.Stmts))
	return nil
}
