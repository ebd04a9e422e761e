package main

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/scott-cotton/cli"

	"github.com/mm-lang/mmlsp/db"
)

type SearchConfig struct {
	*MainConfig
	Search *cli.Command
	Expr   string `cli:"name=e desc='filter program, e.g. kind == \"theorem\" && hyps > 2'"`
}

func SearchCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &SearchConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Search, "search").
		WithSynopsis("search -e <program> <main.mm>").
		WithDescription("print statements matching an expression over their metadata").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return search(cfg, cc, args)
		})
}

// stmtEnv is the expression environment for one statement.
type stmtEnv struct {
	Label    string `expr:"label"`
	Kind     string `expr:"kind"`
	Typecode string `expr:"typecode"`
	Formula  string `expr:"formula"`
	Hyps     int    `expr:"hyps"`
	Proven   bool   `expr:"proven"`
}

func search(cfg *SearchConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Search.Parse(cc, args)
	if err != nil {
		return err
	}
	if cfg.Expr == "" {
		return fmt.Errorf("%w: search requires -e <program>", cli.ErrUsage)
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: search requires one argument, the main database file", cli.ErrUsage)
	}
	prg, err := expr.Compile(cfg.Expr, expr.Env(stmtEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	snap, err := db.Build(context.Background(), args[0], nil, nil)
	if err != nil {
		return err
	}
	for _, st := range snap.Stmts {
		if st.Label == "" {
			continue
		}
		env := stmtEnv{
			Label:   st.Label,
			Kind:    st.Kind.String(),
			Formula: st.Formula.ExprString(snap.Syms),
			Proven:  st.Kind != db.Theorem || st.Proof != nil && !st.Proof.Incomplete,
		}
		if st.IsHypothesis() || st.IsAssertion() {
			env.Typecode = snap.Syms.Name(st.Formula.Typecode)
		}
		if st.Frame != nil {
			env.Hyps = len(st.Frame.Floats) + len(st.Frame.Essentials)
		}
		res, err := expr.Run(prg, env)
		if err != nil {
			return err
		}
		if res == true {
			fmt.Fprintf(cc.Out, "%s %s %s %s\n",
				st.Label, st.Kind, env.Typecode, env.Formula)
		}
	}
	return nil
}
