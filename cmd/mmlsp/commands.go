package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/scott-cotton/cli"
)

type MainConfig struct {
	Debug bool `cli:"name=debug desc='verbose logging to stderr'"`

	Jobs int
	Main *cli.Command
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{Jobs: 1}
	sOpts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	opts := append(sOpts, &cli.Opt{
		Name:        "jobs",
		Aliases:     []string{"j"},
		Description: "background worker count (default 1)",
		Type:        cli.NamedFuncOpt(cfg.jobsOpt, "(count)"),
	})
	return cli.NewCommandAt(&cfg.Main, "mmlsp").
		WithSynopsis("mmlsp [opts] command [opts]").
		WithDescription("mmlsp is a language server and proof checker for metamath databases.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return mmMain(cfg, cc, args)
		}).
		WithSubs(
			ServeCommand(cfg),
			VerifyCommand(cfg),
			SearchCommand(cfg),
			ShowCommand(cfg))
}

func mmMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

func (cfg *MainConfig) jobsOpt(cc *cli.Context, a string) (any, error) {
	n, err := strconv.Atoi(a)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("%w: -jobs needs a positive count, got %q", cli.ErrUsage, a)
	}
	cfg.Jobs = n
	return n, nil
}

// logger builds the process logger. The LSP stream owns stdout, so logs
// go to stderr.
func (cfg *MainConfig) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.slogLevel(),
	}))
}

func (cfg *MainConfig) slogLevel() slog.Level {
	if cfg.Debug || os.Getenv("MM_LOG_LEVEL") == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
