package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"

	"github.com/mm-lang/mmlsp/server"
)

type ServeConfig struct {
	*MainConfig
	Serve *cli.Command
	Gops  bool `cli:"name=gops desc='start a gops diagnostics agent'"`
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ServeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Serve, "serve").
		WithAliases("s").
		WithSynopsis("serve [-gops] <main.mm>").
		WithDescription("serve LSP over stdin/stdout for the given database").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
}

func serve(cfg *ServeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Serve.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: serve requires one argument, the main database file", cli.ErrUsage)
	}
	mainFile := args[0]
	if _, err := os.Stat(mainFile); err != nil {
		return fmt.Errorf("main file: %w", err)
	}

	log := cfg.logger()
	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Warn("gops agent failed", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	srv := server.NewServer(server.Options{
		MainFile: mainFile,
		Jobs:     cfg.Jobs,
		Logger:   log,
	})
	log.Info("serving", "main", mainFile, "jobs", cfg.Jobs)
	return srv.Run(ctx, server.Stdio())
}
