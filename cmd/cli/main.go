package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkload/config"
	"github.com/jaywantadh/chunkload/internal/history"
	"github.com/jaywantadh/chunkload/pkg/env"
	"github.com/jaywantadh/chunkload/pkg/logging"
)

func main() {
	env.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "chunkload",
		Usage: "Chunked uploads and streamed downloads against a KekUpload-style file service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: ".", Usage: "directory containing config.yaml"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			logging.InitLogger(c.Bool("debug") || cfg.Debug)
			logging.Log.Out = os.Stderr
			return nil
		},
		Commands: []*cli.Command{
			uploadCommand(),
			streamCommand(),
			downloadCommand(),
			historyCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.Get().Fatal(err)
	}
}

// openHistory opens the history store. History is best effort: a store that
// cannot be opened only disables recording.
func openHistory() *history.Store {
	store, err := history.Open(config.Config.HistoryPath)
	if err != nil {
		logging.Log.WithError(err).Warn("history disabled")
		return nil
	}
	return store
}
