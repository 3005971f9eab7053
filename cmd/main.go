package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadEnv("."); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}

	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:     "reelsync",
		Usage:    "Keep Trakt and IMDb ratings, watchlists, reviews and watch history in sync",
		Version:  "0.3.0",
		Flags:    globalFlags(),
		Before:   runner.before,
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented", "error", err)
			os.Exit(0)
		case errors.Is(err, shared.ErrInterrupted):
			logger.Warn("interrupted", "error", err)
			os.Exit(130)
		default:
			logger.Fatalf("application error: %v", err)
		}
	}
}
