package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"procurement-reconciler/internal/adapters/cli"
	"procurement-reconciler/internal/bootstrap"
	"procurement-reconciler/internal/config"
	"procurement-reconciler/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	// The CLI prints its own results; only warnings and errors are logged.
	logger, err := logging.New("warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer rt.Close()

	if err := cli.Run(ctx, rt.Service, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
