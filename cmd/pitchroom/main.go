package main

import (
	"fmt"
	"os"

	"pitchroom/internal/bootstrap"
	"pitchroom/internal/cli"
	"pitchroom/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	deps := &cli.Dependencies{
		Config:   cfg,
		Assemble: bootstrap.Assemble,
	}
	return cli.NewRootCmd(deps).Execute()
}
