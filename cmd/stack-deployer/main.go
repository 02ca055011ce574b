package main

import (
	"context"
	"os"

	"github.com/savaki/stack-deployer/cmd/stack-deployer/commands"
	"github.com/savaki/stack-deployer/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "stack-deployer",
		Usage: "Operate stack deployment pipelines",
		Description: `Operator tooling for the stack deployer.

This tool provides commands for:
  - Decoding correlation handles and resolving them to their stored records
  - Inspecting and resetting pipeline state
  - Starting pipeline executions
  - Listing the deployment journal of a stack`,
		Commands: []*cli.Command{
			commands.HandleCommand(&logger),
			commands.StateCommand(&logger),
			commands.PipelineCommand(&logger),
			commands.JournalCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
