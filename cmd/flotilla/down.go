package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/flotilla-dev/flotilla/internal/shell/deploy"
	"github.com/flotilla-dev/flotilla/internal/shell/engine"
)

// downCmd handles the "down" command.
func downCmd(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("down", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	stackFile := flags.String("stack", "", "path to the stack file (overrides stack.file)")
	removeVolumes := flags.Bool("volumes", false, "also remove the stack's volumes")
	if err := flags.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	p, err := loadPlan(cfg, *stackFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	eng, err := engine.NewDockerClient(cfg.Engine.Host)
	if err != nil {
		logger.Error("failed to connect to container engine", "error", err)
		return ExitFailure
	}
	defer eng.Close()

	// Down only talks to the engine; no secrets or health verification.
	driver := deploy.NewDriver(eng, nil, nil, logger)
	if err := driver.Down(ctx, p, *removeVolumes); err != nil {
		logger.Error("failed to take stack down", "stack", p.Stack, "error", err)
		return ExitFailure
	}

	fmt.Printf("stack %s is down\n", p.Stack)
	return ExitSuccess
}
