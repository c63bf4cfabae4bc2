package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/flotilla-dev/flotilla/internal/shell/engine"
)

// logsCmd handles the "logs <service>" command. The container is located by
// its stack and service labels, so adopted containers are found too.
func logsCmd(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("logs", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	stackFile := flags.String("stack", "", "path to the stack file (overrides stack.file)")
	tail := flags.String("tail", "100", `number of trailing lines to show, or "all"`)
	follow := flags.Bool("follow", false, "keep streaming new log lines")
	timestamps := flags.Bool("timestamps", false, "prefix each line with its timestamp")
	if err := flags.Parse(args); err != nil {
		return ExitConfigError
	}
	service := flags.Arg(0)
	if service == "" {
		fmt.Fprintln(os.Stderr, "usage: flotilla logs [flags] <service>")
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
	if p.WaveIndex(service) < 0 {
		fmt.Fprintf(os.Stderr, "unknown service %q in stack %s\n", service, p.Stack)
		return ExitConfigError
	}

	eng, err := engine.NewDockerClient(cfg.Engine.Host)
	if err != nil {
		logger.Error("failed to connect to container engine", "error", err)
		return ExitFailure
	}
	defer eng.Close()

	containers, err := eng.ListContainers(ctx, engine.ListOptions{
		All:     true,
		Filters: map[string]string{"label": engine.LabelStack + "=" + p.Stack},
	})
	if err != nil {
		logger.Error("failed to list stack containers", "error", err)
		return ExitFailure
	}

	var containerID string
	for _, c := range containers {
		if c.Labels[engine.LabelService] == service {
			containerID = c.ID
			break
		}
	}
	if containerID == "" {
		fmt.Fprintf(os.Stderr, "no container found for service %q in stack %s\n", service, p.Stack)
		return ExitFailure
	}

	rc, err := eng.ContainerLogs(ctx, containerID, engine.LogOptions{
		Follow:     *follow,
		Tail:       *tail,
		Timestamps: *timestamps,
	})
	if err != nil {
		logger.Error("failed to read container logs", "service", service, "error", err)
		return ExitFailure
	}
	defer rc.Close()

	if _, err := io.Copy(os.Stdout, rc); err != nil && ctx.Err() == nil {
		logger.Error("log stream interrupted", "service", service, "error", err)
		return ExitFailure
	}

	return ExitSuccess
}
