package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/flotilla-dev/flotilla/internal/core/run"
	"github.com/flotilla-dev/flotilla/internal/shell/store"
)

// historyCmd handles the "history" command. An optional positional argument
// filters runs to one stack.
func historyCmd(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	limit := flags.Int("limit", store.DefaultListOptions().Limit, "maximum number of runs to list")
	offset := flags.Int("offset", 0, "number of runs to skip")
	if err := flags.Parse(args); err != nil {
		return ExitConfigError
	}
	stackName := flags.Arg(0)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "configuration error: the run journal is disabled (journal.enabled)")
		return ExitConfigError
	}

	journal, err := openJournal(cfg)
	if err != nil {
		logger.Error("failed to open run journal", "dsn", cfg.Journal.DSN, "error", err)
		return ExitFailure
	}
	defer journal.Close()

	runs, err := journal.ListRuns(ctx, stackName, store.ListOptions{Limit: *limit, Offset: *offset})
	if err != nil {
		logger.Error("failed to list runs", "error", err)
		return ExitFailure
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return ExitSuccess
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTACK\tVERDICT\tSTARTED\tDURATION\tHEALTHY")
	for _, rep := range runs {
		healthy := 0
		for _, res := range rep.Services {
			if res.State == run.StateHealthy {
				healthy++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			shortRunID(rep.RunID),
			rep.Stack,
			rep.Verdict,
			rep.StartedAt.Local().Format(time.DateTime),
			rep.Duration().Round(time.Millisecond),
			healthy,
			len(rep.Services))
	}
	tw.Flush()

	return ExitSuccess
}

// openJournal opens the run journal, creating its directory on first use.
func openJournal(cfg *Config) (store.Store, error) {
	if dir := filepath.Dir(cfg.Journal.DSN); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
		}
	}
	return store.NewSQLiteStore(cfg.Journal.DSN)
}

// shortRunID truncates a run UUID for tabular output.
func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
