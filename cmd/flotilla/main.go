// Package main provides the flotilla binary that deploys container stacks.
//
// Flotilla reads a compose-style stack file, computes a deployment plan and
// converges a container engine toward it: images are built, networks and
// volumes ensured, secrets provisioned as files, and services started in
// dependency order and verified healthy. Re-running a deployment of an
// unchanged stack is a no-op.
//
// Usage:
//
//	flotilla <command> [flags]
//
// Commands:
//
//	deploy    - Deploy the stack (--dry-run, --check-health-only, --push)
//	down      - Stop and remove the stack's containers and networks
//	history   - List recent deployment runs from the journal
//	logs      - Print logs for one service
//	seal      - Seal a secret value read from stdin
//	version   - Show version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flotilla-dev/flotilla/internal/core/run"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes. Configuration problems and runs where nothing became healthy
// share the failure code; a run with some healthy services exits between.
const (
	ExitSuccess        = 0
	ExitPartialFailure = 1
	ExitFailure        = 2
	ExitConfigError    = 2
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(ExitConfigError)
	}
	os.Exit(dispatch(os.Args[1], os.Args[2:]))
}

// dispatch routes the command to the appropriate handler.
func dispatch(cmd string, args []string) int {
	// A signal cancels the run context; in-flight phases observe it and
	// the report records the interruption.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "deploy":
		return deployCmd(ctx, args)
	case "down":
		return downCmd(ctx, args)
	case "history":
		return historyCmd(ctx, args)
	case "logs":
		return logsCmd(ctx, args)
	case "seal":
		return sealCmd(args)
	case "version":
		fmt.Printf("flotilla %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "help", "-h", "--help":
		usage(os.Stdout)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		return ExitConfigError
	}
}

// exitCodeFor maps a run verdict onto the process exit code. This is the
// only place verdicts become exit codes.
func exitCodeFor(verdict run.Verdict) int {
	switch verdict {
	case run.VerdictSuccess:
		return ExitSuccess
	case run.VerdictPartialFailure:
		return ExitPartialFailure
	default:
		return ExitFailure
	}
}

func usage(w *os.File) {
	fmt.Fprintf(w, `flotilla deploys container stacks in dependency order.

Usage:
  flotilla <command> [flags]

Commands:
  deploy             Deploy the stack from the stack file
  down               Stop and remove the stack's containers and networks
  history [stack]    List recent deployment runs from the journal
  logs <service>     Print logs for one service
  seal               Seal a secret value read from stdin
  version            Show version

Run "flotilla <command> -h" for command flags.
`)
}
