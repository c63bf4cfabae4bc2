package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/flotilla-dev/flotilla/internal/core/plan"
	"github.com/flotilla-dev/flotilla/internal/core/run"
	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/core/vault"
	"github.com/flotilla-dev/flotilla/internal/shell/deploy"
	"github.com/flotilla-dev/flotilla/internal/shell/engine"
	"github.com/flotilla-dev/flotilla/internal/shell/health"
	"github.com/flotilla-dev/flotilla/internal/shell/images"
	"github.com/flotilla-dev/flotilla/internal/shell/notify"
	"github.com/flotilla-dev/flotilla/internal/shell/secrets"
)

// deployCmd handles the "deploy" command.
func deployCmd(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("deploy", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	stackFile := flags.String("stack", "", "path to the stack file (overrides stack.file)")
	dryRun := flags.Bool("dry-run", false, "print the deployment plan without applying it")
	checkOnly := flags.Bool("check-health-only", false, "report health of running services without deploying")
	push := flags.Bool("push", false, "push built images to the registry")
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

	if *dryRun {
		printPlan(os.Stdout, p)
		return ExitSuccess
	}

	eng, err := engine.NewDockerClient(cfg.Engine.Host)
	if err != nil {
		logger.Error("failed to connect to container engine", "error", err)
		return ExitFailure
	}
	defer eng.Close()

	verifier := health.NewVerifier(eng, cfg.Health.Interval, logger)
	provisioner := secrets.NewProvisioner(cfg.Secrets.Dir, cfg.Secrets.Passphrase, logger)
	driver := deploy.NewDriver(eng, provisioner, verifier, logger)

	if *checkOnly {
		report := driver.CheckHealth(ctx, p, deploy.Options{
			MaxConcurrent: cfg.Deploy.MaxConcurrent,
			HealthTimeout: cfg.Health.Timeout,
		})
		printReport(os.Stdout, report)
		return exitCodeFor(report.Verdict)
	}

	// Everything fatal about the configuration must surface before the
	// first engine mutation.
	if err := preflightSecrets(cfg, p); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	pushImages := *push || cfg.Images.Push
	if pushImages && cfg.Registry.Auth().Empty() {
		fmt.Fprintln(os.Stderr, "configuration error: registry credentials are required to push images")
		return ExitConfigError
	}

	runCtx := ctx
	if cfg.Deploy.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Deploy.Timeout)
		defer cancel()
	}

	if len(p.Images) > 0 {
		builder := images.NewBuilder(eng, logger)
		results := builder.BuildAll(runCtx, p.Images, images.Options{
			Push:          pushImages,
			Auth:          cfg.Registry.Auth(),
			MaxConcurrent: cfg.Images.MaxConcurrent,
			PushRetries:   cfg.Images.PushRetries,
			Labels:        engine.StackLabels(p.Stack),
		})
		for _, res := range results {
			if res.Err != nil {
				// The services consuming this image fail at start; their
				// siblings still deploy.
				logger.Error("image build failed", "image", res.Image.Ref(), "error", res.Err)
			}
		}
	}

	report := driver.Deploy(runCtx, p, deploy.Options{
		MaxConcurrent:  cfg.Deploy.MaxConcurrent,
		StartTimeout:   cfg.Deploy.StartTimeout,
		HealthTimeout:  cfg.Health.Timeout,
		CleanupSecrets: cfg.Secrets.Cleanup,
		SecretValues:   cfg.Secrets.Values,
	})

	// Journal and webhook run after the verdict is settled; a cancelled run
	// still gets recorded.
	recordRun(context.WithoutCancel(ctx), cfg, report, logger)

	printReport(os.Stdout, report)
	return exitCodeFor(report.Verdict)
}

// loadPlan reads the stack file, parses it with its interpolation variables
// and computes the deployment plan.
func loadPlan(cfg *Config, stackFile string) (*plan.DeploymentPlan, error) {
	path := stackFile
	if path == "" {
		path = cfg.Stack.File
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}

	env, err := interpolationEnv(path)
	if err != nil {
		return nil, err
	}

	spec, err := stack.Parse(cfg.Stack.Project, string(content), env)
	if err != nil {
		return nil, fmt.Errorf("invalid stack %s: %w", path, err)
	}

	return plan.Build(spec)
}

// interpolationEnv assembles the variables ${VAR} placeholders resolve
// against: a .env file next to the stack file, overlaid by the process
// environment. Existing environment variables take precedence over values
// in .env.
func interpolationEnv(stackPath string) (map[string]string, error) {
	env := make(map[string]string)

	dotenvPath := filepath.Join(filepath.Dir(stackPath), ".env")
	fileVars, err := godotenv.Read(dotenvPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", dotenvPath, err)
	}
	for k, v := range fileVars {
		env[k] = v
	}

	for _, entry := range os.Environ() {
		if k, v, ok := strings.Cut(entry, "="); ok {
			env[k] = v
		}
	}

	return env, nil
}

// preflightSecrets checks that every secret the plan declares has a value
// and that sealed values can be opened. Runs before any engine mutation.
func preflightSecrets(cfg *Config, p *plan.DeploymentPlan) error {
	var missing []string
	sealed := false
	for _, ref := range p.Secrets {
		value, ok := cfg.Secrets.Values[ref.Name]
		if !ok {
			missing = append(missing, ref.Name)
			continue
		}
		if vault.IsSealed(value) {
			sealed = true
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no value configured for secrets: %s", strings.Join(missing, ", "))
	}
	if sealed && cfg.Secrets.Passphrase == "" {
		return errors.New("secrets.passphrase is required to open sealed secret values")
	}
	return nil
}

// recordRun journals the report and posts it to the completion webhook.
// Both are best-effort: failures are logged and never change the verdict.
func recordRun(ctx context.Context, cfg *Config, report *run.Report, logger *slog.Logger) {
	if cfg.Journal.Enabled {
		journal, err := openJournal(cfg)
		if err != nil {
			logger.Warn("failed to open run journal", "dsn", cfg.Journal.DSN, "error", err)
		} else {
			if err := journal.SaveRun(ctx, report); err != nil {
				logger.Warn("failed to journal run", "run_id", report.RunID, "error", err)
			}
			if err := journal.Close(); err != nil {
				logger.Warn("failed to close run journal", "error", err)
			}
		}
	}

	notifier := notify.NewNotifier(cfg.Notify.WebhookURL, logger)
	if notifier.Enabled() {
		if err := notifier.NotifyRun(ctx, report); err != nil {
			logger.Warn("failed to post run report", "run_id", report.RunID, "error", err)
		}
	}
}

// printPlan renders the computed plan. Secret values never appear here; the
// plan knows secrets by name only.
func printPlan(w io.Writer, p *plan.DeploymentPlan) {
	fmt.Fprintf(w, "Stack: %s\n", p.Stack)

	if len(p.Images) > 0 {
		fmt.Fprintln(w, "\nImages to build:")
		for _, img := range p.Images {
			fmt.Fprintf(w, "  %s (context %s)\n", img.Ref(), img.Context)
		}
	}

	if len(p.Networks) > 0 {
		fmt.Fprintln(w, "\nNetworks:")
		for _, ref := range p.Networks {
			if ref.External {
				fmt.Fprintf(w, "  %s (external)\n", ref.Name)
				continue
			}
			fmt.Fprintf(w, "  %s -> %s\n", ref.Name, plan.NetworkName(p.Stack, ref.Name))
		}
	}

	if len(p.Volumes) > 0 {
		fmt.Fprintln(w, "\nVolumes:")
		for _, ref := range p.Volumes {
			if ref.External {
				fmt.Fprintf(w, "  %s (external)\n", ref.Name)
				continue
			}
			fmt.Fprintf(w, "  %s -> %s\n", ref.Name, plan.VolumeName(p.Stack, ref.Name))
		}
	}

	if len(p.Secrets) > 0 {
		fmt.Fprintln(w, "\nSecrets:")
		for _, ref := range p.Secrets {
			fmt.Fprintf(w, "  %s\n", ref.Name)
		}
	}

	fmt.Fprintln(w, "\nStart order:")
	for i, wave := range p.Waves {
		fmt.Fprintf(w, "  wave %d:\n", i+1)
		for _, svc := range wave {
			fmt.Fprintf(w, "    %s (image %s)\n", svc.Name, svc.Image)
		}
	}
}

// printReport renders the per-service outcome and the verdict.
func printReport(w io.Writer, report *run.Report) {
	fmt.Fprintf(w, "Run %s  stack %s\n", report.RunID, report.Stack)
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tDETAIL")
	for _, res := range report.Services {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Service, res.State, res.Detail)
	}
	tw.Flush()

	fmt.Fprintf(w, "Verdict: %s (%s)\n", report.Verdict, report.Duration().Round(time.Millisecond))
}
