package e2e

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/internal/core/plan"
	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/shell/deploy"
	"github.com/flotilla-dev/flotilla/internal/shell/engine"
	"github.com/flotilla-dev/flotilla/internal/shell/health"
	"github.com/flotilla-dev/flotilla/internal/shell/secrets"
)

// Shared state initialized by TestMain.
var (
	testEngine engine.Client
	testLogger *slog.Logger
)

// e2eEnabled reports whether the e2e suite should run at all.
func e2eEnabled() bool {
	return os.Getenv("FLOTILLA_E2E") == "1"
}

// requireE2E skips the test unless the suite is enabled.
func requireE2E(t *testing.T) {
	t.Helper()
	if !e2eEnabled() {
		t.Skip("set FLOTILLA_E2E=1 to run e2e tests against a local Docker daemon")
	}
}

// newEngineClient connects to the local daemon using the standard
// environment (DOCKER_HOST etc.).
func newEngineClient() (engine.Client, error) {
	return engine.NewDockerClient("")
}

// =============================================================================
// Driver Construction
// =============================================================================

func newDriver(t *testing.T) *deploy.Driver {
	t.Helper()
	return newDriverWithSecretsDir(t, t.TempDir())
}

func newDriverWithSecretsDir(t *testing.T, secretsDir string) *deploy.Driver {
	t.Helper()
	verifier := health.NewVerifier(testEngine, 500*time.Millisecond, testLogger)
	provisioner := secrets.NewProvisioner(secretsDir, "", testLogger)
	return deploy.NewDriver(testEngine, provisioner, verifier, testLogger)
}

// buildPlan parses the stack definition and turns it into a deployment plan.
func buildPlan(t *testing.T, name, yamlContent string) *plan.DeploymentPlan {
	t.Helper()
	spec, err := stack.Parse(name, yamlContent, map[string]string{})
	require.NoError(t, err)
	p, err := plan.Build(spec)
	require.NoError(t, err)
	return p
}

// =============================================================================
// Container Inspection
// =============================================================================

// stackContainers lists every container belonging to the named stack,
// including stopped ones.
func stackContainers(t *testing.T, stackName string) []engine.ContainerInfo {
	t.Helper()
	containers, err := testEngine.ListContainers(context.Background(), engine.ListOptions{
		All:     true,
		Filters: map[string]string{"label": engine.LabelStack + "=" + stackName},
	})
	require.NoError(t, err)
	return containers
}

func containerIDs(containers []engine.ContainerInfo) []string {
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids
}

// containerCreationTimes maps each service of the stack to its container's
// creation time.
func containerCreationTimes(t *testing.T, stackName string) map[string]time.Time {
	t.Helper()
	created := make(map[string]time.Time)
	for _, c := range stackContainers(t, stackName) {
		created[c.Labels[engine.LabelService]] = c.CreatedAt
	}
	return created
}

// cleanupManagedContainers force-removes every container the tool manages,
// regardless of stack. Used between suite runs so a crashed test cannot
// poison the next one.
func cleanupManagedContainers(ctx context.Context) error {
	containers, err := testEngine.ListContainers(ctx, engine.ListOptions{
		All:     true,
		Filters: map[string]string{"label": engine.LabelManaged + "=true"},
	})
	if err != nil {
		return err
	}
	for _, c := range containers {
		if err := testEngine.RemoveContainer(ctx, c.ID, engine.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return err
		}
	}
	return nil
}
