// Package e2e provides end-to-end tests for flotilla.
//
// These tests require a running Docker daemon and create and destroy real
// containers, networks and volumes. They are skipped unless FLOTILLA_E2E=1
// is set:
//
//	FLOTILLA_E2E=1 go test -v -timeout 10m ./tests/e2e/...
package e2e

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/internal/core/run"
	"github.com/flotilla-dev/flotilla/internal/shell/deploy"
)

// =============================================================================
// TestMain Setup
// =============================================================================

func TestMain(m *testing.M) {
	if !e2eEnabled() {
		// Each test skips itself; nothing to set up or tear down.
		os.Exit(m.Run())
	}

	code := setup()
	if code != 0 {
		os.Exit(code)
	}

	result := m.Run()

	teardown()

	os.Exit(result)
}

func setup() int {
	log.Println("E2E Setup: Initializing test environment...")

	testLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	eng, err := newEngineClient()
	if err != nil {
		log.Printf("Failed to create engine client: %v", err)
		return 1
	}
	testEngine = eng

	if err := eng.Ping(context.Background()); err != nil {
		log.Printf("Failed to ping container engine: %v", err)
		log.Println("Make sure the Docker daemon is running")
		return 1
	}
	log.Println("E2E Setup: container engine is reachable")

	log.Println("E2E Setup: Cleaning up any leftover test containers...")
	if err := cleanupManagedContainers(context.Background()); err != nil {
		log.Printf("WARN: Failed to cleanup old containers: %v", err)
	}

	log.Println("E2E Setup: Complete!")
	return 0
}

func teardown() {
	log.Println("E2E Teardown: Cleaning up...")

	if testEngine != nil {
		if err := cleanupManagedContainers(context.Background()); err != nil {
			log.Printf("WARN: Failed to cleanup containers: %v", err)
		}
		testEngine.Close()
		log.Println("E2E Teardown: engine client closed")
	}

	log.Println("E2E Teardown: Complete!")
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

// TestE2E_StackLifecycle deploys a two-service stack, verifies that
// re-deploying reuses the running containers, checks health without
// mutating, and finally takes the stack down.
func TestE2E_StackLifecycle(t *testing.T) {
	requireE2E(t)

	stackYAML := `
services:
  cache:
    image: redis:7-alpine
  web:
    image: nginx:alpine
    depends_on: [cache]
`
	p := buildPlan(t, "e2elife", stackYAML)
	driver := newDriver(t)
	ctx := context.Background()

	t.Cleanup(func() {
		if err := driver.Down(context.Background(), p, true); err != nil {
			t.Logf("WARN: cleanup failed: %v", err)
		}
	})

	report := driver.Deploy(ctx, p, deploy.Options{HealthTimeout: 60 * time.Second})
	require.Equal(t, run.VerdictSuccess, report.Verdict, "deploy results: %+v", report.Services)

	containers := stackContainers(t, "e2elife")
	require.Len(t, containers, 2)

	// Second deploy of the unchanged stack must reuse both containers.
	report = driver.Deploy(ctx, p, deploy.Options{HealthTimeout: 60 * time.Second})
	require.Equal(t, run.VerdictSuccess, report.Verdict)

	again := stackContainers(t, "e2elife")
	require.Len(t, again, 2)
	assert.ElementsMatch(t, containerIDs(containers), containerIDs(again),
		"re-deploy must not replace running containers")

	checked := driver.CheckHealth(ctx, p, deploy.Options{HealthTimeout: 30 * time.Second})
	assert.Equal(t, run.VerdictSuccess, checked.Verdict)

	require.NoError(t, driver.Down(ctx, p, true))
	assert.Empty(t, stackContainers(t, "e2elife"))
}

// TestE2E_DependencyOrdering verifies that a dependent service's container
// is created after its dependency started.
func TestE2E_DependencyOrdering(t *testing.T) {
	requireE2E(t)

	stackYAML := `
services:
  db:
    image: redis:7-alpine
  api:
    image: nginx:alpine
    depends_on: [db]
  front:
    image: nginx:alpine
    depends_on: [api]
`
	p := buildPlan(t, "e2eorder", stackYAML)
	driver := newDriver(t)
	ctx := context.Background()

	t.Cleanup(func() {
		if err := driver.Down(context.Background(), p, true); err != nil {
			t.Logf("WARN: cleanup failed: %v", err)
		}
	})

	report := driver.Deploy(ctx, p, deploy.Options{HealthTimeout: 60 * time.Second})
	require.Equal(t, run.VerdictSuccess, report.Verdict, "deploy results: %+v", report.Services)

	created := containerCreationTimes(t, "e2eorder")
	require.Len(t, created, 3)
	assert.False(t, created["api"].Before(created["db"]), "api must not be created before db")
	assert.False(t, created["front"].Before(created["api"]), "front must not be created before api")
}

// TestE2E_SecretMountedAsFile deploys a service with a secret attachment
// and verifies the run finishes with the secret present only as a file
// mount, then that cleanup removes the host file.
func TestE2E_SecretMountedAsFile(t *testing.T) {
	requireE2E(t)

	secretsDir := t.TempDir()
	stackYAML := fmt.Sprintf(`
services:
  web:
    image: nginx:alpine
    secrets: [api_token]
secrets:
  api_token:
    file: %s
`, filepath.Join(secretsDir, "api_token"))
	p := buildPlan(t, "e2esecret", stackYAML)

	driver := newDriverWithSecretsDir(t, secretsDir)
	ctx := context.Background()

	t.Cleanup(func() {
		if err := driver.Down(context.Background(), p, true); err != nil {
			t.Logf("WARN: cleanup failed: %v", err)
		}
	})

	report := driver.Deploy(ctx, p, deploy.Options{
		HealthTimeout:  60 * time.Second,
		CleanupSecrets: true,
		SecretValues:   map[string]string{"api_token": "tok-123"},
	})
	require.Equal(t, run.VerdictSuccess, report.Verdict, "deploy results: %+v", report.Services)

	// CleanupSecrets removes the host file once the run is over.
	entries, err := os.ReadDir(secretsDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "secret files must be removed after the run")
}
