package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/internal/core/plan"
	"github.com/flotilla-dev/flotilla/internal/core/run"
	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/core/vault"
)

// =============================================================================
// Plan Loading Tests
// =============================================================================

func TestLoadPlan_ParsesStackWithDotEnv(t *testing.T) {
	dir := t.TempDir()
	stackYAML := `
services:
  db:
    image: postgres:16
  web:
    image: nginx:${NGINX_TAG}
    depends_on: [db]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flotilla.yml"), []byte(stackYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NGINX_TAG=1.27\n"), 0o644))

	cfg := &Config{Stack: StackConfig{File: filepath.Join(dir, "flotilla.yml"), Project: "shop"}}
	p, err := loadPlan(cfg, "")
	require.NoError(t, err)

	assert.Equal(t, "shop", p.Stack)
	require.Len(t, p.Waves, 2)
	assert.Equal(t, "db", p.Waves[0][0].Name)
	assert.Equal(t, "web", p.Waves[1][0].Name)
	assert.Equal(t, "nginx:1.27", p.Waves[1][0].Image)
}

func TestLoadPlan_MissingStackFile(t *testing.T) {
	cfg := &Config{Stack: StackConfig{File: filepath.Join(t.TempDir(), "absent.yml"), Project: "shop"}}

	_, err := loadPlan(cfg, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read stack file")
}

func TestLoadPlan_FlagOverridesConfiguredFile(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "other.yml")
	require.NoError(t, os.WriteFile(override, []byte("services:\n  web:\n    image: nginx:1.27\n"), 0o644))

	cfg := &Config{Stack: StackConfig{File: filepath.Join(dir, "absent.yml"), Project: "shop"}}
	p, err := loadPlan(cfg, override)
	require.NoError(t, err)

	require.Len(t, p.Waves, 1)
	assert.Equal(t, "web", p.Waves[0][0].Name)
}

func TestInterpolationEnv_ProcessEnvWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REGION=file\nONLY_FILE=x\n"), 0o644))
	t.Setenv("REGION", "process")

	env, err := interpolationEnv(filepath.Join(dir, "stack.yml"))
	require.NoError(t, err)

	assert.Equal(t, "process", env["REGION"])
	assert.Equal(t, "x", env["ONLY_FILE"])
}

func TestInterpolationEnv_MissingDotEnvIsFine(t *testing.T) {
	env, err := interpolationEnv(filepath.Join(t.TempDir(), "stack.yml"))
	require.NoError(t, err)
	assert.NotEmpty(t, env["PATH"])
}

// =============================================================================
// Secret Preflight Tests
// =============================================================================

func TestPreflightSecrets_AllValuesPresent(t *testing.T) {
	cfg := &Config{Secrets: SecretsConfig{Values: map[string]string{"db_password": "hunter2"}}}
	p := &plan.DeploymentPlan{Secrets: []stack.SecretRef{{Name: "db_password"}}}

	assert.NoError(t, preflightSecrets(cfg, p))
}

func TestPreflightSecrets_MissingValuesNamed(t *testing.T) {
	cfg := &Config{}
	p := &plan.DeploymentPlan{Secrets: []stack.SecretRef{{Name: "api_key"}, {Name: "db_password"}}}

	err := preflightSecrets(cfg, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key, db_password")
}

func TestPreflightSecrets_SealedValueNeedsPassphrase(t *testing.T) {
	sealed, err := vault.Seal("hunter2", "passphrase")
	require.NoError(t, err)

	cfg := &Config{Secrets: SecretsConfig{Values: map[string]string{"db_password": sealed}}}
	p := &plan.DeploymentPlan{Secrets: []stack.SecretRef{{Name: "db_password"}}}

	err = preflightSecrets(cfg, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passphrase")

	cfg.Secrets.Passphrase = "passphrase"
	assert.NoError(t, preflightSecrets(cfg, p))
}

// =============================================================================
// Output Rendering Tests
// =============================================================================

func TestPrintPlan_ListsResourcesAndWaves(t *testing.T) {
	p := &plan.DeploymentPlan{
		Stack:    "shop",
		Images:   []stack.ImageSpec{{Name: "shop_api", Tag: "latest", Context: "./api"}},
		Networks: []stack.NetworkRef{{Name: "default"}, {Name: "corp", External: true}},
		Volumes:  []stack.VolumeRef{{Name: "pgdata"}},
		Secrets:  []stack.SecretRef{{Name: "db_password"}},
		Waves: [][]stack.ServiceSpec{
			{{Name: "db", Image: "postgres:16"}},
			{{Name: "api", Image: "shop_api:latest"}},
		},
	}

	var buf bytes.Buffer
	printPlan(&buf, p)
	out := buf.String()

	assert.Contains(t, out, "Stack: shop")
	assert.Contains(t, out, "shop_api:latest (context ./api)")
	assert.Contains(t, out, "default -> flotilla_shop_default")
	assert.Contains(t, out, "corp (external)")
	assert.Contains(t, out, "pgdata -> flotilla_shop_pgdata")
	assert.Contains(t, out, "db_password")

	dbAt := strings.Index(out, "db (image postgres:16)")
	apiAt := strings.Index(out, "api (image shop_api:latest)")
	require.GreaterOrEqual(t, dbAt, 0)
	assert.Greater(t, apiAt, dbAt, "db wave should print before api wave")
}

func TestPrintReport_RendersServicesAndVerdict(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &run.Report{
		RunID:   "run-1",
		Stack:   "shop",
		Verdict: run.VerdictPartialFailure,
		Services: []run.ServiceResult{
			{Service: "db", State: run.StateHealthy},
			{Service: "web", State: run.StateUnhealthy, Detail: "not healthy after 1m0s"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "Run run-1  stack shop")
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "not healthy after 1m0s")
	assert.Contains(t, out, "Verdict: partial_failure (1m30s)")
}

func TestPrintReport_InfrastructureError(t *testing.T) {
	report := &run.Report{
		RunID:   "run-2",
		Stack:   "shop",
		Verdict: run.VerdictFailed,
		Error:   "failed to ensure network flotilla_shop_default: boom",
	}

	var buf bytes.Buffer
	printReport(&buf, report)

	assert.Contains(t, buf.String(), "Error: failed to ensure network flotilla_shop_default: boom")
}
