package stack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitImageRef(t *testing.T) {
	tests := []struct {
		ref      string
		wantRepo string
		wantTag  string
	}{
		{"nginx", "nginx", "latest"},
		{"nginx:1.25", "nginx", "1.25"},
		{"registry.example.com/acme/backend:2.1", "registry.example.com/acme/backend", "2.1"},
		{"registry.example.com:5000/acme/backend", "registry.example.com:5000/acme/backend", "latest"},
		{"registry.example.com:5000/acme/backend:2.1", "registry.example.com:5000/acme/backend", "2.1"},
		{"nginx@sha256:abcdef", "nginx@sha256:abcdef", ""},
	}

	for _, tt := range tests {
		repo, tag := SplitImageRef(tt.ref)
		assert.Equal(t, tt.wantRepo, repo, "ref %q", tt.ref)
		assert.Equal(t, tt.wantTag, tag, "ref %q", tt.ref)
	}
}

func TestImageSpec_Ref(t *testing.T) {
	assert.Equal(t, "acme/api:2.1", ImageSpec{Name: "acme/api", Tag: "2.1"}.Ref())
	assert.Equal(t, "acme/api", ImageSpec{Name: "acme/api"}.Ref())
}

func TestSecretAttachment_MountPath(t *testing.T) {
	assert.Equal(t, "/run/secrets/db_password", SecretAttachment{Source: "db_password"}.MountPath())
	assert.Equal(t, "/etc/pg/pass", SecretAttachment{Source: "db_password", Target: "/etc/pg/pass"}.MountPath())
}

func TestSecretEnvRef(t *testing.T) {
	assert.True(t, IsSecretEnvRef("secret://db_password"))
	assert.False(t, IsSecretEnvRef("plainvalue"))
	assert.False(t, IsSecretEnvRef(""))
	assert.Equal(t, "db_password", SecretEnvRefName("secret://db_password"))
}

func TestHealthCheckSpec_VerifyBudget(t *testing.T) {
	fallback := 60 * time.Second

	var nilCheck *HealthCheckSpec
	assert.Equal(t, fallback, nilCheck.VerifyBudget(fallback))

	declared := &HealthCheckSpec{
		Interval:    2 * time.Second,
		Retries:     5,
		StartPeriod: 10 * time.Second,
	}
	assert.Equal(t, 20*time.Second, declared.VerifyBudget(fallback))

	partial := &HealthCheckSpec{Interval: 2 * time.Second}
	assert.Equal(t, fallback, partial.VerifyBudget(fallback))
}
