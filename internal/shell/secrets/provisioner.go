// Package secrets provisions secret material onto the host filesystem so
// containers can consume it through read-only bind mounts. Secret values are
// never passed through container environment and never logged; log lines
// carry the secret name and host path only.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/core/vault"
)

// =============================================================================
// Errors
// =============================================================================

// ProvisionError describes a failure to materialize a secret file. The
// message names the secret and path, never the value.
type ProvisionError struct {
	Secret string
	Path   string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("provision secret %q at %s: %v", e.Secret, e.Path, e.Err)
	}
	return fmt.Sprintf("provision secret %q: %v", e.Secret, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner writes secret values to host files and removes them again.
// It tracks what it provisioned so a caller can revoke exactly that set.
//
// File permissions are restrictive: parent directories are created 0700 and
// secret files are written 0600.
type Provisioner struct {
	dir        string
	passphrase string
	logger     *slog.Logger

	mu          sync.Mutex
	provisioned map[string]string // secret name -> absolute host path
}

// NewProvisioner creates a provisioner rooted at dir. Secrets whose ref does
// not carry an explicit source path are written under dir. The passphrase is
// used to unseal vault-sealed values at write time; it may be empty when no
// value is sealed.
func NewProvisioner(dir, passphrase string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		dir:         dir,
		passphrase:  passphrase,
		logger:      logger,
		provisioned: make(map[string]string),
	}
}

// Provision writes value to the secret's host file and returns the absolute
// path, suitable as a bind mount source. Provisioning the same secret twice
// in one run is a no-op that returns the recorded path. Sealed values are
// unsealed just before the write; the plaintext never reaches the logger.
func (p *Provisioner) Provision(ctx context.Context, ref stack.SecretRef, value string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if path, ok := p.provisioned[ref.Name]; ok {
		return path, nil
	}

	path, err := p.hostPath(ref)
	if err != nil {
		return "", &ProvisionError{Secret: ref.Name, Err: err}
	}

	if vault.IsSealed(value) {
		value, err = vault.Unseal(value, p.passphrase)
		if err != nil {
			return "", &ProvisionError{Secret: ref.Name, Path: path, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", &ProvisionError{Secret: ref.Name, Path: path, Err: err}
	}
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return "", &ProvisionError{Secret: ref.Name, Path: path, Err: err}
	}

	p.provisioned[ref.Name] = path
	p.logger.Debug("provisioned secret", "secret", ref.Name, "path", path)
	return path, nil
}

// Revoke removes the secret's host file. A file that is already absent is
// not an error, so revoking twice is safe.
func (p *Provisioner) Revoke(ctx context.Context, ref stack.SecretRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	path, ok := p.provisioned[ref.Name]
	if !ok {
		var err error
		path, err = p.hostPath(ref)
		if err != nil {
			return fmt.Errorf("revoke secret %q: %w", ref.Name, err)
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("revoke secret %q at %s: %w", ref.Name, path, err)
	}

	delete(p.provisioned, ref.Name)
	p.logger.Debug("revoked secret", "secret", ref.Name, "path", path)
	return nil
}

// RevokeAll removes every secret file provisioned during this run. Failures
// are logged and collected; remaining secrets are still attempted.
func (p *Provisioner) RevokeAll(ctx context.Context) error {
	p.mu.Lock()
	names := make([]string, 0, len(p.provisioned))
	for name := range p.provisioned {
		names = append(names, name)
	}
	p.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := p.Revoke(ctx, stack.SecretRef{Name: name}); err != nil {
			p.logger.Warn("failed to revoke secret", "secret", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Provisioned returns the names of secrets written during this run, sorted.
func (p *Provisioner) Provisioned() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.provisioned))
	for name := range p.provisioned {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hostPath resolves the absolute file path for a secret. Refs that name a
// source path use it; others default to a file under the provisioner root.
// Bind mount sources must be absolute.
func (p *Provisioner) hostPath(ref stack.SecretRef) (string, error) {
	path := ref.SourcePath
	if path == "" {
		path = filepath.Join(p.dir, ref.Name)
	}
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path for %s: %w", path, err)
		}
		path = abs
	}
	return path, nil
}
