// Package images builds service images from their build contexts and pushes
// them to a registry. Builds run once with no automatic retry; pushes are
// retried with exponential backoff because registries fail transiently far
// more often than builds do.
package images

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/shell/engine"
)

// Engine is the slice of the container engine the builder needs.
type Engine interface {
	BuildImage(ctx context.Context, spec engine.BuildSpec) error
	PushImage(ctx context.Context, ref string, auth engine.RegistryAuth) error
}

// Options controls a BuildAll invocation.
type Options struct {
	// Push publishes each image after a successful build.
	Push bool
	// Auth is the registry credential used for pushes.
	Auth engine.RegistryAuth
	// MaxConcurrent bounds parallel builds. Zero means NumCPU.
	MaxConcurrent int
	// PushRetries is the number of retries after the first push attempt.
	PushRetries int
	// Labels are applied to every built image.
	Labels map[string]string
}

// ImageResult is the outcome for a single image. One image failing never
// aborts its siblings, so a BuildAll can succeed partially.
type ImageResult struct {
	Image  stack.ImageSpec
	Built  bool
	Pushed bool
	Err    error
}

// Builder drives image builds and pushes through the container engine.
type Builder struct {
	engine Engine
	logger *slog.Logger

	// Push backoff timing, shortened in tests.
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewBuilder creates a Builder backed by the given engine.
func NewBuilder(eng Engine, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		engine:         eng,
		logger:         logger,
		backoffInitial: 500 * time.Millisecond,
		backoffMax:     10 * time.Second,
	}
}

// Build builds a single image. No retry: a failed build is almost always
// deterministic, so retrying only hides the error later.
func (b *Builder) Build(ctx context.Context, spec stack.ImageSpec, labels map[string]string) error {
	ref := spec.Ref()
	b.logger.Info("building image", "image", ref, "context", spec.Context)

	err := b.engine.BuildImage(ctx, engine.BuildSpec{
		Ref:        ref,
		ContextDir: spec.Context,
		Dockerfile: spec.Dockerfile,
		Labels:     labels,
	})
	if err != nil {
		return &BuildError{Image: ref, Err: err}
	}

	b.logger.Info("built image", "image", ref)
	return nil
}

// Push pushes an image, retrying transient failures up to retries times with
// exponential backoff. Authentication and unknown-name failures are
// permanent and returned immediately.
func (b *Builder) Push(ctx context.Context, spec stack.ImageSpec, auth engine.RegistryAuth, retries int) error {
	ref := spec.Ref()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = b.backoffInitial
	backoffCfg.MaxInterval = b.backoffMax
	backoffCfg.MaxElapsedTime = 0
	backoffCfg.Reset()

	attempts := 0
	for {
		attempts++
		err := b.engine.PushImage(ctx, ref, auth)
		if err == nil {
			b.logger.Info("pushed image", "image", ref, "attempts", attempts)
			return nil
		}
		if ctx.Err() != nil {
			return &PushError{Image: ref, Attempts: attempts, Err: ctx.Err()}
		}
		if isPermanentPushError(err) || attempts > retries {
			return &PushError{Image: ref, Attempts: attempts, Err: err}
		}

		wait := backoffCfg.NextBackOff()
		if wait == backoff.Stop {
			return &PushError{Image: ref, Attempts: attempts, Err: err}
		}
		b.logger.Warn("push failed, retrying", "image", ref, "attempt", attempts, "wait", wait, "error", err)
		if !sleepWithContext(ctx, wait) {
			return &PushError{Image: ref, Attempts: attempts, Err: ctx.Err()}
		}
	}
}

// BuildAll builds every image concurrently, bounded by a semaphore. Results
// appear in the same order as specs; each image's result is independent of
// its siblings. When opts.Push is set an image is pushed only after its own
// build succeeded.
func (b *Builder) BuildAll(ctx context.Context, specs []stack.ImageSpec, opts Options) []ImageResult {
	if len(specs) == 0 {
		return nil
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}

	results := make([]ImageResult, len(specs))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range specs {
		wg.Add(1)
		go func(i int, spec stack.ImageSpec) {
			defer wg.Done()

			results[i] = ImageResult{Image: spec}

			if err := ctx.Err(); err != nil {
				results[i].Err = &BuildError{Image: spec.Ref(), Err: err}
				return
			}

			// Acquire semaphore
			select {
			case <-ctx.Done():
				results[i].Err = &BuildError{Image: spec.Ref(), Err: ctx.Err()}
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			if err := b.Build(ctx, spec, opts.Labels); err != nil {
				results[i].Err = err
				return
			}
			results[i].Built = true

			if !opts.Push {
				return
			}
			if err := b.Push(ctx, spec, opts.Auth, opts.PushRetries); err != nil {
				results[i].Err = err
				return
			}
			results[i].Pushed = true
		}(i, specs[i])
	}

	wg.Wait()
	return results
}

// isPermanentPushError reports whether a push failure cannot be fixed by
// retrying. The engine surfaces registry failures as message text, so this
// matches the registry's stock phrases.
func isPermanentPushError(err error) bool {
	msg := strings.ToLower(err.Error())
	permanent := []string{
		"denied",
		"unauthorized",
		"authentication required",
		"no basic auth credentials",
		"name unknown",
		"name invalid",
		"repository does not exist",
		"invalid reference",
	}
	for _, marker := range permanent {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
