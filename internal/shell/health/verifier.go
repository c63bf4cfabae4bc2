// Package health verifies that started services actually become healthy.
// A verifier polls one container at a fixed interval until the first
// successful probe, a fatal condition, or the verification deadline. The
// poll loop is the retry mechanism; probes carry no retries of their own.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flotilla-dev/flotilla/internal/core/run"
	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/shell/engine"
)

// Inspector is the slice of the container engine the verifier needs.
type Inspector interface {
	InspectContainer(ctx context.Context, containerID string) (*engine.ContainerInfo, error)
}

// Verifier polls containers until they prove healthy.
type Verifier struct {
	inspector Inspector
	interval  time.Duration
	logger    *slog.Logger
	client    *http.Client
	dialer    net.Dialer
}

// NewVerifier creates a Verifier that probes at the given interval.
func NewVerifier(inspector Inspector, interval time.Duration, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Verifier{
		inspector: inspector,
		interval:  interval,
		logger:    logger,
		client:    &http.Client{},
	}
}

// Verify polls the service's container until it is healthy or the timeout
// elapses. It returns Healthy on the first successful probe, Unhealthy when
// the deadline passes or the container exits, and the interrupt state when
// the surrounding deployment is cancelled or times out. The detail string
// explains any non-healthy outcome.
func (v *Verifier) Verify(ctx context.Context, svc stack.ServiceSpec, containerID string, timeout time.Duration) (run.State, string) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	logger := v.logger.With("service", svc.Name, "container_id", shortID(containerID))

	// First probe fires immediately; waiting a full interval before the
	// first look would tax every fast-starting service.
	for {
		ok, fatal, detail := v.probe(pollCtx, svc, containerID)
		if ok {
			logger.Debug("service healthy")
			return run.StateHealthy, ""
		}
		if fatal {
			logger.Warn("service failed health verification", "reason", detail)
			return run.StateUnhealthy, detail
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				state := run.InterruptState(ctx)
				return state, fmt.Sprintf("verification interrupted: %v", ctx.Err())
			}
			if detail == "" {
				detail = "no successful probe"
			}
			return run.StateUnhealthy, fmt.Sprintf("not healthy after %s: %s", timeout, detail)
		case <-ticker.C:
		}
	}
}

// probe runs one verification cycle: the container must still be alive, and
// the service's check must pass. fatal marks conditions polling cannot fix.
func (v *Verifier) probe(ctx context.Context, svc stack.ServiceSpec, containerID string) (ok, fatal bool, detail string) {
	info, err := v.inspector.InspectContainer(ctx, containerID)
	if err != nil {
		if engine.IsNotFound(err) {
			return false, true, "container no longer exists"
		}
		// Engine hiccups are retried by the next cycle.
		return false, false, fmt.Sprintf("inspect failed: %v", err)
	}

	switch info.Status {
	case engine.ContainerStatusExited, engine.ContainerStatusDead:
		return false, true, fmt.Sprintf("container exited with code %d", info.ExitCode)
	}

	check := svc.HealthCheck
	if check == nil {
		// No declared check: a running container is healthy.
		if info.Running() {
			return true, false, ""
		}
		return false, false, fmt.Sprintf("container is %s", info.Status)
	}

	switch check.Kind {
	case stack.ProbeHTTP:
		return v.probeHTTP(ctx, check.URL)
	case stack.ProbeTCP:
		return v.probeTCP(ctx, check.Address)
	default:
		return v.probeEngine(info)
	}
}

// probeEngine reads the health status the engine tracks for containers with
// a configured healthcheck. "unhealthy" is not fatal: the check may still
// flip within the verification window.
func (v *Verifier) probeEngine(info *engine.ContainerInfo) (bool, bool, string) {
	switch info.Health {
	case engine.HealthHealthy:
		return true, false, ""
	case engine.HealthStarting:
		return false, false, "healthcheck still starting"
	case engine.HealthUnhealthy:
		return false, false, "healthcheck reports unhealthy"
	case "":
		// Engine tracks no health for this container; running is the best
		// signal available.
		if info.Running() {
			return true, false, ""
		}
		return false, false, fmt.Sprintf("container is %s", info.Status)
	default:
		return false, false, fmt.Sprintf("healthcheck status %q", info.Health)
	}
}

// probeHTTP issues a GET and passes on any 2xx response. Each attempt is
// bounded by the poll interval so a hung server cannot eat the whole budget.
func (v *Verifier) probeHTTP(ctx context.Context, url string) (bool, bool, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, v.interval)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, true, fmt.Sprintf("invalid health URL %s: %v", url, err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return false, false, fmt.Sprintf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, false, ""
	}
	return false, false, fmt.Sprintf("GET %s returned %s", url, resp.Status)
}

// probeTCP passes when the address accepts a connection.
func (v *Verifier) probeTCP(ctx context.Context, address string) (bool, bool, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, v.interval)
	defer cancel()

	conn, err := v.dialer.DialContext(attemptCtx, "tcp", address)
	if err != nil {
		return false, false, fmt.Sprintf("dial %s failed: %v", address, err)
	}
	conn.Close()
	return true, false, ""
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
