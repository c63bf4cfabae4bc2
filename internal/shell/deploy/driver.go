// Package deploy converges a deployment plan against a container engine.
//
// The driver is the only component that mutates engine state during a run.
// It executes a plan in phases: ensure networks and volumes, provision
// secrets, start services wave by wave, then verify health. Every phase is
// written to be re-runnable: resources that already exist are reused, and a
// second deployment of an unchanged stack performs no container churn.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/flotilla-dev/flotilla/internal/core/plan"
	"github.com/flotilla-dev/flotilla/internal/core/run"
	"github.com/flotilla-dev/flotilla/internal/core/stack"
	"github.com/flotilla-dev/flotilla/internal/shell/engine"
)

const (
	defaultHealthTimeout = 60 * time.Second
	defaultStopTimeout   = 10 * time.Second
)

// HealthVerifier confirms that a started container settles into a healthy
// state within a budget.
type HealthVerifier interface {
	Verify(ctx context.Context, svc stack.ServiceSpec, containerID string, timeout time.Duration) (run.State, string)
}

// SecretProvisioner materializes secret values as host files and removes
// them again. Provision returns the host path to bind-mount.
type SecretProvisioner interface {
	Provision(ctx context.Context, ref stack.SecretRef, value string) (string, error)
	Revoke(ctx context.Context, ref stack.SecretRef) error
}

// Options tunes a single deployment run.
type Options struct {
	// RunID identifies the run in labels, logs and the report. Generated
	// when empty.
	RunID string

	// MaxConcurrent bounds parallel container starts within a wave and
	// parallel health verifications. Defaults to the CPU count.
	MaxConcurrent int

	// StartTimeout bounds each individual create/start engine call.
	// Zero means no per-operation bound beyond the run context.
	StartTimeout time.Duration

	// HealthTimeout is the verification window for services without an
	// explicit healthcheck budget.
	HealthTimeout time.Duration

	// CleanupSecrets removes provisioned secret files when the run
	// finishes, regardless of its outcome.
	CleanupSecrets bool

	// SecretValues maps secret names to their values. Values may be
	// sealed vault envelopes; the provisioner opens those on write.
	SecretValues map[string]string
}

// Driver realizes deployment plans. Construct with NewDriver.
type Driver struct {
	engine  engine.Client
	secrets SecretProvisioner
	health  HealthVerifier
	logger  *slog.Logger
}

// NewDriver wires a driver to an engine, a secret provisioner and a health
// verifier. A nil logger falls back to slog.Default.
func NewDriver(eng engine.Client, secrets SecretProvisioner, health HealthVerifier, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		engine:  eng,
		secrets: secrets,
		health:  health,
		logger:  logger,
	}
}

// Deploy converges the engine toward the plan and reports the per-service
// outcome. It never returns an error: infrastructure failures are recorded
// on the report and yield a Failed verdict.
func (d *Driver) Deploy(ctx context.Context, p *plan.DeploymentPlan, opts Options) *run.Report {
	runID := opts.RunID
	if runID == "" {
		runID = run.NewRunID()
	}
	logger := d.logger.With("run_id", runID, "stack", p.Stack)

	report := &run.Report{
		RunID:     runID,
		Stack:     p.Stack,
		StartedAt: time.Now(),
	}
	services := p.Services()
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	results := run.NewResultSet(names)

	finish := func() *run.Report {
		report.Services = results.All()
		report.Verdict = run.Evaluate(report.Services)
		report.FinishedAt = time.Now()
		logger.Info("deployment finished",
			"verdict", report.Verdict,
			"healthy", results.CountInState(run.StateHealthy),
			"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
		return report
	}

	if err := ctx.Err(); err != nil {
		// Dead on arrival: nothing was attempted, record why.
		for _, svc := range services {
			d.markInterrupted(ctx, results, svc.Name)
		}
		report.Error = err.Error()
		return finish()
	}

	logger.Info("starting deployment",
		"services", len(services),
		"waves", len(p.Waves),
		"networks", len(p.Networks),
		"volumes", len(p.Volumes),
		"secrets", len(p.Secrets))

	if err := d.ensureNetworks(ctx, p, logger); err != nil {
		report.Error = err.Error()
		return finish()
	}
	if err := d.ensureVolumes(ctx, p, logger); err != nil {
		report.Error = err.Error()
		return finish()
	}

	secretPaths, err := d.provisionSecrets(ctx, p, opts.SecretValues, logger)
	if opts.CleanupSecrets {
		// Cleanup must run even when the run context is already dead,
		// otherwise a cancelled deployment leaks secret files.
		defer d.cleanupSecrets(context.WithoutCancel(ctx), p, logger)
	}
	if err != nil {
		report.Error = err.Error()
		return finish()
	}

	started := d.runWaves(ctx, p, runID, secretPaths, opts, results, logger)

	d.verifyServices(ctx, services, started, opts, results, logger)

	return finish()
}

// CheckHealth verifies the current health of a stack's containers without
// changing anything. Services with no container at all are reported Failed.
func (d *Driver) CheckHealth(ctx context.Context, p *plan.DeploymentPlan, opts Options) *run.Report {
	runID := opts.RunID
	if runID == "" {
		runID = run.NewRunID()
	}
	logger := d.logger.With("run_id", runID, "stack", p.Stack)

	report := &run.Report{
		RunID:     runID,
		Stack:     p.Stack,
		StartedAt: time.Now(),
	}
	services := p.Services()
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	results := run.NewResultSet(names)

	finish := func() *run.Report {
		report.Services = results.All()
		report.Verdict = run.Evaluate(report.Services)
		report.FinishedAt = time.Now()
		return report
	}

	byService := d.existingContainers(ctx, p.Stack, logger)

	started := make(map[string]string, len(services))
	for _, svc := range services {
		info, ok := byService[svc.Name]
		if !ok {
			results.MarkFailed(svc.Name, fmt.Errorf("no container found for service %s", svc.Name))
			continue
		}
		results.MarkStarting(svc.Name, info.ID)
		started[svc.Name] = info.ID
	}

	d.verifyServices(ctx, services, started, opts, results, logger)

	return finish()
}

// Down stops and removes the stack's containers and networks. Volumes are
// retained unless removeVolumes is set; external resources are never
// touched. Individual removal failures are logged and skipped so one stuck
// container does not strand the rest of the stack.
func (d *Driver) Down(ctx context.Context, p *plan.DeploymentPlan, removeVolumes bool) error {
	logger := d.logger.With("stack", p.Stack)
	logger.Info("taking stack down", "remove_volumes", removeVolumes)

	containers, err := d.engine.ListContainers(ctx, engine.ListOptions{
		All:     true,
		Filters: map[string]string{"label": engine.LabelStack + "=" + p.Stack},
	})
	if err != nil {
		return fmt.Errorf("failed to list stack containers: %w", err)
	}

	stopTimeout := defaultStopTimeout
	for _, c := range containers {
		if c.Status == engine.ContainerStatusRunning {
			if err := d.engine.StopContainer(ctx, c.ID, &stopTimeout); err != nil {
				logger.Warn("failed to stop container",
					"container_id", shortID(c.ID), "error", err)
			}
		}
		if err := d.engine.RemoveContainer(ctx, c.ID, engine.RemoveOptions{Force: true}); err != nil && !engine.IsNotFound(err) {
			logger.Warn("failed to remove container",
				"container_id", shortID(c.ID), "error", err)
		}
	}

	for _, ref := range p.Networks {
		if ref.External {
			continue
		}
		name := plan.NetworkName(p.Stack, ref.Name)
		if err := d.engine.RemoveNetwork(ctx, name); err != nil && !engine.IsNotFound(err) {
			logger.Warn("failed to remove network", "network", name, "error", err)
		}
	}

	if removeVolumes {
		for _, ref := range p.Volumes {
			if ref.External {
				continue
			}
			name := plan.VolumeName(p.Stack, ref.Name)
			if err := d.engine.RemoveVolume(ctx, name, false); err != nil && !engine.IsNotFound(err) {
				logger.Warn("failed to remove volume", "volume", name, "error", err)
			}
		}
	}

	logger.Info("stack down", "containers_removed", len(containers))
	return nil
}

// ===== Infrastructure =====

func (d *Driver) ensureNetworks(ctx context.Context, p *plan.DeploymentPlan, logger *slog.Logger) error {
	for _, ref := range p.Networks {
		if ref.External {
			logger.Debug("skipping external network", "network", ref.Name)
			continue
		}
		name := plan.NetworkName(p.Stack, ref.Name)
		_, err := d.engine.CreateNetwork(ctx, engine.NetworkSpec{
			Name:   name,
			Driver: ref.Driver,
			Labels: engine.StackLabels(p.Stack),
		})
		if err != nil {
			if engine.IsAlreadyExists(err) {
				logger.Debug("network already exists, reusing", "network", name)
				continue
			}
			return &InfraError{Resource: "network", Name: name, Err: err}
		}
		logger.Debug("created network", "network", name)
	}
	return nil
}

func (d *Driver) ensureVolumes(ctx context.Context, p *plan.DeploymentPlan, logger *slog.Logger) error {
	for _, ref := range p.Volumes {
		if ref.External {
			logger.Debug("skipping external volume", "volume", ref.Name)
			continue
		}
		name := plan.VolumeName(p.Stack, ref.Name)
		// Volume creation is idempotent on the engine side; an existing
		// volume with the same name is simply reused.
		_, err := d.engine.CreateVolume(ctx, engine.VolumeSpec{
			Name:   name,
			Driver: ref.Driver,
			Labels: engine.StackLabels(p.Stack),
		})
		if err != nil {
			return &InfraError{Resource: "volume", Name: name, Err: err}
		}
		logger.Debug("ensured volume", "volume", name)
	}
	return nil
}

// ===== Secrets =====

func (d *Driver) provisionSecrets(ctx context.Context, p *plan.DeploymentPlan, values map[string]string, logger *slog.Logger) (map[string]string, error) {
	if len(p.Secrets) == 0 {
		return nil, nil
	}

	paths := make(map[string]string, len(p.Secrets))
	for _, ref := range p.Secrets {
		value, ok := values[ref.Name]
		if !ok {
			return nil, fmt.Errorf("no value configured for secret %q", ref.Name)
		}
		path, err := d.secrets.Provision(ctx, ref, value)
		if err != nil {
			return nil, err
		}
		paths[ref.Name] = path
	}
	logger.Debug("provisioned secrets", "count", len(paths))
	return paths, nil
}

func (d *Driver) cleanupSecrets(ctx context.Context, p *plan.DeploymentPlan, logger *slog.Logger) {
	for _, ref := range p.Secrets {
		if err := d.secrets.Revoke(ctx, ref); err != nil {
			logger.Warn("failed to revoke secret", "secret", ref.Name, "error", err)
		}
	}
	logger.Debug("revoked provisioned secrets", "count", len(p.Secrets))
}

// ===== Waves =====

// runWaves starts services wave by wave and returns the containers whose
// start was acknowledged, keyed by service name. Start order inside a wave
// is unconstrained; waves never overlap.
func (d *Driver) runWaves(ctx context.Context, p *plan.DeploymentPlan, runID string, secretPaths map[string]string, opts Options, results *run.ResultSet, logger *slog.Logger) map[string]string {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}

	existingByService := d.existingContainers(ctx, p.Stack, logger)

	var mu sync.Mutex
	started := make(map[string]string)
	notStarted := make(map[string]bool)

	for waveIdx, wave := range p.Waves {
		if ctx.Err() != nil {
			d.markRemaining(ctx, p.Waves[waveIdx:], notStarted, results)
			break
		}

		logger.Debug("starting wave", "wave", waveIdx, "services", len(wave))

		sem := make(chan struct{}, maxConcurrent)
		var wg sync.WaitGroup

		for i := range wave {
			svc := wave[i]

			// A service whose dependency never started must not start
			// either; it stays pending with the dependency named. Earlier
			// goroutines of this wave write notStarted, so the check takes
			// the same lock.
			mu.Lock()
			dep, blocked := blockingDependency(svc, notStarted)
			if blocked {
				notStarted[svc.Name] = true
			}
			mu.Unlock()
			if blocked {
				logger.Warn("service blocked by failed dependency",
					"service", svc.Name, "dependency", dep)
				results.MarkBlocked(svc.Name, dep)
				continue
			}

			wg.Add(1)
			go func(svc stack.ServiceSpec) {
				defer wg.Done()

				if ctx.Err() != nil {
					d.markInterrupted(ctx, results, svc.Name)
					mu.Lock()
					notStarted[svc.Name] = true
					mu.Unlock()
					return
				}

				select {
				case <-ctx.Done():
					d.markInterrupted(ctx, results, svc.Name)
					mu.Lock()
					notStarted[svc.Name] = true
					mu.Unlock()
					return
				case sem <- struct{}{}:
					defer func() { <-sem }()
				}

				containerID, err := d.startService(ctx, p, svc, runID, secretPaths, opts.StartTimeout, existingByService, logger)
				if err != nil {
					if ctx.Err() != nil {
						d.markInterrupted(ctx, results, svc.Name)
					} else {
						logger.Warn("service failed to start",
							"service", svc.Name, "error", err)
						results.MarkFailed(svc.Name, err)
					}
					mu.Lock()
					notStarted[svc.Name] = true
					mu.Unlock()
					return
				}

				results.MarkStarting(svc.Name, containerID)
				mu.Lock()
				started[svc.Name] = containerID
				mu.Unlock()
			}(svc)
		}

		wg.Wait()
	}

	return started
}

// blockingDependency returns the first dependency of svc that never
// started, if any.
func blockingDependency(svc stack.ServiceSpec, notStarted map[string]bool) (string, bool) {
	for _, dep := range svc.DependsOn {
		if notStarted[dep] {
			return dep, true
		}
	}
	return "", false
}

// markRemaining records an interrupted outcome for every service in the
// given waves that was neither attempted nor already blocked.
func (d *Driver) markRemaining(ctx context.Context, waves [][]stack.ServiceSpec, notStarted map[string]bool, results *run.ResultSet) {
	for _, wave := range waves {
		for _, svc := range wave {
			if notStarted[svc.Name] {
				continue
			}
			d.markInterrupted(ctx, results, svc.Name)
			notStarted[svc.Name] = true
		}
	}
}

// markInterrupted records why a service did not finish: Failed when the
// deployment deadline expired, Cancelled when the run was stopped.
func (d *Driver) markInterrupted(ctx context.Context, results *run.ResultSet, service string) {
	if run.InterruptState(ctx) == run.StateFailed {
		results.MarkFailed(service, fmt.Errorf("deployment timed out: %w", ctx.Err()))
		return
	}
	results.MarkCancelled(service)
}

// ===== Service start =====

// startService brings one service's container to a running state, reusing
// an existing container when one is already present for the service.
func (d *Driver) startService(ctx context.Context, p *plan.DeploymentPlan, svc stack.ServiceSpec, runID string, secretPaths map[string]string, startTimeout time.Duration, existing map[string]engine.ContainerInfo, logger *slog.Logger) (string, error) {
	opCtx := ctx
	if startTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, startTimeout)
		defer cancel()
	}

	if info, ok := existing[svc.Name]; ok {
		if info.Running() {
			logger.Debug("reusing running container",
				"service", svc.Name, "container_id", shortID(info.ID))
			return info.ID, nil
		}
		logger.Debug("starting existing container",
			"service", svc.Name, "container_id", shortID(info.ID))
		if err := d.engine.StartContainer(opCtx, info.ID); err != nil && !errors.Is(err, engine.ErrContainerAlreadyRunning) {
			return "", fmt.Errorf("failed to start existing container for %s: %w", svc.Name, err)
		}
		return info.ID, nil
	}

	if err := d.ensureImage(opCtx, svc, logger); err != nil {
		return "", err
	}

	spec := containerSpecFor(p, svc, runID, secretPaths)

	containerID, err := d.engine.CreateContainer(opCtx, spec)
	if err != nil {
		if !errors.Is(err, engine.ErrContainerAlreadyExists) {
			return "", fmt.Errorf("failed to create container for %s: %w", svc.Name, err)
		}
		// Another run created the container between our listing and now.
		// Adopt it instead of failing the service.
		info, inspectErr := d.engine.InspectContainer(opCtx, spec.Name)
		if inspectErr != nil {
			return "", fmt.Errorf("failed to adopt existing container for %s: %w", svc.Name, inspectErr)
		}
		containerID = info.ID
		if info.Running() {
			return containerID, nil
		}
	}

	if err := d.engine.StartContainer(opCtx, containerID); err != nil && !errors.Is(err, engine.ErrContainerAlreadyRunning) {
		return "", fmt.Errorf("failed to start container for %s: %w", svc.Name, err)
	}

	logger.Info("started container",
		"service", svc.Name, "container_id", shortID(containerID))
	return containerID, nil
}

// ensureImage pulls the service image when it is neither built locally nor
// already present. Pull failures are logged rather than fatal: create will
// fail with the authoritative error if the image truly cannot be resolved.
func (d *Driver) ensureImage(ctx context.Context, svc stack.ServiceSpec, logger *slog.Logger) error {
	if svc.Build != nil {
		return nil
	}
	exists, err := d.engine.ImageExists(ctx, svc.Image)
	if err != nil {
		return fmt.Errorf("failed to check image %s: %w", svc.Image, err)
	}
	if exists {
		return nil
	}
	logger.Info("pulling image", "image", svc.Image, "service", svc.Name)
	if err := d.engine.PullImage(ctx, svc.Image, engine.PullOptions{}); err != nil {
		logger.Warn("failed to pull image, continuing",
			"image", svc.Image, "error", err)
	}
	return nil
}

// ===== Verification =====

func (d *Driver) verifyServices(ctx context.Context, services []stack.ServiceSpec, started map[string]string, opts Options, results *run.ResultSet, logger *slog.Logger) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	healthTimeout := opts.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range services {
		svc := services[i]
		containerID, ok := started[svc.Name]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(svc stack.ServiceSpec, containerID string) {
			defer wg.Done()

			if ctx.Err() != nil {
				d.markInterrupted(ctx, results, svc.Name)
				return
			}

			select {
			case <-ctx.Done():
				d.markInterrupted(ctx, results, svc.Name)
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			budget := svc.HealthCheck.VerifyBudget(healthTimeout)
			state, detail := d.health.Verify(ctx, svc, containerID, budget)
			switch state {
			case run.StateHealthy:
				results.MarkHealthy(svc.Name)
			case run.StateUnhealthy:
				results.MarkUnhealthy(svc.Name, detail)
			case run.StateCancelled:
				results.MarkCancelled(svc.Name)
			case run.StateFailed:
				results.MarkFailed(svc.Name, errors.New(detail))
			default:
				results.MarkUnhealthy(svc.Name, fmt.Sprintf("unexpected verification state %q: %s", state, detail))
			}
		}(svc, containerID)
	}

	wg.Wait()
}

// ===== Container spec mapping =====

// containerSpecFor translates a service definition into an engine container
// spec, resolving plan-scoped network and volume names and wiring secret
// files in as read-only bind mounts. Environment values that reference a
// secret resolve to the in-container mount path, never to the value itself.
func containerSpecFor(p *plan.DeploymentPlan, svc stack.ServiceSpec, runID string, secretPaths map[string]string) engine.ContainerSpec {
	labels := make(map[string]string, len(svc.Labels)+4)
	for k, v := range svc.Labels {
		labels[k] = v
	}
	for k, v := range engine.ServiceLabels(p.Stack, svc.Name) {
		labels[k] = v
	}
	labels[engine.LabelRun] = runID

	externalNets := make(map[string]bool, len(p.Networks))
	for _, ref := range p.Networks {
		if ref.External {
			externalNets[ref.Name] = true
		}
	}
	externalVols := make(map[string]bool, len(p.Volumes))
	for _, ref := range p.Volumes {
		if ref.External {
			externalVols[ref.Name] = true
		}
	}

	var mounts []engine.Mount
	for _, vm := range svc.Volumes {
		m := engine.Mount{
			Target:   vm.Target,
			ReadOnly: vm.ReadOnly,
		}
		switch vm.Type {
		case stack.VolumeMountTypeBind:
			m.Type = engine.MountTypeBind
			m.Source = vm.Source
		case stack.VolumeMountTypeTmpfs:
			m.Type = engine.MountTypeTmpfs
		default:
			m.Type = engine.MountTypeVolume
			if externalVols[vm.Source] {
				m.Source = vm.Source
			} else {
				m.Source = plan.VolumeName(p.Stack, vm.Source)
			}
		}
		mounts = append(mounts, m)
	}

	mounted := make(map[string]bool, len(svc.Secrets))
	for _, att := range svc.Secrets {
		mounts = append(mounts, engine.Mount{
			Type:     engine.MountTypeBind,
			Source:   secretPaths[att.Source],
			Target:   att.MountPath(),
			ReadOnly: true,
		})
		mounted[att.Source] = true
	}

	env := make(map[string]string, len(svc.Environment))
	envKeys := make([]string, 0, len(svc.Environment))
	for k := range svc.Environment {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		val := svc.Environment[key]
		if !stack.IsSecretEnvRef(val) {
			env[key] = val
			continue
		}
		name := stack.SecretEnvRefName(val)
		target := secretEnvMountPath(svc, name)
		env[key] = target
		if !mounted[name] {
			mounts = append(mounts, engine.Mount{
				Type:     engine.MountTypeBind,
				Source:   secretPaths[name],
				Target:   target,
				ReadOnly: true,
			})
			mounted[name] = true
		}
	}

	networks := svc.Networks
	if len(networks) == 0 {
		networks = []string{plan.DefaultNetwork}
	}
	engineNetworks := make([]string, 0, len(networks))
	aliases := make(map[string][]string, len(networks))
	for _, n := range networks {
		name := n
		if !externalNets[n] {
			name = plan.NetworkName(p.Stack, n)
		}
		engineNetworks = append(engineNetworks, name)
		// The bare service name resolves on every attached network, so
		// dependents address each other without plan-scoped prefixes.
		aliases[name] = []string{svc.Name}
	}

	ports := make([]engine.PortBinding, 0, len(svc.Ports))
	for _, pb := range svc.Ports {
		ports = append(ports, engine.PortBinding{
			ContainerPort: int(pb.Target),
			HostPort:      int(pb.Published),
			Protocol:      pb.Protocol,
			HostIP:        pb.HostIP,
		})
	}

	spec := engine.ContainerSpec{
		Name:           plan.ContainerName(p.Stack, svc.Name),
		Image:          svc.Image,
		Command:        svc.Command,
		Entrypoint:     svc.Entrypoint,
		Env:            env,
		Labels:         labels,
		Ports:          ports,
		Mounts:         mounts,
		Networks:       engineNetworks,
		NetworkAliases: aliases,
	}

	switch svc.Restart {
	case stack.RestartAlways, stack.RestartOnFailure, stack.RestartUnlessStopped:
		spec.RestartPolicy = engine.RestartPolicy{Name: string(svc.Restart)}
	}

	// Only engine probes run inside the container; HTTP and TCP probes are
	// driven from the deployer and never configured on the engine.
	if hc := svc.HealthCheck; hc != nil && hc.Kind == stack.ProbeEngine && len(hc.Test) > 0 {
		spec.HealthCheck = &engine.HealthCheck{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			Retries:     hc.Retries,
			StartPeriod: hc.StartPeriod,
		}
	}

	return spec
}

// secretEnvMountPath resolves where a secret referenced from the
// environment lives inside the container: the explicit attachment target
// when the service also mounts it, the default path otherwise.
func secretEnvMountPath(svc stack.ServiceSpec, name string) string {
	for _, att := range svc.Secrets {
		if att.Source == name {
			return att.MountPath()
		}
	}
	return stack.SecretAttachment{Source: name}.MountPath()
}

// ===== Helpers =====

func (d *Driver) existingContainers(ctx context.Context, stackName string, logger *slog.Logger) map[string]engine.ContainerInfo {
	containers, err := d.engine.ListContainers(ctx, engine.ListOptions{
		All:     true,
		Filters: map[string]string{"label": engine.LabelStack + "=" + stackName},
	})
	if err != nil {
		logger.Warn("failed to list existing containers", "error", err)
		return nil
	}
	byService := make(map[string]engine.ContainerInfo, len(containers))
	for _, c := range containers {
		if svc, ok := c.Labels[engine.LabelService]; ok {
			byService[svc] = c
		}
	}
	return byService
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
