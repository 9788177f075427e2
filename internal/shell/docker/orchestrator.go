package docker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/drydock-sh/drydock/internal/core/deployment"
	"github.com/drydock-sh/drydock/internal/core/fabric"
	"github.com/drydock-sh/drydock/internal/core/topology"
)

// =============================================================================
// Orchestrator - Manages Deployment Lifecycle
// =============================================================================

// Orchestrator brings deployments up and down against a container runtime.
// It consumes a deployment.Plan, so every configuration error has already
// been caught before the runtime is touched.
type Orchestrator struct {
	docker       Client
	logger       *slog.Logger
	readyTimeout time.Duration // bound on waiting for one dependency's readiness
	stopTimeout  time.Duration // grace period when stopping containers
	pollInterval time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReadyTimeout bounds the wait for a depended-on service's readiness.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.readyTimeout = d }
}

// WithStopTimeout sets the grace period for container stops.
func WithStopTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stopTimeout = d }
}

// WithPollInterval sets the readiness poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(docker Client, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		docker:       docker,
		logger:       logger,
		readyTimeout: 60 * time.Second,
		stopTimeout:  10 * time.Second,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// =============================================================================
// Image Preparation
// =============================================================================

// BuildImages builds an image for every service that declares a build
// source. Used as the pipeline's BUILD phase; always rebuilds.
func (o *Orchestrator) BuildImages(ctx context.Context, plan *deployment.Plan) error {
	for _, svc := range plan.Spec.Services {
		if svc.Build == nil {
			continue
		}
		tag := deployment.ImageTag(plan.ID, svc.Name)
		o.logger.Info("building image", "service", svc.Name, "tag", tag, "context", svc.Build.Context)
		err := o.docker.BuildImage(ctx, BuildSpec{
			ContextDir: svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Tag:        tag,
			Args:       svc.Build.Args,
			Labels: map[string]string{
				LabelManaged:    "true",
				LabelDeployment: plan.ID,
				LabelService:    svc.Name,
			},
		})
		if err != nil {
			return &ImageBuildError{Service: svc.Name, Err: err}
		}
	}
	return nil
}

// ensureImages makes every service's image available: services with a build
// source are built unless their tag already exists, the rest are pulled.
func (o *Orchestrator) ensureImages(ctx context.Context, plan *deployment.Plan) error {
	for _, svc := range plan.Spec.Services {
		if svc.Build != nil {
			tag := deployment.ImageTag(plan.ID, svc.Name)
			exists, _ := o.docker.ImageExists(ctx, tag)
			if exists {
				continue
			}
			err := o.docker.BuildImage(ctx, BuildSpec{
				ContextDir: svc.Build.Context,
				Dockerfile: svc.Build.Dockerfile,
				Tag:        tag,
				Args:       svc.Build.Args,
				Labels: map[string]string{
					LabelManaged:    "true",
					LabelDeployment: plan.ID,
					LabelService:    svc.Name,
				},
			})
			if err != nil {
				return &ImageBuildError{Service: svc.Name, Err: err}
			}
			continue
		}

		exists, _ := o.docker.ImageExists(ctx, svc.Image)
		if !exists {
			o.logger.Info("pulling image", "image", svc.Image)
			if err := o.docker.PullImage(ctx, svc.Image, PullOptions{}); err != nil {
				o.logger.Warn("failed to pull image, trying anyway", "image", svc.Image, "error", err)
			}
		}
	}
	return nil
}

// =============================================================================
// Up
// =============================================================================

// Up brings the whole deployment up: images, network, volumes, then
// containers layer by layer in dependency order. Services inside one
// topological layer start concurrently; a layer only starts after every
// depended-on service in earlier layers reported ready.
//
// On any failure the already-started containers are torn down in reverse
// start order before the error propagates.
func (o *Orchestrator) Up(ctx context.Context, plan *deployment.Plan) (map[string]topology.ServiceStatus, error) {
	o.logger.Info("starting deployment",
		"deployment_id", plan.ID,
		"services", len(plan.Spec.Services),
		"layers", len(plan.Layers),
	)

	statuses := make(map[string]topology.ServiceStatus, len(plan.Spec.Services))
	for _, svc := range plan.Spec.Services {
		statuses[svc.Name] = topology.StatusCreated
	}

	if err := o.ensureImages(ctx, plan); err != nil {
		return statuses, err
	}

	networkName := plan.Namespace.ID
	if err := o.createNetwork(ctx, plan, networkName); err != nil {
		return statuses, fmt.Errorf("failed to create network: %w", err)
	}

	for _, vol := range plan.Volumes.List() {
		if err := o.createVolume(ctx, plan, deployment.VolumeName(plan.ID, vol.Name)); err != nil {
			_ = o.docker.RemoveNetwork(ctx, networkName)
			return statuses, fmt.Errorf("failed to create volume %s: %w", vol.Name, err)
		}
	}

	// Existing containers from a previous run of the same deployment are
	// reused rather than recreated, so restarts keep volume data attached.
	existingByService := make(map[string]ContainerInfo)
	existing, _ := o.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", LabelDeployment, plan.ID),
		},
	})
	for _, c := range existing {
		if svc, ok := c.Labels[LabelService]; ok {
			existingByService[svc] = c
		}
	}

	var started []startedContainer
	fail := func(err error) (map[string]topology.ServiceStatus, error) {
		o.teardownStarted(ctx, started)
		for _, s := range started {
			if statuses[s.service] != topology.StatusFailed {
				statuses[s.service] = topology.StatusStopped
			}
		}
		_ = o.docker.RemoveNetwork(ctx, networkName)
		return statuses, err
	}

	for _, layer := range plan.Layers {
		layerStarted, err := o.startLayer(ctx, plan, layer, networkName, existingByService)
		started = append(started, layerStarted...)
		if err != nil {
			if svc := failedService(err); svc != "" {
				statuses[svc] = topology.StatusFailed
			}
			return fail(err)
		}
		for _, s := range layerStarted {
			statuses[s.service] = topology.StatusRunning
		}

		// Gate the next layer on readiness of every service something
		// depends on. Leaf services are not waited for.
		for _, s := range layerStarted {
			if !plan.Graph.HasDependents(s.service) {
				continue
			}
			if err := o.waitReady(ctx, plan, s.service, s.containerID); err != nil {
				statuses[s.service] = topology.StatusFailed
				return fail(err)
			}
		}
	}

	o.logger.Info("deployment started", "deployment_id", plan.ID, "containers", len(started))
	return statuses, nil
}

// startedContainer pairs a service with its running container.
type startedContainer struct {
	service     string
	containerID string
}

// startLayer creates and starts every service in one topological layer.
// Services in a layer have no ordering constraint between them, so they
// start concurrently. Returns every container that made it to a start
// attempt so the caller can tear them down on failure.
func (o *Orchestrator) startLayer(ctx context.Context, plan *deployment.Plan, layer []string, networkName string, existingByService map[string]ContainerInfo) ([]startedContainer, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		started []startedContainer
		firstErr error
	)

	for _, name := range layer {
		svc := plan.Spec.Service(name)
		if svc == nil {
			continue
		}
		wg.Add(1)
		go func(svc topology.Service) {
			defer wg.Done()

			containerID, err := o.startService(ctx, plan, svc, networkName, existingByService)
			mu.Lock()
			defer mu.Unlock()
			if containerID != "" {
				started = append(started, startedContainer{service: svc.Name, containerID: containerID})
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(*svc)
	}
	wg.Wait()

	return started, firstErr
}

// startService creates (or reuses) and starts the container for one service.
func (o *Orchestrator) startService(ctx context.Context, plan *deployment.Plan, svc topology.Service, networkName string, existingByService map[string]ContainerInfo) (string, error) {
	var containerID string

	if existing, found := existingByService[svc.Name]; found {
		containerID = existing.ID
		o.logger.Debug("reusing container", "service", svc.Name, "container_id", shortID(containerID))
	} else {
		spec := o.buildContainerSpec(plan, svc, networkName)
		id, err := o.docker.CreateContainer(ctx, spec)
		if err != nil {
			return "", &ContainerStartError{Service: svc.Name, Err: err}
		}
		containerID = id
		o.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))
	}

	if err := o.docker.StartContainer(ctx, containerID); err != nil {
		if !strings.Contains(err.Error(), "already started") && !strings.Contains(err.Error(), "is already running") {
			return containerID, &ContainerStartError{Service: svc.Name, Err: err}
		}
	}
	o.logger.Debug("started container", "service", svc.Name, "container_id", shortID(containerID))
	return containerID, nil
}

// =============================================================================
// Readiness
// =============================================================================

// waitReady blocks until the service accepts dependent traffic, bounded by
// the ready timeout. Readiness is, in order of preference: the container's
// own health check reporting healthy, a successful TCP dial on the first
// exposed host port, or plain running state when neither is declared.
func (o *Orchestrator) waitReady(ctx context.Context, plan *deployment.Plan, service, containerID string) error {
	o.logger.Info("waiting for dependency readiness", "service", service, "timeout", o.readyTimeout)

	deadline := time.Now().Add(o.readyTimeout)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	ports := plan.Fabric.Ports(service)

	for {
		select {
		case <-ctx.Done():
			return &DependencyNotReadyError{Service: service, Err: ctx.Err()}
		case <-ticker.C:
			info, err := o.docker.InspectContainer(ctx, containerID)
			if err != nil {
				return &DependencyNotReadyError{Service: service, Err: err}
			}

			ready, err := o.checkReadiness(info, ports)
			if err != nil {
				return &DependencyNotReadyError{Service: service, Err: err}
			}
			if ready {
				o.logger.Info("dependency ready", "service", service)
				return nil
			}
			if time.Now().After(deadline) {
				return &DependencyNotReadyError{Service: service}
			}
			o.logger.Debug("dependency not yet ready, waiting", "service", service)
		}
	}
}

// checkReadiness evaluates one readiness probe round.
func (o *Orchestrator) checkReadiness(info *ContainerInfo, ports []fabric.PortMapping) (bool, error) {
	if info.Status != ContainerStatusRunning {
		if info.Status == ContainerStatusExited || info.Status == ContainerStatusDead {
			return false, fmt.Errorf("container %s exited with code %d", info.Name, info.ExitCode)
		}
		return false, nil
	}

	switch info.Health {
	case "healthy":
		return true, nil
	case "unhealthy":
		return false, fmt.Errorf("container %s is unhealthy", info.Name)
	case "starting":
		return false, nil
	}

	// No health check declared: probe the first exposed host port.
	if len(ports) > 0 {
		addr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", ports[0].HostPort))
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			return false, nil
		}
		conn.Close()
		return true, nil
	}

	// Nothing to probe: running is as good as it gets.
	return true, nil
}

// =============================================================================
// Down
// =============================================================================

// DownOptions controls what Down removes beyond containers and the network.
type DownOptions struct {
	PurgeVolumes bool // also destroy named volume data; irreversible
	RemoveImages bool // also remove images built for this deployment
}

// Down stops and removes the deployment in teardown order (the exact
// reverse of start order). Teardown is best-effort: per-resource errors are
// collected into the report and never abort the remaining removals.
func (o *Orchestrator) Down(ctx context.Context, plan *deployment.Plan, opts DownOptions) *TeardownReport {
	o.logger.Info("removing deployment", "deployment_id", plan.ID, "purge_volumes", opts.PurgeVolumes)
	report := &TeardownReport{}

	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", LabelDeployment, plan.ID),
		},
	})
	if err != nil {
		report.Add("deployment", plan.ID, fmt.Errorf("list containers: %w", err))
		containers = nil
	}

	byService := make(map[string]ContainerInfo, len(containers))
	for _, c := range containers {
		if svc, ok := c.Labels[LabelService]; ok {
			byService[svc] = c
		}
	}

	order, err := plan.Graph.TeardownOrder()
	if err != nil {
		// A plan never carries a cycle; fall back to the raw listing.
		order = nil
		for svc := range byService {
			order = append(order, svc)
		}
	}

	for _, svcName := range order {
		c, ok := byService[svcName]
		if !ok {
			continue
		}
		o.removeContainer(ctx, c, report)
		delete(byService, svcName)
	}
	// Strays carrying the deployment label but absent from the plan.
	for _, c := range byService {
		o.removeContainer(ctx, c, report)
	}

	networkName := deployment.NetworkName(plan.ID)
	if err := o.docker.RemoveNetwork(ctx, networkName); err != nil {
		if !strings.Contains(err.Error(), "not found") {
			report.Add("network", networkName, err)
		}
	} else {
		o.logger.Debug("removed network", "network", networkName)
	}

	if opts.PurgeVolumes {
		for _, vol := range plan.Volumes.List() {
			name := deployment.VolumeName(plan.ID, vol.Name)
			if err := o.docker.RemoveVolume(ctx, name, true); err != nil {
				if !strings.Contains(err.Error(), "not found") {
					report.Add("volume", name, err)
				}
				continue
			}
			o.logger.Debug("purged volume", "volume", name)
		}
	}

	if opts.RemoveImages {
		for _, svc := range plan.Spec.Services {
			if svc.Build == nil {
				continue
			}
			tag := deployment.ImageTag(plan.ID, svc.Name)
			if err := o.docker.RemoveImage(ctx, tag, true); err != nil {
				if !strings.Contains(err.Error(), "not found") {
					report.Add("image", tag, err)
				}
				continue
			}
			o.logger.Debug("removed image", "image", tag)
		}
	}

	if report.Empty() {
		o.logger.Info("deployment removed", "deployment_id", plan.ID)
	} else {
		o.logger.Warn("deployment removed with failures", "deployment_id", plan.ID, "failures", len(report.Failures))
	}
	return report
}

// removeContainer stops (if running) and removes one container, recording
// failures in the report.
func (o *Orchestrator) removeContainer(ctx context.Context, c ContainerInfo, report *TeardownReport) {
	if c.Status == ContainerStatusRunning {
		timeout := o.stopTimeout
		if err := o.docker.StopContainer(ctx, c.ID, &timeout); err != nil {
			o.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			// Removal below is forced; the stop failure alone is not fatal.
		}
	}
	if err := o.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true, RemoveVolumes: false}); err != nil {
		report.Add("container", c.Name, err)
		return
	}
	o.logger.Debug("removed container", "container_id", shortID(c.ID))
}

// teardownStarted reverses a partial start after a failure.
func (o *Orchestrator) teardownStarted(ctx context.Context, started []startedContainer) {
	ctx = context.WithoutCancel(ctx)
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		timeout := o.stopTimeout
		_ = o.docker.StopContainer(ctx, s.containerID, &timeout)
		_ = o.docker.RemoveContainer(ctx, s.containerID, RemoveOptions{Force: true})
		o.logger.Debug("cleaned up container", "service", s.service, "container_id", shortID(s.containerID))
	}
}

// =============================================================================
// Status
// =============================================================================

// ServiceState is the externally visible liveness of one service.
type ServiceState struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Health  string `json:"health,omitempty"`
}

// Status reports the current liveness of every container in the deployment.
func (o *Orchestrator) Status(ctx context.Context, deploymentID string) ([]ServiceState, error) {
	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", LabelDeployment, deploymentID),
		},
	})
	if err != nil {
		return nil, err
	}

	states := make([]ServiceState, 0, len(containers))
	for _, c := range containers {
		svc := c.Labels[LabelService]
		if svc == "" {
			svc = c.Name
		}
		states = append(states, ServiceState{
			Service: svc,
			Status:  string(c.Status),
			Health:  c.Health,
		})
	}
	return states, nil
}

// =============================================================================
// Helpers
// =============================================================================

// createNetwork creates the deployment network, reusing an existing one.
func (o *Orchestrator) createNetwork(ctx context.Context, plan *deployment.Plan, networkName string) error {
	_, err := o.docker.CreateNetwork(ctx, NetworkSpec{
		Name:   networkName,
		Driver: plan.Namespace.Driver,
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelDeployment: plan.ID,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("network already exists, reusing", "network", networkName)
			return nil
		}
		return err
	}
	o.logger.Debug("created network", "network", networkName)
	return nil
}

// createVolume creates a named volume, reusing an existing one.
func (o *Orchestrator) createVolume(ctx context.Context, plan *deployment.Plan, volumeName string) error {
	_, err := o.docker.CreateVolume(ctx, VolumeSpec{
		Name: volumeName,
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelDeployment: plan.ID,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("volume already exists, reusing", "volume", volumeName)
			return nil
		}
		return err
	}
	o.logger.Debug("created volume", "volume", volumeName)
	return nil
}

// buildContainerSpec converts one service declaration plus the plan's
// resolved state into a runtime container spec.
func (o *Orchestrator) buildContainerSpec(plan *deployment.Plan, svc topology.Service, networkName string) ContainerSpec {
	spec := ContainerSpec{
		Name:       deployment.ContainerName(plan.ID, svc.Name),
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        plan.ServiceEnv[svc.Name],
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelDeployment: plan.ID,
			LabelService:    svc.Name,
		},
		Networks: []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {svc.Name},
		},
	}

	if svc.Build != nil {
		spec.Image = deployment.ImageTag(plan.ID, svc.Name)
	}

	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == topology.VolumeMountTypeVolume {
			source = deployment.VolumeName(plan.ID, v.Source)
		}
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
			spec.HealthCheck.Interval = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
			spec.HealthCheck.Timeout = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
			spec.HealthCheck.StartPeriod = d
		}
	}

	switch svc.Restart {
	case topology.RestartAlways:
		spec.RestartPolicy = RestartPolicy{Name: "always"}
	case topology.RestartOnFailure:
		spec.RestartPolicy = RestartPolicy{Name: "on-failure"}
	case topology.RestartUnlessStopped:
		spec.RestartPolicy = RestartPolicy{Name: "unless-stopped"}
	default:
		spec.RestartPolicy = RestartPolicy{Name: "no"}
	}

	for k, v := range svc.Labels {
		spec.Labels[k] = v
	}

	return spec
}

// failedService extracts the service name from an orchestration error.
func failedService(err error) string {
	switch e := err.(type) {
	case *ContainerStartError:
		return e.Service
	case *ImageBuildError:
		return e.Service
	case *DependencyNotReadyError:
		return e.Service
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
