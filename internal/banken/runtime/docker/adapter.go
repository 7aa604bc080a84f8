// Package docker provides a Docker Engine runtime adapter for the agent.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/bdobrica/Banken/internal/banken/runtime"
)

const (
	labelManagedBy = "banken.managed-by"
	managedByValue = "banken"

	// stopTimeout is how long to wait for graceful container stop before SIGKILL.
	stopTimeout = 10 * time.Second
)

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client *dockerclient.Client
}

// New creates a new Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New() (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli}, nil
}

// Ping verifies the Docker daemon is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Inspect returns metadata for a single container.
func (a *Adapter) Inspect(ctx context.Context, id string) (runtime.ContainerMeta, error) {
	inspect, err := a.client.ContainerInspect(ctx, id)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.ContainerMeta{}, fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
		}
		return runtime.ContainerMeta{}, fmt.Errorf("inspect container %s: %w", id, err)
	}

	created, _ := time.Parse(time.RFC3339Nano, inspect.Created)

	meta := runtime.ContainerMeta{
		ID:      inspect.ID,
		Name:    strings.TrimPrefix(inspect.Name, "/"),
		Created: created,
	}
	if inspect.State != nil {
		meta.State = parseContainerState(inspect.State.Status)
	} else {
		meta.State = runtime.StateUnknown
	}
	if inspect.Config != nil {
		meta.Image = inspect.Config.Image
		meta.Env = inspect.Config.Env
	}
	return meta, nil
}

// Containers lists all containers on the host, running or not.
func (a *Adapter) Containers(ctx context.Context) ([]runtime.ContainerSummary, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]runtime.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, runtime.ContainerSummary{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   parseContainerState(c.State),
			Status:  c.Status,
			Created: time.Unix(c.Created, 0).UTC(),
			Labels:  c.Labels,
		})
	}
	return out, nil
}

// Create creates a container from the given spec without starting it.
func (a *Adapter) Create(ctx context.Context, spec runtime.CreateSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("spec.Image is required")
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{labelManagedBy: managedByValue}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	exposed, bindings, err := portMaps(spec.Ports)
	if err != nil {
		return "", err
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
	}
	if spec.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		}
	}

	var networkCfg *network.NetworkingConfig
	if spec.NetworkName != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.NetworkName: {},
			},
		}
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

// Start starts a created or stopped container.
func (a *Adapter) Start(ctx context.Context, id string) error {
	if err := a.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
		}
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

// Stop gracefully stops a running container.
func (a *Adapter) Stop(ctx context.Context, id string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
		}
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// Restart stops and starts a container.
func (a *Adapter) Restart(ctx context.Context, id string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
		}
		return fmt.Errorf("restart container %s: %w", id, err)
	}
	return nil
}

// Remove force-removes a container, stopping it first if needed.
func (a *Adapter) Remove(ctx context.Context, id string) error {
	err := a.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// Images lists the images present on the host.
func (a *Adapter) Images(ctx context.Context) ([]runtime.ImageSummary, error) {
	images, err := a.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	out := make([]runtime.ImageSummary, 0, len(images))
	for _, img := range images {
		out = append(out, runtime.ImageSummary{
			ID:      img.ID,
			Tags:    img.RepoTags,
			Size:    img.Size,
			Created: time.Unix(img.Created, 0).UTC(),
		})
	}
	return out, nil
}

// PullImage pulls an image reference, blocking until the pull completes.
// The progress stream is drained and discarded; the engine reports pull
// errors through the stream, surfaced here as a read error.
func (a *Adapter) PullImage(ctx context.Context, ref string) error {
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// Networks lists the networks on the host.
func (a *Adapter) Networks(ctx context.Context) ([]runtime.NetworkSummary, error) {
	nets, err := a.client.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	out := make([]runtime.NetworkSummary, 0, len(nets))
	for _, n := range nets {
		out = append(out, runtime.NetworkSummary{
			ID:     n.ID,
			Name:   n.Name,
			Driver: n.Driver,
		})
	}
	return out, nil
}

// CreateNetwork creates an attachable bridge network and returns its ID.
func (a *Adapter) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := a.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{labelManagedBy: managedByValue},
	})
	if err != nil {
		return "", fmt.Errorf("create network %q: %w", name, err)
	}
	return resp.ID, nil
}

// RemoveNetwork removes a network by ID or name.
func (a *Adapter) RemoveNetwork(ctx context.Context, id string) error {
	if err := a.client.NetworkRemove(ctx, id); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("network %s: %w", id, runtime.ErrNotFound)
		}
		return fmt.Errorf("remove network %s: %w", id, err)
	}
	return nil
}

// --- helpers ---

// portMaps converts the spec's port bindings into the engine's exposed-port
// set and host binding map.
// parseContainerState maps the engine's status string onto the runtime
// package's lifecycle states. Unrecognised statuses (e.g. "dead",
// "restarting") become StateUnknown rather than leaking engine strings.
func parseContainerState(status string) runtime.ContainerState {
	switch strings.ToLower(status) {
	case "running":
		return runtime.StateRunning
	case "stopped":
		return runtime.StateStopped
	case "exited":
		return runtime.StateExited
	case "created":
		return runtime.StateCreated
	case "paused":
		return runtime.StatePaused
	case "removing":
		return runtime.StateRemoving
	default:
		return runtime.StateUnknown
	}
}

func portMaps(ports []runtime.PortBinding) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, p.ContainerPort)
		if err != nil {
			return nil, nil, fmt.Errorf("port binding %q/%s: %w", p.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: p.HostPort})
	}
	return exposed, bindings, nil
}
