// Package runtime defines shared types for the container runtime abstraction.
package runtime

import "time"

// ContainerMeta is the metadata returned by a point lookup (inspect) of a
// single container. The watcher's enricher consumes this; the HTTP API
// returns it verbatim.
type ContainerMeta struct {
	// ID is the full container ID.
	ID string `json:"id"`
	// Name is the container name with the leading slash stripped.
	Name string `json:"name"`
	// Image is the image reference the container was created from.
	Image string `json:"image"`
	// State is the container's lifecycle state.
	State ContainerState `json:"state"`
	// Created is the container creation time.
	Created time.Time `json:"created"`
	// Env holds the container's declared environment variables as KEY=value pairs.
	Env []string `json:"-"`
}

// ContainerSummary is one row of a container listing.
type ContainerSummary struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	State   ContainerState    `json:"state"`
	Status  string            `json:"status"`
	Created time.Time         `json:"created"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// PortBinding maps a host port to a container port.
type PortBinding struct {
	// HostPort is the port published on the host.
	HostPort string `json:"host_port"`
	// ContainerPort is the port inside the container.
	ContainerPort string `json:"container_port"`
	// Protocol is "tcp" or "udp"; defaults to "tcp" when empty.
	Protocol string `json:"protocol,omitempty"`
}

// CreateSpec describes how a container should be created.
type CreateSpec struct {
	// Name is the container name. Required.
	Name string `json:"name"`
	// Image is the image reference to create the container from. Required.
	Image string `json:"image"`
	// Cmd overrides the image's default command when non-empty.
	Cmd []string `json:"cmd,omitempty"`
	// Env holds environment variables to inject into the container.
	Env map[string]string `json:"env,omitempty"`
	// Labels are extra labels to attach to the container.
	Labels map[string]string `json:"labels,omitempty"`
	// Ports are host-to-container port bindings.
	Ports []PortBinding `json:"ports,omitempty"`
	// NetworkName is the network to attach; the engine default when empty.
	NetworkName string `json:"network,omitempty"`
	// RestartPolicy is the engine restart policy name (e.g. "unless-stopped").
	// No restart policy is applied when empty.
	RestartPolicy string `json:"restart_policy,omitempty"`
}

// ImageSummary is one row of an image listing.
type ImageSummary struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// NetworkSummary is one row of a network listing.
type NetworkSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

// ContainerState is the engine-neutral container lifecycle state. Adapters
// map their engine's status strings onto these values; statuses with no
// equivalent become StateUnknown.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateStopped  ContainerState = "stopped"
	StateExited   ContainerState = "exited"
	StateCreated  ContainerState = "created"
	StatePaused   ContainerState = "paused"
	StateRemoving ContainerState = "removing"
	StateUnknown  ContainerState = "unknown"
)
