// Package runtime defines the Runtime interface for container lifecycle management.
package runtime

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the referenced container, image, or network
// does not exist. Adapters translate their engine-specific not-found errors
// into this sentinel so callers can branch without importing the engine SDK.
var ErrNotFound = errors.New("not found")

// Runtime abstracts the container engine backend.
type Runtime interface {
	// Inspect returns metadata for a single container.
	// Returns an error wrapping ErrNotFound when the container does not exist.
	Inspect(ctx context.Context, id string) (ContainerMeta, error)

	// Containers lists all containers on the host, running or not.
	Containers(ctx context.Context) ([]ContainerSummary, error)

	// Create creates a container from the given spec without starting it.
	// Returns the new container's ID.
	Create(ctx context.Context, spec CreateSpec) (string, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, id string) error

	// Stop gracefully stops a running container.
	Stop(ctx context.Context, id string) error

	// Restart stops and then starts a container.
	Restart(ctx context.Context, id string) error

	// Remove force-removes a container, stopping it first if needed.
	Remove(ctx context.Context, id string) error

	// Images lists the images present on the host.
	Images(ctx context.Context) ([]ImageSummary, error)

	// PullImage pulls an image reference, blocking until the pull completes.
	PullImage(ctx context.Context, ref string) error

	// Networks lists the networks on the host.
	Networks(ctx context.Context) ([]NetworkSummary, error)

	// CreateNetwork creates a bridge network and returns its ID.
	CreateNetwork(ctx context.Context, name string) (string, error)

	// RemoveNetwork removes a network by ID or name.
	RemoveNetwork(ctx context.Context, id string) error
}
