package watcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bdobrica/Banken/internal/banken/runtime"
)

// Environment variable keys the control plane injects into containers it
// deploys. The enricher lifts their values into event attributes so Core can
// tie a host event back to the deployment that produced it.
const (
	envKeyAppID        = "CORE_APP_ID"
	envKeyEnvID        = "CORE_ENV_ID"
	envKeyDeploymentID = "CORE_DEPLOYMENT_ID"
)

// defaultTag is assumed when an image reference carries no tag.
const defaultTag = "latest"

// Inspector is the point lookup the enricher needs from the container runtime.
// *docker.Adapter satisfies this.
type Inspector interface {
	Inspect(ctx context.Context, id string) (runtime.ContainerMeta, error)
}

// Enricher augments container-creation events with metadata fetched from the
// runtime. Enrichment is best-effort: the container may already be gone by
// the time the event is processed, in which case the event is forwarded with
// its raw attributes instead of being dropped.
type Enricher struct {
	inspector Inspector
}

// NewEnricher creates an Enricher backed by the given inspector.
func NewEnricher(inspector Inspector) *Enricher {
	return &Enricher{inspector: inspector}
}

// Attributes returns the outbound attribute map for ev. Only container
// "create" events are enriched; everything else passes through with the raw
// actor attributes.
func (e *Enricher) Attributes(ctx context.Context, ev RawEvent) map[string]any {
	if ev.Type != KindContainer || ev.Action != "create" || e.inspector == nil {
		return rawAttributes(ev)
	}

	meta, err := e.inspector.Inspect(ctx, ev.Actor.ID)
	if err != nil {
		slog.Error("watcher: container inspect failed, forwarding raw attributes",
			"id", ev.Actor.ID, "err", err)
		return rawAttributes(ev)
	}

	image, tag := splitImageTag(meta.Image)
	appID, envID, deploymentID := detailsFromEnv(meta.Env)

	return map[string]any{
		"id":             meta.ID,
		"name":           strings.TrimPrefix(meta.Name, "/"),
		"image":          image,
		"tag":            tag,
		"state":          string(meta.State),
		"created":        meta.Created,
		"application_id": appID,
		"environment_id": envID,
		"deployment_id":  deploymentID,
	}
}

// splitImageTag splits an image reference into name and tag. The last colon
// is only a tag separator when no slash follows it; otherwise it belongs to a
// registry host:port (e.g. "localhost:5000/app" has no tag). A missing or
// empty tag defaults to "latest".
func splitImageTag(ref string) (name, tag string) {
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i+1:], "/") {
		return ref, defaultTag
	}
	name, tag = ref[:i], ref[i+1:]
	if tag == "" {
		tag = defaultTag
	}
	return name, tag
}

// detailsFromEnv extracts the Core deployment identifiers from a container's
// declared environment by exact key match. Absent keys yield nil so the
// relayed JSON carries an explicit null.
func detailsFromEnv(env []string) (appID, envID, deploymentID any) {
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case envKeyAppID:
			appID = v
		case envKeyEnvID:
			envID = v
		case envKeyDeploymentID:
			deploymentID = v
		}
	}
	return appID, envID, deploymentID
}
