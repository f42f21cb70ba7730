// Package engine is the narrow container-engine interface the hub needs:
// inspect, lifecycle, exec into a container namespace and log tail.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no container exists under the requested name.
	ErrNotFound = errors.New("container not found")
	// ErrEngineUnavailable means the engine itself could not be reached.
	// Callers degrade their classification instead of aborting.
	ErrEngineUnavailable = errors.New("container engine unavailable")
)

// Native health states reported by the engine.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
	HealthNone      = ""
)

// Container is the subset of inspect output used by the hub.
type Container struct {
	Name      string
	Status    string // running|exited|restarting|created|paused|dead
	Running   bool
	Health    string // HealthNone when no check is configured
	StartedAt string
}

// Healthy reports a native healthy status, or running with no health check.
func (c Container) Healthy() bool {
	return c.Health == HealthHealthy || (c.Running && c.Health == HealthNone)
}

// Engine is implemented by Docker and by test fakes.
type Engine interface {
	Inspect(ctx context.Context, name string) (Container, error)
	// Stop is idempotent: already stopped or missing containers are not errors.
	Stop(ctx context.Context, names ...string) error
	Start(ctx context.Context, names ...string) error
	// Recreate force-recreates the container from its compose definition.
	Recreate(ctx context.Context, name string) error
	Exec(ctx context.Context, name string, cmd ...string) (string, error)
	// LogTail returns the last non-empty line of the container log.
	LogTail(ctx context.Context, name string) (string, error)
}
