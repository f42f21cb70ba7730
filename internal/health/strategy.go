package health

import (
	"context"
	"errors"

	"hubctl/internal/engine"
	"hubctl/internal/model"
)

// Observation is what the classifier knows about one service before any
// strategy runs.
type Observation struct {
	Service   model.Service
	Container engine.Container
	// InspectErr is the engine error, if inspect failed.
	InspectErr error
	// Probe dials the service's resolved target.
	Probe func(ctx context.Context) error
}

// A Strategy returns decisive=true when it settles the status.
type Strategy func(ctx context.Context, obs Observation) (status model.Status, decisive bool)

// DefaultStrategies is the classification chain, first decisive wins.
func DefaultStrategies() []Strategy {
	return []Strategy{NativeHealthy, ProbeDegraded, ProbeMissing, Fallback}
}

// NativeHealthy trusts a healthy engine report, or running with no check.
func NativeHealthy(_ context.Context, obs Observation) (model.Status, bool) {
	if obs.InspectErr == nil && obs.Container.Healthy() {
		return model.StatusUp, true
	}
	return "", false
}

// ProbeDegraded probes services the engine reports unhealthy or starting;
// a reachable port overrides the native status.
func ProbeDegraded(ctx context.Context, obs Observation) (model.Status, bool) {
	if obs.InspectErr != nil {
		return "", false
	}
	var native model.Status
	switch obs.Container.Health {
	case engine.HealthUnhealthy:
		native = model.StatusUnhealthy
	case engine.HealthStarting:
		native = model.StatusStarting
	default:
		return "", false
	}
	if obs.Probe(ctx) == nil {
		return model.StatusUp, true
	}
	return native, true
}

// ProbeMissing decides by probe alone when the engine has no container under
// the expected name, or cannot be asked.
func ProbeMissing(ctx context.Context, obs Observation) (model.Status, bool) {
	if !errors.Is(obs.InspectErr, engine.ErrNotFound) && !errors.Is(obs.InspectErr, engine.ErrEngineUnavailable) {
		return "", false
	}
	if obs.Probe(ctx) == nil {
		return model.StatusUp, true
	}
	return model.StatusDown, true
}

// Fallback reports anything left (exited, dead, inspect errors) as down.
func Fallback(context.Context, Observation) (model.Status, bool) {
	return model.StatusDown, true
}
