// Package activator switches the active tunnel profile and manages the
// profile collection under the control lock.
package activator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hubctl/internal/engine"
	"hubctl/internal/lock"
	"hubctl/internal/profile"
	"hubctl/internal/telemetry"
)

var (
	ErrLockBusy        = lock.ErrBusy
	ErrProfileNotFound = profile.ErrNotFound
	ErrProfileActive   = errors.New("profile is active")
)

// Result is the user-facing outcome of a control operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Healthy is set by Activate when the gateway reported healthy before
	// dependents were started again.
	Healthy bool `json:"healthy,omitempty"`
}

type Options struct {
	// Gateway is the tunnel gateway container name.
	Gateway string
	// Dependents are stopped before and started after the switch.
	Dependents     []string
	HealthAttempts int
	HealthInterval time.Duration
	// EngineTimeout bounds inspect calls, LifecycleTimeout bounds
	// stop/start/recreate.
	EngineTimeout    time.Duration
	LifecycleTimeout time.Duration
}

type Activator struct {
	store   *profile.Store
	eng     engine.Engine
	locker  lock.Locker
	opts    Options
	log     *zap.Logger
	metrics *telemetry.Metrics
}

func New(store *profile.Store, eng engine.Engine, locker lock.Locker, opts Options, log *zap.Logger, metrics *telemetry.Metrics) *Activator {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.HealthAttempts <= 0 {
		opts.HealthAttempts = 30
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Second
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = 5 * time.Second
	}
	if opts.LifecycleTimeout <= 0 {
		opts.LifecycleTimeout = 90 * time.Second
	}
	return &Activator{store: store, eng: eng, locker: locker, opts: opts, log: log, metrics: metrics}
}

// Activate makes name the active profile: stop dependents, persist the
// pointer, recreate the gateway, wait for it to become healthy (bounded,
// best effort) and start dependents again. Once dependents are stopped the
// sequence runs to completion even if ctx is cancelled.
func (a *Activator) Activate(ctx context.Context, name string) (res Result, err error) {
	start := time.Now()
	log := a.log.With(
		zap.String("op", "activate"),
		zap.String("op_id", uuid.NewString()),
		zap.String("profile", name),
	)
	defer func() {
		a.metrics.ObserveActivation(activationResult(res, err), time.Since(start))
	}()

	release, err := a.locker.TryLock(ctx)
	if err != nil {
		log.Info("activation rejected", zap.Error(err))
		return Result{Message: "another control operation is in progress"}, err
	}
	defer release()

	if _, err := a.store.Get(name); err != nil {
		return Result{Message: lookupMessage(name, err)}, err
	}

	ctx = context.WithoutCancel(ctx)

	log.Info("stopping dependents", zap.Strings("containers", a.opts.Dependents))
	if err := a.lifecycle(ctx, func(ctx context.Context) error {
		return a.eng.Stop(ctx, a.opts.Dependents...)
	}); err != nil {
		log.Warn("stop dependents", zap.Error(err))
	}

	if err := a.store.SetActive(name); err != nil {
		log.Error("persist active profile", zap.Error(err))
		if startErr := a.startDependents(ctx, log); startErr != nil {
			err = errors.Join(err, startErr)
		}
		return Result{Message: "failed to switch profile"}, fmt.Errorf("set active %s: %w", name, err)
	}
	log.Info("active profile persisted")

	var errs []error
	healthy := false
	if err := a.lifecycle(ctx, func(ctx context.Context) error {
		return a.eng.Recreate(ctx, a.opts.Gateway)
	}); err != nil {
		log.Error("recreate gateway", zap.String("container", a.opts.Gateway), zap.Error(err))
		errs = append(errs, fmt.Errorf("recreate gateway: %w", err))
	} else {
		healthy = a.waitHealthy(ctx, log)
	}

	if err := a.startDependents(ctx, log); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return Result{Message: fmt.Sprintf("profile %s activated with errors: %v", name, err)}, err
	}
	if !healthy {
		wait := time.Duration(a.opts.HealthAttempts) * a.opts.HealthInterval
		log.Warn("gateway not healthy after activation", zap.Duration("waited", wait))
		return Result{
			Success: true,
			Message: fmt.Sprintf("profile %s activated; gateway not healthy after %s", name, wait),
		}, nil
	}
	log.Info("profile activated", zap.Duration("took", time.Since(start)))
	return Result{Success: true, Healthy: true, Message: fmt.Sprintf("profile %s activated", name)}, nil
}

// Delete removes a stored profile. Missing profiles succeed; the active
// profile is refused.
func (a *Activator) Delete(ctx context.Context, name string) (Result, error) {
	release, err := a.locker.TryLock(ctx)
	if err != nil {
		return Result{Message: "another control operation is in progress"}, err
	}
	defer release()

	if err := profile.ValidateName(name); err != nil {
		return Result{Message: "invalid profile name"}, err
	}
	if _, err := a.store.Get(name); errors.Is(err, profile.ErrNotFound) {
		return Result{Success: true, Message: fmt.Sprintf("profile %s deleted", name)}, nil
	}
	active, err := a.store.Active()
	if err != nil {
		return Result{Message: "failed to read active profile"}, err
	}
	if active == name {
		return Result{Message: fmt.Sprintf("profile %s is active", name)}, fmt.Errorf("%s: %w", name, ErrProfileActive)
	}
	if err := a.store.Delete(name); err != nil {
		return Result{Message: "failed to delete profile"}, err
	}
	a.log.Info("profile deleted", zap.String("profile", name))
	return Result{Success: true, Message: fmt.Sprintf("profile %s deleted", name)}, nil
}

// Import stores a new profile. An empty name is derived from the config.
func (a *Activator) Import(ctx context.Context, name string, config []byte) (profile.Profile, error) {
	release, err := a.locker.TryLock(ctx)
	if err != nil {
		return profile.Profile{}, err
	}
	defer release()

	if name == "" {
		name = profile.ExtractName(config)
	}
	p, err := a.store.Import(name, config)
	if err != nil {
		return profile.Profile{}, err
	}
	a.log.Info("profile imported", zap.String("profile", p.Name))
	return p, nil
}

// List returns the stored profile names and the active one.
func (a *Activator) List() (names []string, active string, err error) {
	names, err = a.store.List()
	if err != nil {
		return nil, "", err
	}
	active, err = a.store.Active()
	if err != nil {
		return nil, "", err
	}
	return names, active, nil
}

func (a *Activator) startDependents(ctx context.Context, log *zap.Logger) error {
	log.Info("starting dependents", zap.Strings("containers", a.opts.Dependents))
	err := a.lifecycle(ctx, func(ctx context.Context) error {
		return a.eng.Start(ctx, a.opts.Dependents...)
	})
	if err != nil {
		log.Error("start dependents", zap.Error(err))
		return fmt.Errorf("start dependents: %w", err)
	}
	return nil
}

func (a *Activator) lifecycle(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.LifecycleTimeout)
	defer cancel()
	return fn(ctx)
}

func (a *Activator) waitHealthy(ctx context.Context, log *zap.Logger) bool {
	for attempt := 1; attempt <= a.opts.HealthAttempts; attempt++ {
		ictx, cancel := context.WithTimeout(ctx, a.opts.EngineTimeout)
		c, err := a.eng.Inspect(ictx, a.opts.Gateway)
		cancel()
		if err == nil && c.Healthy() {
			log.Info("gateway healthy", zap.Int("attempt", attempt))
			return true
		}
		if attempt < a.opts.HealthAttempts {
			time.Sleep(a.opts.HealthInterval)
		}
	}
	return false
}

func lookupMessage(name string, err error) string {
	switch {
	case errors.Is(err, profile.ErrInvalidName):
		return fmt.Sprintf("invalid profile name %q", name)
	case errors.Is(err, ErrProfileNotFound):
		return fmt.Sprintf("profile %q not found", name)
	}
	return fmt.Sprintf("failed to read profile %q", name)
}

func activationResult(res Result, err error) string {
	switch {
	case errors.Is(err, ErrLockBusy):
		return "busy"
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, profile.ErrInvalidName):
		return "rejected"
	case err != nil:
		return "error"
	case !res.Healthy:
		return "unhealthy"
	}
	return "success"
}
