package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"hubctl/internal/activator"
	"hubctl/internal/config"
	"hubctl/internal/control"
	"hubctl/internal/counter"
	"hubctl/internal/engine"
	"hubctl/internal/execx"
	"hubctl/internal/health"
	"hubctl/internal/lock"
	"hubctl/internal/profile"
	"hubctl/internal/status"
	"hubctl/internal/store"
	"hubctl/internal/stunutil"
	"hubctl/internal/telemetry"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       config.Config
	log       *zap.Logger
	metrics   *telemetry.Metrics
	engine    engine.Engine
	profiles  *profile.Store
	activator *activator.Activator
	builder   *status.Builder

	redis map[string]redis.UniversalClient
}

func newApp(cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: telemetry.New(),
		redis:   map[string]redis.UniversalClient{},
	}

	docker := engine.NewDocker(execx.NewOSRunner(nil, nil), engine.DockerOptions{
		ComposeFile:    cfg.Gateway.ComposeFile,
		ComposeProject: cfg.Gateway.ComposeProject,
		Prefix:         cfg.ContainerPrefix,
	})
	a.engine = engine.NewBreaker(docker, engine.BreakerOptions{
		MaxFailures: uint32(cfg.Breaker.MaxFailures),
		OpenTimeout: cfg.Breaker.OpenTimeout.Std(),
		OnStateChange: func(from, to gobreaker.State) {
			log.Warn("container engine breaker", zap.String("from", from.String()), zap.String("to", to.String()))
			a.metrics.SetBreakerState(int(to))
		},
	})

	a.profiles = profile.NewStore(cfg.ProfilesDir)

	locker, err := a.locker()
	if err != nil {
		return nil, err
	}
	gateway := cfg.ContainerName(cfg.Gateway.Service)
	a.activator = activator.New(a.profiles, a.engine, locker, activator.Options{
		Gateway:          gateway,
		Dependents:       cfg.DependentContainers(),
		HealthAttempts:   cfg.Gateway.HealthAttempts,
		HealthInterval:   cfg.Gateway.HealthInterval.Std(),
		EngineTimeout:    cfg.Timeouts.Engine.Std(),
		LifecycleTimeout: cfg.Timeouts.Lifecycle.Std(),
	}, log.Named("activator"), a.metrics)

	counterStore, err := a.counterStore()
	if err != nil {
		return nil, err
	}
	counters := counter.NewEngine(counterStore, log.Named("counter"))
	counters.OnReset = a.metrics.CounterReset

	var transport control.Transport
	switch cfg.Gateway.ControlMode {
	case config.ControlModeHTTP:
		transport = control.NewHTTPTransport(cfg.Gateway.ControlURL, &http.Client{Timeout: cfg.Timeouts.Control.Std()})
	default:
		transport = control.NewExecTransport(a.engine, gateway, cfg.Gateway.ControlURL)
	}

	classifier := health.New(a.engine, health.TCPProber{Timeout: cfg.Timeouts.Probe.Std()}, health.Options{
		GatewayAddress: cfg.GatewayAddress(),
		Workers:        cfg.ProbeWorkers,
		EngineTimeout:  cfg.Timeouts.Engine.Std(),
	}, log.Named("health"))

	deps := status.Deps{
		Engine:     a.engine,
		Control:    control.NewClient(transport, cfg.Timeouts.Control.Std()),
		Profiles:   a.profiles,
		Classifier: classifier,
		Counters:   counters,
	}
	if cfg.Inbound.Host == "" {
		deps.Hosts = stunutil.NewDiscoverer(cfg.Inbound.STUNServers, cfg.Timeouts.Probe.Std(), log.Named("stun"))
	}
	a.builder = status.NewBuilder(deps, status.Options{
		Gateway:          gateway,
		GatewayInterface: cfg.Gateway.Interface,
		Inbound:          cfg.ContainerName(cfg.Inbound.Service),
		InboundInterface: cfg.Inbound.Interface,
		InboundHost:      cfg.Inbound.Host,
		Services:         cfg.ServiceList(),
		EngineTimeout:    cfg.Timeouts.Engine.Std(),
		Timeout:          cfg.Timeouts.Status.Std(),
	}, log.Named("status"), a.metrics)

	return a, nil
}

func (a *app) locker() (lock.Locker, error) {
	switch a.cfg.Lock.Backend {
	case config.BackendRedis:
		return lock.NewRedis(a.redisClient(a.cfg.Lock.RedisAddr), a.cfg.Lock.Key, a.cfg.Lock.TTL.Std()), nil
	case config.BackendLocal, "":
		return lock.NewLocal(), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", a.cfg.Lock.Backend)
}

func (a *app) counterStore() (counter.Store, error) {
	switch a.cfg.Counters.Backend {
	case config.BackendRedis:
		return store.NewRedisCounters(a.redisClient(a.cfg.Counters.RedisAddr), a.cfg.Counters.RedisPrefix), nil
	case config.BackendFile, "":
		return store.NewFileCounters(a.cfg.Counters.Path, a.cfg.Counters.LegacyFiles), nil
	}
	return nil, fmt.Errorf("unknown counters backend %q", a.cfg.Counters.Backend)
}

func (a *app) redisClient(addr string) redis.UniversalClient {
	if c, ok := a.redis[addr]; ok {
		return c
	}
	c := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	a.redis[addr] = c
	return c
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.redis {
		errs = append(errs, c.Close())
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}
