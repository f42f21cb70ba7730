// Package health classifies dependent services through an ordered chain of
// strategies backed by container-engine state and TCP probes.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hubctl/internal/addrutil"
	"hubctl/internal/engine"
	"hubctl/internal/model"
)

type Options struct {
	// GatewayAddress is the probe host for VPN-routed services.
	GatewayAddress string
	Workers        int
	EngineTimeout  time.Duration
	// Strategies overrides DefaultStrategies.
	Strategies []Strategy
}

type Classifier struct {
	eng    engine.Engine
	prober Prober
	opts   Options
	log    *zap.Logger
}

// Result holds the per-service status and the optional detail for
// unhealthy services.
type Result struct {
	Services map[string]model.Status
	Details  map[string]string
	Records  []model.ServiceHealth
}

func New(eng engine.Engine, prober Prober, opts Options, log *zap.Logger) *Classifier {
	if prober == nil {
		prober = TCPProber{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = 5 * time.Second
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{eng: eng, prober: prober, opts: opts, log: log}
}

// Classify checks every service concurrently. It never fails; a service
// that cannot be assessed is reported down.
func (c *Classifier) Classify(ctx context.Context, services []model.Service) Result {
	records := make([]model.ServiceHealth, len(services))

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, svc := range services {
		g.Go(func() error {
			records[i] = c.classifyOne(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Services: make(map[string]model.Status, len(records)),
		Details:  map[string]string{},
		Records:  records,
	}
	for _, r := range records {
		res.Services[r.Name] = r.Status
		if r.Detail != "" {
			res.Details[r.Name] = r.Detail
		}
	}
	return res
}

func (c *Classifier) classifyOne(ctx context.Context, svc model.Service) model.ServiceHealth {
	out := model.ServiceHealth{Name: svc.Name, Port: svc.Port, Status: model.StatusDown}
	if ctx.Err() != nil {
		return out
	}
	container := containerName(svc)

	ictx, cancel := context.WithTimeout(ctx, c.opts.EngineTimeout)
	ctr, err := c.eng.Inspect(ictx, container)
	cancel()

	target, ok := c.target(svc)
	obs := Observation{
		Service:    svc,
		Container:  ctr,
		InspectErr: err,
		Probe: func(ctx context.Context) error {
			if !ok {
				return fmt.Errorf("%s: no probe target", svc.Name)
			}
			return c.prober.Probe(ctx, target)
		},
	}
	for _, strategy := range c.opts.Strategies {
		if status, decisive := strategy(ctx, obs); decisive {
			out.Status = status
			break
		}
	}

	if err != nil {
		c.log.Debug("inspect service", zap.String("service", svc.Name), zap.Error(err))
	}
	if out.Status == model.StatusUnhealthy {
		out.Detail = c.detail(ctx, container)
	}
	return out
}

func (c *Classifier) target(svc model.Service) (string, bool) {
	host := svc.Host
	if svc.VPNRouted {
		host = c.opts.GatewayAddress
	}
	if host == "" {
		host = containerName(svc)
	}
	return addrutil.Target(host, svc.Port)
}

// detail is the last log line of the container, or "" if unavailable.
func (c *Classifier) detail(ctx context.Context, container string) string {
	ctx, cancel := context.WithTimeout(ctx, c.opts.EngineTimeout)
	defer cancel()
	line, err := c.eng.LogTail(ctx, container)
	if err != nil {
		c.log.Debug("log tail", zap.String("container", container), zap.Error(err))
		return ""
	}
	return line
}

func containerName(svc model.Service) string {
	if svc.Container != "" {
		return svc.Container
	}
	return svc.Name
}
