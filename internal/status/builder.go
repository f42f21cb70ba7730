package status

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hubctl/internal/control"
	"hubctl/internal/counter"
	"hubctl/internal/engine"
	"hubctl/internal/health"
	"hubctl/internal/model"
	"hubctl/internal/profile"
	"hubctl/internal/telemetry"
	"hubctl/internal/wireguard"
)

// Counter keys.
const (
	KeyGateway = "gateway"
	KeyInbound = "inbound"
)

// HostDiscoverer resolves the inbound gateway's advertised host.
type HostDiscoverer interface {
	Host(ctx context.Context) string
}

// Deps are the collaborators a Builder reads from.
type Deps struct {
	Engine     engine.Engine
	Control    *control.Client
	Profiles   *profile.Store
	Classifier *health.Classifier
	Counters   *counter.Engine
	// Hosts is consulted when no inbound host is configured. Optional.
	Hosts HostDiscoverer
}

type Options struct {
	Gateway          string // container name
	GatewayInterface string
	Inbound          string // container name
	InboundInterface string
	// InboundHost is the configured advertised host.
	InboundHost   string
	Services      []model.Service
	EngineTimeout time.Duration
	// Timeout bounds a whole Build.
	Timeout time.Duration
}

type Builder struct {
	deps    Deps
	opts    Options
	log     *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewBuilder(deps Deps, opts Options, log *zap.Logger, metrics *telemetry.Metrics) *Builder {
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Counters == nil {
		deps.Counters = counter.NewEngine(nil, log)
	}
	return &Builder{deps: deps, opts: opts, log: log, metrics: metrics, now: time.Now}
}

// grace is how long Build waits past Timeout for sections to hand over what
// they have before falling back to defaults.
const grace = 250 * time.Millisecond

// Build never fails. Sections run concurrently under one deadline; a section
// that errors, panics or misses the deadline keeps its default values.
func (b *Builder) Build(ctx context.Context) (snap Snapshot) {
	start := time.Now()
	snap = Default(b.opts.Services)
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("status build panicked", zap.Any("panic", r))
			snap = Default(b.opts.Services)
		}
		b.metrics.ObserveSnapshot(time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	gwCh := make(chan Gateway, 1)
	inCh := make(chan Inbound, 1)
	svcCh := make(chan health.Result, 1)
	failCh := make(chan string, 3)
	b.section(failCh, "gateway", func() { gwCh <- b.gateway(ctx) })
	b.section(failCh, "inbound", func() { inCh <- b.inbound(ctx) })
	if b.deps.Classifier != nil && len(b.opts.Services) > 0 {
		b.section(failCh, "services", func() { svcCh <- b.deps.Classifier.Classify(ctx, b.opts.Services) })
	} else {
		svcCh <- health.Result{}
	}

	deadline := time.NewTimer(b.opts.Timeout + grace)
	defer deadline.Stop()
collect:
	for pending := 3; pending > 0; pending-- {
		select {
		case gw := <-gwCh:
			snap.Gateway = gw
		case in := <-inCh:
			snap.Inbound = in
		case res := <-svcCh:
			for name, st := range res.Services {
				snap.Services[name] = st
			}
			for name, d := range res.Details {
				if d = Sanitize(d); d != "" {
					snap.HealthDetails[name] = d
				}
			}
		case <-failCh:
		case <-deadline.C:
			b.log.Warn("status build deadline exceeded", zap.Int("pending_sections", pending))
			break collect
		}
	}

	for name, st := range snap.Services {
		b.metrics.SetServiceStatus(name, st)
	}
	b.metrics.SetLifetime(KeyGateway, snap.Gateway.TotalRx, snap.Gateway.TotalTx)
	b.metrics.SetLifetime(KeyInbound, snap.Inbound.TotalRx, snap.Inbound.TotalTx)
	snap.GeneratedAt = b.now().UTC()
	return snap
}

// section runs fn in its own goroutine. A panic leaves the section's
// defaults in place and is reported on failed.
func (b *Builder) section(failed chan<- string, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("status section panicked", zap.String("section", name), zap.Any("panic", r))
				failed <- name
			}
		}()
		fn()
	}()
}

func (b *Builder) gateway(ctx context.Context) Gateway {
	gw := defaultGateway()
	gw.ActiveProfile, gw.Endpoint = b.activeProfile()

	ctr, err := b.inspect(ctx, b.opts.Gateway)
	if err != nil || !ctr.Running {
		if err != nil {
			b.log.Warn("inspect gateway", zap.Error(err))
		}
		r := b.deps.Counters.Peek(ctx, KeyGateway)
		gw.TotalRx, gw.TotalTx = r.TotalRx, r.TotalTx
		return gw
	}
	gw.Status = model.StatusUp

	var (
		vpnStatus string
		publicIP  string
		handshake = Placeholder
		raw       counter.Raw
		rawErr    error
	)
	var g errgroup.Group
	if c := b.deps.Control; c != nil {
		g.Go(func() error {
			s, err := c.VPNStatus(ctx)
			if err != nil {
				b.log.Warn("gateway vpn status", zap.Error(err))
			}
			vpnStatus = s
			return nil
		})
		g.Go(func() error {
			ip, err := c.PublicIP(ctx)
			if err != nil {
				b.log.Warn("gateway public ip", zap.Error(err))
			}
			publicIP = ip
			return nil
		})
	}
	g.Go(func() error {
		out, err := b.exec(ctx, b.opts.Gateway, "wg", "show", b.opts.GatewayInterface, "latest-handshakes")
		if err != nil {
			b.log.Warn("gateway handshakes", zap.Error(err))
			return nil
		}
		handshake = wireguard.HandshakeAgo(wireguard.Latest(wireguard.ParseLatestHandshakes(out)), b.now())
		return nil
	})
	g.Go(func() error {
		raw, rawErr = b.interfaceCounters(ctx)
		return nil
	})
	_ = g.Wait()

	gw.Healthy = ctr.Healthy() && vpnStatus == control.VPNRunning
	gw.PublicIP = text(publicIP)
	gw.HandshakeAgo = text(handshake)

	var r counter.Reading
	switch {
	case rawErr != nil:
		b.log.Warn("gateway counters", zap.Error(rawErr))
		r = b.deps.Counters.Peek(ctx, KeyGateway)
	case !b.sameEpoch(ctx, b.opts.Gateway, ctr.StartedAt):
		r = b.deps.Counters.Peek(ctx, KeyGateway)
	default:
		raw.Epoch = ctr.StartedAt
		r = b.deps.Counters.Sample(ctx, KeyGateway, raw)
	}
	gw.SessionRx, gw.SessionTx = r.SessionRx, r.SessionTx
	gw.TotalRx, gw.TotalTx = r.TotalRx, r.TotalTx
	return gw
}

// interfaceCounters reads the gateway tunnel interface byte counters.
func (b *Builder) interfaceCounters(ctx context.Context) (counter.Raw, error) {
	dir := path.Join("/sys/class/net", b.opts.GatewayInterface, "statistics")
	out, err := b.exec(ctx, b.opts.Gateway, "cat", path.Join(dir, "rx_bytes"), path.Join(dir, "tx_bytes"))
	if err != nil {
		return counter.Raw{}, err
	}
	lines := strings.Fields(out)
	if len(lines) != 2 {
		return counter.Raw{}, fmt.Errorf("unexpected counter output %q", out)
	}
	return counter.Raw{Rx: counter.ParseUint(lines[0]), Tx: counter.ParseUint(lines[1])}, nil
}

func (b *Builder) inbound(ctx context.Context) Inbound {
	in := defaultInbound()
	in.Host = text(b.inboundHost(ctx))

	ctr, err := b.inspect(ctx, b.opts.Inbound)
	if err == nil && ctr.Running {
		in.Status = model.StatusUp
		out, dumpErr := b.exec(ctx, b.opts.Inbound, "wg", "show", b.opts.InboundInterface, "dump")
		if dumpErr == nil {
			peers := wireguard.ParseDump(out)
			in.Clients = len(peers)
			in.Connected = wireguard.Connected(peers, b.now(), wireguard.LivenessThreshold)
			var r counter.Reading
			if b.sameEpoch(ctx, b.opts.Inbound, ctr.StartedAt) {
				rx, tx := wireguard.Transfer(peers)
				r = b.deps.Counters.Sample(ctx, KeyInbound, counter.Raw{Rx: rx, Tx: tx, Epoch: ctr.StartedAt})
			} else {
				r = b.deps.Counters.Peek(ctx, KeyInbound)
			}
			in.SessionRx, in.SessionTx = r.SessionRx, r.SessionTx
			in.TotalRx, in.TotalTx = r.TotalRx, r.TotalTx
			return in
		}
		err = dumpErr
	}
	if err != nil {
		b.log.Warn("inbound gateway", zap.Error(err))
	}
	r := b.deps.Counters.Peek(ctx, KeyInbound)
	in.TotalRx, in.TotalTx = r.TotalRx, r.TotalTx
	return in
}

// sameEpoch reports whether name is still the container instance that
// started at epoch. Counters read across a restart belong to neither
// instance and are not sampled.
func (b *Builder) sameEpoch(ctx context.Context, name, epoch string) bool {
	ctr, err := b.inspect(ctx, name)
	if err != nil || !ctr.Running || ctr.StartedAt != epoch {
		b.log.Info("container restarted during counter read; sample skipped",
			zap.String("container", name),
			zap.String("epoch", epoch),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (b *Builder) inboundHost(ctx context.Context) string {
	if b.opts.InboundHost != "" {
		return b.opts.InboundHost
	}
	if b.deps.Hosts == nil {
		return ""
	}
	return b.deps.Hosts.Host(ctx)
}

func (b *Builder) activeProfile() (name, endpoint string) {
	if b.deps.Profiles == nil {
		return Placeholder, Placeholder
	}
	active, err := b.deps.Profiles.Active()
	if err != nil {
		b.log.Warn("active profile", zap.Error(err))
		return Placeholder, Placeholder
	}
	if active == "" {
		return Placeholder, Placeholder
	}
	p, err := b.deps.Profiles.Get(active)
	if err != nil {
		b.log.Warn("active profile config", zap.String("profile", active), zap.Error(err))
		return text(active), Placeholder
	}
	return text(active), text(profile.EndpointOf(p.Config))
}

func (b *Builder) inspect(ctx context.Context, name string) (engine.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.EngineTimeout)
	defer cancel()
	return b.deps.Engine.Inspect(ctx, name)
}

func (b *Builder) exec(ctx context.Context, name string, cmd ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.EngineTimeout)
	defer cancel()
	return b.deps.Engine.Exec(ctx, name, cmd...)
}
