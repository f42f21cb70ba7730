// Package poller owns the periodic status build. It is the only writer of
// the persisted counters; readers get the cached snapshot.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hubctl/internal/metrics"
	"hubctl/internal/model"
	"hubctl/internal/status"
)

// Source builds a fresh snapshot.
type Source interface {
	Build(ctx context.Context) status.Snapshot
}

type Options struct {
	Interval time.Duration
	// MaxAge is how old the cached snapshot may be before Latest rebuilds.
	// Default is twice Interval.
	MaxAge time.Duration
	// UsageLog, when set, receives one usage row per source per poll.
	UsageLog string
}

type Poller struct {
	src  Source
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	latest   status.Snapshot
	latestAt time.Time
	has      bool
}

func New(src Source, opts Options, log *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 2 * opts.Interval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{src: src, opts: opts, log: log, now: time.Now}
}

// Run polls immediately and then every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.Poll(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.log.Info("poller started", zap.Duration("interval", p.opts.Interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll builds, caches and records one snapshot.
func (p *Poller) Poll(ctx context.Context) status.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollLocked(ctx)
}

// Latest returns the cached snapshot, building one synchronously when the
// cache is empty or older than MaxAge.
func (p *Poller) Latest(ctx context.Context) status.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.has && p.now().Sub(p.latestAt) <= p.opts.MaxAge {
		return p.latest
	}
	return p.pollLocked(ctx)
}

func (p *Poller) pollLocked(ctx context.Context) status.Snapshot {
	snap := p.src.Build(ctx)
	p.latest = snap
	p.latestAt = p.now()
	p.has = true

	if p.opts.UsageLog != "" {
		if err := metrics.AppendCSV(p.opts.UsageLog, usageRows(snap)); err != nil {
			p.log.Warn("append usage log", zap.String("path", p.opts.UsageLog), zap.Error(err))
		}
	}
	return snap
}

func usageRows(snap status.Snapshot) []model.UsageSample {
	ts := snap.GeneratedAt
	return []model.UsageSample{
		{
			Timestamp: ts,
			Source:    status.KeyGateway,
			SessionRx: snap.Gateway.SessionRx,
			SessionTx: snap.Gateway.SessionTx,
			TotalRx:   snap.Gateway.TotalRx,
			TotalTx:   snap.Gateway.TotalTx,
		},
		{
			Timestamp: ts,
			Source:    status.KeyInbound,
			SessionRx: snap.Inbound.SessionRx,
			SessionTx: snap.Inbound.SessionTx,
			TotalRx:   snap.Inbound.TotalRx,
			TotalTx:   snap.Inbound.TotalTx,
		},
	}
}
