// Package stunutil discovers the host's public address with STUN binding
// requests.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"

	"hubctl/internal/addrutil"
)

// DefaultServers are used when none are configured.
var DefaultServers = []string{"stun.l.google.com:19302", "stun.cloudflare.com:3478"}

// retryAfter spaces out lookups after a failure.
const retryAfter = time.Minute

// BindFunc returns the mapped "ip:port" a STUN server observed.
type BindFunc func(ctx context.Context, server string, timeout time.Duration) (string, error)

// Discoverer resolves and caches the public host. The first successful
// answer is kept for the life of the process.
type Discoverer struct {
	servers []string
	timeout time.Duration
	bind    BindFunc
	log     *zap.Logger

	mu       sync.Mutex
	host     string
	failedAt time.Time
}

func NewDiscoverer(servers []string, timeout time.Duration, log *zap.Logger) *Discoverer {
	if len(servers) == 0 {
		servers = DefaultServers
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{servers: servers, timeout: timeout, bind: Bind, log: log}
}

// WithBind replaces the STUN round trip, for tests.
func (d *Discoverer) WithBind(fn BindFunc) *Discoverer {
	d.bind = fn
	return d
}

// Host returns the public host, or "" if it is not known yet.
func (d *Discoverer) Host(ctx context.Context) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.host != "" {
		return d.host
	}
	if !d.failedAt.IsZero() && time.Since(d.failedAt) < retryAfter {
		return ""
	}

	var errs []error
	for _, server := range d.servers {
		mapped, err := d.bind(ctx, server, d.timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		if host := addrutil.HostOf(mapped); host != "" {
			d.host = host
			d.log.Info("public host discovered", zap.String("host", host), zap.String("server", server))
			return host
		}
	}
	d.failedAt = time.Now()
	d.log.Warn("stun discovery failed", zap.Error(errors.Join(errs...)))
	return ""
}

// Bind sends one binding request to server and returns the XOR-mapped address.
func Bind(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	type answer struct {
		addr string
		err  error
	}
	// Both the callback and Do itself may report.
	done := make(chan answer, 2)
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	go func() {
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				done <- answer{err: res.Error}
				return
			}
			var addr stun.XORMappedAddress
			if err := addr.GetFrom(res.Message); err != nil {
				done <- answer{err: err}
				return
			}
			done <- answer{addr: addr.String()}
		})
		if err != nil {
			done <- answer{err: err}
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case a := <-done:
		return a.addr, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
