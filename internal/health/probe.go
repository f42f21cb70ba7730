package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrProbeTimeout is returned when a probe did not complete within its window.
var ErrProbeTimeout = errors.New("probe timed out")

// Prober checks whether addr accepts connections.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// TCPProber dials addr and closes the connection right away.
type TCPProber struct {
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context, addr string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("%w: %s after %s", ErrProbeTimeout, addr, timeout)
		}
		return err
	}
	return conn.Close()
}
