// Package wireguard parses `wg show` output into peer liveness and
// transfer counters.
package wireguard

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LivenessThreshold is the handshake age under which a peer counts as
// connected. WireGuard re-handshakes every two minutes on an active session.
const LivenessThreshold = 180 * time.Second

// Peer is one peer line of `wg show <iface> dump`.
type Peer struct {
	PublicKey  string
	Endpoint   string
	AllowedIPs string
	// LatestHandshake is zero when the peer never completed a handshake.
	LatestHandshake time.Time
	RxBytes         uint64
	TxBytes         uint64
}

// ParseDump parses `wg show <iface> dump` and `wg show all dump`.
// The first line describes the interface and is skipped; malformed lines
// are ignored and non-numeric fields read as zero.
func ParseDump(dump string) []Peer {
	var peers []Peer
	lines := strings.Split(strings.TrimSpace(dump), "\n")
	if len(lines) < 2 {
		return peers
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		// `all dump` prefixes every line with the interface name.
		if len(fields) == 9 {
			fields = fields[1:]
		}
		if len(fields) != 8 || fields[0] == "" {
			continue
		}
		p := Peer{
			PublicKey:       fields[0],
			AllowedIPs:      fields[3],
			LatestHandshake: unixTime(fields[4]),
			RxBytes:         parseUint(fields[5]),
			TxBytes:         parseUint(fields[6]),
		}
		if ep := fields[2]; ep != "(none)" && ep != "0.0.0.0:0" && ep != "[::]:0" {
			p.Endpoint = ep
		}
		peers = append(peers, p)
	}
	return peers
}

// ParseLatestHandshakes parses `wg show <iface> latest-handshakes` into
// public key -> handshake time. Peers without a handshake map to zero.
func ParseLatestHandshakes(out string) map[string]time.Time {
	hs := map[string]time.Time{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		hs[fields[0]] = unixTime(fields[1])
	}
	return hs
}

// Latest returns the most recent handshake, or zero.
func Latest(hs map[string]time.Time) time.Time {
	var latest time.Time
	for _, t := range hs {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Connected counts peers whose handshake is younger than threshold.
func Connected(peers []Peer, now time.Time, threshold time.Duration) int {
	n := 0
	for _, p := range peers {
		if !p.LatestHandshake.IsZero() && now.Sub(p.LatestHandshake) < threshold {
			n++
		}
	}
	return n
}

// Transfer sums rx/tx over all peers.
func Transfer(peers []Peer) (rx, tx uint64) {
	for _, p := range peers {
		rx += p.RxBytes
		tx += p.TxBytes
	}
	return rx, tx
}

// HandshakeAgo renders the age of t for display, "Never" for zero.
func HandshakeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds ago", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd ago", int(d.Hours())/24)
}

func unixTime(s string) time.Time {
	sec := parseUint(s)
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0)
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
