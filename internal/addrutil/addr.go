package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// Target builds the "host:port" dial address for a TCP reachability probe.
//
// host may be a bare host, an IP, or an address that already carries a port
// (e.g. a gateway address copied from a compose file); any port it carries is
// replaced by port.
func Target(host string, port int) (string, bool) {
	if port <= 0 || port > 65535 {
		return "", false
	}
	h := HostOf(host)
	if h == "" {
		return "", false
	}
	return net.JoinHostPort(h, strconv.Itoa(port)), true
}

// HostOf returns the host part of addr, accepting "host:port", bracketed or
// unbracketed IPv6 and bare hosts.
func HostOf(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// A bare IPv6 address must not lose its last group to the port check.
	if ip := net.ParseIP(strings.Trim(a, "[]")); ip != nil {
		return ip.String()
	}

	// Handle unbracketed IPv6 "host:port" by peeling off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				return a[:last]
			}
		}
	}

	if strings.Contains(a, ":") {
		return strings.Trim(a, "[]")
	}
	return a
}
