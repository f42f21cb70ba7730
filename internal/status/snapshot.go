// Package status assembles the always-valid status snapshot of the tunnel
// gateway, the inbound gateway and the dependent services.
package status

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"hubctl/internal/model"
)

// Placeholder is shown for text fields that could not be determined.
const Placeholder = "--"

const maxTextLen = 256

type Gateway struct {
	Status        model.Status `json:"status"`
	Healthy       bool         `json:"healthy"`
	ActiveProfile string       `json:"active_profile"`
	Endpoint      string       `json:"endpoint"`
	PublicIP      string       `json:"public_ip"`
	HandshakeAgo  string       `json:"handshake_ago"`
	SessionRx     uint64       `json:"session_rx"`
	SessionTx     uint64       `json:"session_tx"`
	TotalRx       uint64       `json:"total_rx"`
	TotalTx       uint64       `json:"total_tx"`
}

type Inbound struct {
	Status    model.Status `json:"status"`
	Host      string       `json:"host"`
	Clients   int          `json:"clients"`
	Connected int          `json:"connected"`
	SessionRx uint64       `json:"session_rx"`
	SessionTx uint64       `json:"session_tx"`
	TotalRx   uint64       `json:"total_rx"`
	TotalTx   uint64       `json:"total_tx"`
}

// Snapshot is the read model returned by every status request.
type Snapshot struct {
	Gateway       Gateway                 `json:"gateway"`
	Inbound       Inbound                 `json:"inbound"`
	Services      map[string]model.Status `json:"services"`
	HealthDetails map[string]string       `json:"health_details"`
	GeneratedAt   time.Time               `json:"generated_at"`
}

// Default is the fully degraded snapshot: everything down, text fields set
// to Placeholder, counters zero.
func Default(services []model.Service) Snapshot {
	s := Snapshot{
		Gateway:       defaultGateway(),
		Inbound:       defaultInbound(),
		Services:      make(map[string]model.Status, len(services)),
		HealthDetails: map[string]string{},
		GeneratedAt:   time.Now().UTC(),
	}
	for _, svc := range services {
		s.Services[svc.Name] = model.StatusDown
	}
	return s
}

func defaultGateway() Gateway {
	return Gateway{
		Status:        model.StatusDown,
		ActiveProfile: Placeholder,
		Endpoint:      Placeholder,
		PublicIP:      Placeholder,
		HandshakeAgo:  Placeholder,
	}
}

func defaultInbound() Inbound {
	return Inbound{Status: model.StatusDown, Host: Placeholder}
}

// Redacted is the view for unauthenticated callers: liveness is kept,
// identity, usage and log details are reset to their defaults.
func (s Snapshot) Redacted() Snapshot {
	out := Snapshot{
		Gateway:       defaultGateway(),
		Inbound:       defaultInbound(),
		Services:      make(map[string]model.Status, len(s.Services)),
		HealthDetails: map[string]string{},
		GeneratedAt:   s.GeneratedAt,
	}
	out.Gateway.Status = s.Gateway.Status
	out.Gateway.Healthy = s.Gateway.Healthy
	out.Inbound.Status = s.Inbound.Status
	out.Inbound.Clients = s.Inbound.Clients
	out.Inbound.Connected = s.Inbound.Connected
	for k, v := range s.Services {
		out.Services[k] = v
	}
	return out
}

// Sanitize makes untrusted upstream text safe to display: invalid UTF-8 and
// control characters are dropped, whitespace runs collapse to one space and
// the result is capped in length.
func Sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), !unicode.IsPrint(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	out := b.String()
	if utf8.RuneCountInString(out) > maxTextLen {
		out = string([]rune(out)[:maxTextLen])
	}
	return out
}

// text sanitizes s and substitutes Placeholder for empty results.
func text(s string) string {
	if s = Sanitize(s); s == "" {
		return Placeholder
	}
	return s
}
