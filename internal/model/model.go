package model

import "time"

// Status is the classification of a dependent service.
type Status string

const (
	StatusUp        Status = "up"
	StatusDown      Status = "down"
	StatusUnhealthy Status = "unhealthy"
	StatusStarting  Status = "starting"
)

// Service is a registered dependent service checked on every poll.
type Service struct {
	Name string
	// Container is the engine-level container name.
	Container string
	Port      int
	// Host overrides the probe host. Empty means the container name.
	Host string
	// VPNRouted services share the tunnel gateway's network namespace and are
	// reached through the gateway's address.
	VPNRouted bool
}

// ServiceHealth is the per-poll result for one service.
type ServiceHealth struct {
	Name   string
	Port   int
	Status Status
	Detail string
}

// UsageSample is a single row of the data-usage history.
type UsageSample struct {
	Timestamp time.Time
	Source    string // gateway|inbound
	SessionRx uint64
	SessionTx uint64
	TotalRx   uint64
	TotalTx   uint64
}
