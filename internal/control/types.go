package control

// VPNStatusResponse is returned by GET /v1/vpn/status.
type VPNStatusResponse struct {
	Status string `json:"status"`
}

// PublicIPResponse is returned by GET /v1/publicip/ip.
type PublicIPResponse struct {
	PublicIP string `json:"public_ip"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
}

// VPNRunning is the status value of an established tunnel.
const VPNRunning = "running"
