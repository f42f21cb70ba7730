// Package control talks to the tunnel gateway's control-plane HTTP API.
// The API listens only inside the gateway's network namespace, so the
// default transport runs wget through the container engine.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hubctl/internal/engine"
)

// Transport fetches a control API path and returns the response body.
type Transport interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Client is a thin client for the gateway control API.
type Client struct {
	t       Transport
	timeout time.Duration
}

func NewClient(t Transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{t: t, timeout: timeout}
}

// VPNStatus returns the tunnel status reported by the gateway, e.g. "running".
func (c *Client) VPNStatus(ctx context.Context) (string, error) {
	var resp VPNStatusResponse
	if err := c.getJSON(ctx, "/v1/vpn/status", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// PublicIP returns the egress address observed by the gateway.
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	var resp PublicIPResponse
	if err := c.getJSON(ctx, "/v1/publicip/ip", &resp); err != nil {
		return "", err
	}
	return resp.PublicIP, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.t.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("control %s: %w", path, err)
	}
	// wget output may carry noise around the document.
	if i, j := bytes.IndexByte(body, '{'), bytes.LastIndexByte(body, '}'); i >= 0 && j > i {
		body = body[i : j+1]
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("control %s: decode: %w", path, err)
	}
	return nil
}

// HTTPTransport reaches the control API directly.
type HTTPTransport struct {
	baseURL string
	http    *http.Client
}

func NewHTTPTransport(baseURL string, hc *http.Client) *HTTPTransport {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (t *HTTPTransport) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	res, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return nil, fmt.Errorf("request failed: %s", res.Status)
	}
	return body, nil
}

// ExecTransport fetches the API from inside the gateway container.
type ExecTransport struct {
	eng       engine.Engine
	container string
	baseURL   string
}

func NewExecTransport(eng engine.Engine, container, baseURL string) *ExecTransport {
	return &ExecTransport{eng: eng, container: container, baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *ExecTransport) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := t.eng.Exec(ctx, t.container, "wget", "-qO-", t.baseURL+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}
