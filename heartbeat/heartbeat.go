// Package heartbeat pings a dead man's switch endpoint after a successful run.
package heartbeat

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Result describes one ping.
type Result struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}

// Pinger sends heartbeats to a fixed endpoint.
type Pinger struct {
	Endpoint   string
	HTTPClient *http.Client
}

// New returns a Pinger for endpoint.
func New(endpoint string) *Pinger {
	return &Pinger{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping sends a GET request to the endpoint.
func (p *Pinger) Ping(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("User-Agent", "xkcd-vk")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("heartbeat %s: HTTP error: %s", p.Endpoint, resp.Status)
	}

	return &Result{
		Endpoint: p.Endpoint,
		Status:   resp.Status,
	}, nil
}
