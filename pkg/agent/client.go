package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// Client calls another host's Agent HTTP surface. The Health Monitor
// leader is the only caller (spec §4.I: "Endpoints are invoked by the
// Monitor leader; they never initiate outbound calls beyond heartbeat").
type Client struct {
	secret string
	http   *http.Client
}

// NewClient builds a Client carrying the cluster's shared secret.
func NewClient(sharedSecret string) *Client {
	return &Client{secret: sharedSecret, http: &http.Client{}}
}

func (c *Client) do(ctx context.Context, method, addr, path string, body any, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, forgeerr.Wrap(forgeerr.TransportError, "marshal agent request to "+addr, err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("http://%s%s", addr, path), reader)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.TransportError, "build agent request to "+addr, err)
	}
	req.Header.Set(AuthHeader, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.TransportError, "call agent "+path+" on "+addr, err).OnHost(addr)
	}
	return resp, nil
}

// Health calls GET /health on addr with a 5s timeout (spec §4.I step 2).
func (c *Client) Health(ctx context.Context, addr string) (HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, addr, "/health", nil, 5*time.Second)
	if err != nil {
		return HealthResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, forgeerr.New(forgeerr.TransportError, "agent health on "+addr+" returned "+resp.Status).OnHost(addr)
	}
	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return HealthResponse{}, forgeerr.Wrap(forgeerr.TransportError, "decode agent health from "+addr, err).OnHost(addr)
	}
	return out, nil
}

// Restart calls POST /restart on addr (spec §4.I "Stage 1").
func (c *Client) Restart(ctx context.Context, addr, containerName string) error {
	resp, err := c.do(ctx, http.MethodPost, addr, "/restart", RestartRequest{ContainerName: containerName}, restartTimeout+5*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return forgeerr.New(forgeerr.TransportError, "agent restart on "+addr+" returned "+resp.Status).OnHost(addr)
	}
	return nil
}

// Deploy calls POST /deploy on addr (spec §4.I "Stage 2" redeploy step).
func (c *Client) Deploy(ctx context.Context, addr string, spec ContainerSpecDTO) error {
	resp, err := c.do(ctx, http.MethodPost, addr, "/deploy", DeployRequest{ContainerSpec: spec}, 2*time.Minute)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return forgeerr.New(forgeerr.TransportError, "agent deploy on "+addr+" returned "+resp.Status).OnHost(addr)
	}
	return nil
}

// ReloadSidecar calls POST /reload_sidecar on addr.
func (c *Client) ReloadSidecar(ctx context.Context, addr string) error {
	resp, err := c.do(ctx, http.MethodPost, addr, "/reload_sidecar", nil, 15*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return forgeerr.New(forgeerr.TransportError, "agent reload_sidecar on "+addr+" returned "+resp.Status).OnHost(addr)
	}
	return nil
}
