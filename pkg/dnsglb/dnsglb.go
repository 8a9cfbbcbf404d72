// Package dnsglb is the DNS/global load balancer adapter (spec §6
// "DNS/GLB capability"): origin pools and the records pointing at them
// are only touched when a service declares a domain and its zone set
// has two or more members (spec §3) — a single-zone service is reached
// directly, never through this adapter.
package dnsglb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// Provider is the capability the Deployment Engine consumes whenever a
// rollout spans more than one zone for a domain-bearing service.
type Provider interface {
	UpsertOriginPool(ctx context.Context, name string, origins []string, healthPath string) error
	UpsertRecord(ctx context.Context, fqdn string, pool string) error
}

// Validate rejects a malformed FQDN before it reaches a paid API call.
func Validate(fqdn string) error {
	if fqdn == "" {
		return forgeerr.New(forgeerr.ConfigError, "fqdn must not be empty")
	}
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return forgeerr.New(forgeerr.ConfigError, "not a valid domain name: "+fqdn)
	}
	if _, err := dns.NewRR(fmt.Sprintf("%s 60 IN A 0.0.0.0", dns.Fqdn(fqdn))); err != nil {
		return forgeerr.Wrap(forgeerr.ConfigError, "not a valid zone name: "+fqdn, err)
	}
	return nil
}

// CloudflareProvider implements Provider over Cloudflare's Load
// Balancing and DNS record APIs.
type CloudflareProvider struct {
	apiToken  string
	accountID string
	zoneID    string
	baseURL   string
	client    *http.Client
}

// NewCloudflareProvider builds a CloudflareProvider. apiToken
// authenticates as a bearer token; accountID scopes the load balancer
// pool API, zoneID scopes the DNS record API.
func NewCloudflareProvider(apiToken, accountID, zoneID string) *CloudflareProvider {
	return &CloudflareProvider{
		apiToken:  apiToken,
		accountID: accountID,
		zoneID:    zoneID,
		baseURL:   "https://api.cloudflare.com/client/v4",
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type cfPool struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Enabled     bool           `json:"enabled"`
	Monitor     string         `json:"monitor,omitempty"`
	Origins     []cfPoolOrigin `json:"origins"`
	CheckRegion string         `json:"check_regions,omitempty"`
}

type cfPoolOrigin struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

type cfEnvelope struct {
	Success bool              `json:"success"`
	Errors  []json.RawMessage `json:"errors"`
	Result  json.RawMessage   `json:"result"`
}

// UpsertOriginPool creates or updates a Cloudflare load balancer pool
// named name whose members are origins, health-checked on healthPath.
func (c *CloudflareProvider) UpsertOriginPool(ctx context.Context, name string, origins []string, healthPath string) error {
	existing, err := c.findPoolByName(ctx, name)
	if err != nil {
		return err
	}

	pool := cfPool{Name: name, Enabled: true}
	for _, origin := range origins {
		pool.Origins = append(pool.Origins, cfPoolOrigin{Name: origin, Address: origin, Enabled: true})
	}

	if existing != "" {
		pool.ID = existing
		url := fmt.Sprintf("%s/accounts/%s/load_balancers/pools/%s", c.baseURL, c.accountID, existing)
		return c.do(ctx, http.MethodPut, url, pool, nil)
	}

	url := fmt.Sprintf("%s/accounts/%s/load_balancers/pools", c.baseURL, c.accountID)
	return c.do(ctx, http.MethodPost, url, pool, nil)
}

func (c *CloudflareProvider) findPoolByName(ctx context.Context, name string) (string, error) {
	url := fmt.Sprintf("%s/accounts/%s/load_balancers/pools", c.baseURL, c.accountID)
	var pools []cfPool
	if err := c.do(ctx, http.MethodGet, url, nil, &pools); err != nil {
		return "", err
	}
	for _, p := range pools {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return "", nil
}

type cfRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// UpsertRecord points fqdn at pool via a Cloudflare proxied CNAME, so
// Cloudflare's own load balancer steers requests across the pool's
// healthy origins rather than any single zone's IP.
func (c *CloudflareProvider) UpsertRecord(ctx context.Context, fqdn string, pool string) error {
	if err := Validate(fqdn); err != nil {
		return err
	}

	existing, err := c.findRecordByName(ctx, fqdn)
	if err != nil {
		return err
	}

	rec := cfRecord{Type: "CNAME", Name: strings.TrimSuffix(fqdn, "."), Content: pool, TTL: 60, Proxied: true}

	if existing != "" {
		rec.ID = existing
		url := fmt.Sprintf("%s/zones/%s/dns_records/%s", c.baseURL, c.zoneID, existing)
		return c.do(ctx, http.MethodPut, url, rec, nil)
	}

	url := fmt.Sprintf("%s/zones/%s/dns_records", c.baseURL, c.zoneID)
	return c.do(ctx, http.MethodPost, url, rec, nil)
}

func (c *CloudflareProvider) findRecordByName(ctx context.Context, fqdn string) (string, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records?name=%s", c.baseURL, c.zoneID, strings.TrimSuffix(fqdn, "."))
	var records []cfRecord
	if err := c.do(ctx, http.MethodGet, url, nil, &records); err != nil {
		return "", err
	}
	for _, r := range records {
		if r.Name == strings.TrimSuffix(fqdn, ".") {
			return r.ID, nil
		}
	}
	return "", nil
}

// do issues an authenticated Cloudflare API call, decoding the
// envelope's "result" field into out when non-nil.
func (c *CloudflareProvider) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return forgeerr.Wrap(forgeerr.ConfigError, "marshal cloudflare request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "build cloudflare request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return forgeerr.Transient("cloudflare API request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return forgeerr.Transient("read cloudflare response", err)
	}

	if resp.StatusCode >= 500 {
		return forgeerr.Transient(fmt.Sprintf("cloudflare API %d: %s", resp.StatusCode, raw), nil)
	}
	if resp.StatusCode >= 400 {
		return forgeerr.Permanent(fmt.Sprintf("cloudflare API %d: %s", resp.StatusCode, raw), nil)
	}

	var env cfEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "decode cloudflare envelope", err)
	}
	if !env.Success {
		return forgeerr.New(forgeerr.ProviderErrorPermanent, fmt.Sprintf("cloudflare API reported failure: %s", env.Errors))
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return forgeerr.Wrap(forgeerr.TransportError, "decode cloudflare result", err)
		}
	}
	return nil
}
