// Package client is a Go client for the attestation hub HTTP API. Logical
// attestation failures arrive as HTTP 200 with success=false; the client
// surfaces them as errors so callers never mistake a failed attestation for
// data.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// AttestationData mirrors the hub's attestation response payload.
type AttestationData struct {
	VMName                 string `json:"vm_name"`
	VMType                 string `json:"vm_type"`
	MRTD                   string `json:"mrtd"`
	RTMR0                  string `json:"rtmr0"`
	RTMR1                  string `json:"rtmr1"`
	RTMR2                  string `json:"rtmr2"`
	RTMR3                  string `json:"rtmr3"`
	ReportData             string `json:"report_data"`
	CertificateFingerprint string `json:"certificate_fingerprint"`
	Timestamp              string `json:"timestamp"`
	ParsingMethod          string `json:"parsing_method"`
}

// DualAttestation is the joined result of a dual query.
type DualAttestation struct {
	Attestations  map[string]AttestationData
	CorrelationID string
	Timestamp     string
}

// ServiceHealth mirrors GET /health.
type ServiceHealth struct {
	Status       string          `json:"status"`
	VMsOnline    int             `json:"vms_online"`
	VMsTotal     int             `json:"vms_total"`
	CacheHitRate float64         `json:"cache_hit_rate"`
	UptimeSecs   int64           `json:"uptime_seconds"`
	Version      string          `json:"version"`
	VMStatuses   json.RawMessage `json:"vm_statuses"`
}

// VMInfo mirrors one entry of GET /vms.
type VMInfo struct {
	Name                      string `json:"name"`
	Endpoint                  string `json:"endpoint"`
	Type                      string `json:"type"`
	ParsingStrategy           string `json:"parsing_strategy"`
	Status                    string `json:"status"`
	LastSuccessfulAttestation string `json:"last_successful_attestation,omitempty"`
	ErrorCount                int    `json:"error_count"`
}

// VMConfig is the admin config payload for POST /vms/{vm_name}/config.
type VMConfig struct {
	Endpoint         string `json:"endpoint"`
	Type             string `json:"type,omitempty"`
	ParsingStrategy  string `json:"parsing_strategy"`
	Timeout          int    `json:"timeout,omitempty"`
	RetryAttempts    int    `json:"retry_attempts,omitempty"`
	FallbackStrategy string `json:"fallback_strategy,omitempty"`
	HealthCheckPath  string `json:"health_check_path,omitempty"`
	TLSVerify        bool   `json:"tls_verify"`
}

// Client talks to one attestation hub.
type Client struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithAdminToken attaches a Bearer token to admin requests.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// New creates a hub client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type attestationEnvelope struct {
	Success bool             `json:"success"`
	Data    *AttestationData `json:"data"`
	Errors  []string         `json:"errors"`
}

// GetAttestation fetches one VM's attestation.
func (c *Client) GetAttestation(ctx context.Context, vmName string) (AttestationData, error) {
	var env attestationEnvelope
	if err := c.get(ctx, "/attestation/"+vmName, &env); err != nil {
		return AttestationData{}, err
	}
	if !env.Success || env.Data == nil {
		return AttestationData{}, fmt.Errorf("attestation failed for %s: %s", vmName, strings.Join(env.Errors, "; "))
	}
	return *env.Data, nil
}

type dualEnvelope struct {
	Success       bool                       `json:"success"`
	Data          map[string]AttestationData `json:"data"`
	CorrelationID string                     `json:"correlation_id"`
	Timestamp     string                     `json:"timestamp"`
	Errors        []string                   `json:"errors"`
}

// GetDualAttestation fetches the joint peer-VM attestation.
func (c *Client) GetDualAttestation(ctx context.Context) (DualAttestation, error) {
	var env dualEnvelope
	if err := c.get(ctx, "/attestation/dual", &env); err != nil {
		return DualAttestation{}, err
	}
	if !env.Success {
		return DualAttestation{}, fmt.Errorf("dual attestation failed: %s", strings.Join(env.Errors, "; "))
	}
	return DualAttestation{
		Attestations:  env.Data,
		CorrelationID: env.CorrelationID,
		Timestamp:     env.Timestamp,
	}, nil
}

type allEnvelope struct {
	Success       bool                       `json:"success"`
	Data          map[string]AttestationData `json:"data"`
	Errors        []string                   `json:"errors"`
	TotalVMs      int                        `json:"total_vms"`
	SuccessfulVMs int                        `json:"successful_vms"`
}

// GetAllAttestations sweeps every configured VM. Failing VMs are simply
// absent from the result.
func (c *Client) GetAllAttestations(ctx context.Context) (map[string]AttestationData, error) {
	var env allEnvelope
	if err := c.get(ctx, "/attestation/all", &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

type batchEnvelope struct {
	Success       bool                       `json:"success"`
	Data          map[string]AttestationData `json:"data"`
	Errors        map[string]string          `json:"errors"`
	CorrelationID string                     `json:"correlation_id"`
}

// GetBatchAttestations sweeps the named VMs. Per-VM failure messages are
// returned alongside the successes; unknown names fail the whole call.
func (c *Client) GetBatchAttestations(ctx context.Context, vmNames []string) (map[string]AttestationData, map[string]string, error) {
	payload, err := json.Marshal(map[string]any{"vm_names": vmNames})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal batch request: %w", err)
	}
	var env batchEnvelope
	if err := c.post(ctx, "/attestation/batch", payload, false, &env); err != nil {
		return nil, nil, err
	}
	if len(env.Data) == 0 && len(env.Errors) > 0 {
		return nil, env.Errors, fmt.Errorf("batch attestation failed for all requested VMs")
	}
	return env.Data, env.Errors, nil
}

// GetServiceHealth fetches the hub's aggregate health.
func (c *Client) GetServiceHealth(ctx context.Context) (ServiceHealth, error) {
	var health ServiceHealth
	if err := c.get(ctx, "/health", &health); err != nil {
		return ServiceHealth{}, err
	}
	return health, nil
}

type vmListEnvelope struct {
	VMs   map[string]VMInfo `json:"vms"`
	Total int               `json:"total"`
}

// ListVMs fetches every configured VM with its tracked status.
func (c *Client) ListVMs(ctx context.Context) (map[string]VMInfo, error) {
	var env vmListEnvelope
	if err := c.get(ctx, "/vms", &env); err != nil {
		return nil, err
	}
	return env.VMs, nil
}

// ProbeVM runs the named VM's health check on the hub and reports whether
// the VM's report server is reachable.
func (c *Client) ProbeVM(ctx context.Context, vmName string) (bool, error) {
	var resp struct {
		VMName    string `json:"vm_name"`
		Reachable bool   `json:"reachable"`
	}
	if err := c.get(ctx, "/vms/"+vmName+"/probe", &resp); err != nil {
		return false, err
	}
	return resp.Reachable, nil
}

// SetVMConfig creates or updates one VM's configuration.
func (c *Client) SetVMConfig(ctx context.Context, vmName string, cfg VMConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal vm config: %w", err)
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/vms/"+vmName+"/config", payload, true, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("set vm config rejected: %s", resp.Message)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, admin bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if admin && c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hub returned %d for %s: %s", resp.StatusCode, req.URL.Path, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
