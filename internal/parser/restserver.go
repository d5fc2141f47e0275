package parser

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/endpoint"
	"github.com/scrtlabs/attest-hub/internal/logx"
)

const healthCheckTimeout = 5 * time.Second

// RestServerParser asks the VM's own attestation-report server to interpret
// the quote. It tries the CPU-report, attestation and self-attestation
// endpoints in order and returns on first success. Non-JSON responses are
// scanned for an embedded hex quote, which is handed to the hardcoded
// strategy.
type RestServerParser struct {
	mu      sync.Mutex
	clients map[bool]*http.Client // keyed by TLS verification

	hardcoded *HardcodedParser
}

func NewRestServerParser() *RestServerParser {
	return &RestServerParser{
		clients:   make(map[bool]*http.Client),
		hardcoded: NewHardcodedParser(),
	}
}

func (p *RestServerParser) Name() string { return StrategyRestServer }

// client returns the shared HTTP client for the given TLS verification mode.
// Per-request deadlines come from the context, not the client.
func (p *RestServerParser) client(tlsVerify bool) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[tlsVerify]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !tlsVerify},
		},
	}
	p.clients[tlsVerify] = c
	return c
}

func (p *RestServerParser) Parse(ctx context.Context, quote, vmName string, cfg attest.VMConfig, certFingerprint string) (attest.AttestationData, error) {
	if err := validateQuote(StrategyRestServer, quote); err != nil {
		return attest.AttestationData{}, err
	}

	ep, err := endpoint.Parse(cfg.Endpoint)
	if err != nil {
		return attest.AttestationData{}, &attest.ParsingError{Strategy: StrategyRestServer, Reason: "invalid endpoint", Err: err}
	}
	if ep.Kind != endpoint.KindHTTP {
		return attest.AttestationData{}, &attest.ParsingError{
			Strategy: StrategyRestServer,
			Reason:   fmt.Sprintf("endpoint %q is not an HTTP report server", cfg.Endpoint),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout())
	defer cancel()

	attempts := []struct {
		name string
		fn   func(ctx context.Context, base, quote, vmName string, cfg attest.VMConfig, certFP string) (attest.AttestationData, bool, error)
	}{
		{"cpu report", p.tryCPUReport},
		{"attestation", p.tryAttestation},
		{"self attestation", p.trySelf},
	}

	var lastErr error
	for _, a := range attempts {
		data, ok, err := a.fn(ctx, ep.URL, quote, vmName, cfg, certFingerprint)
		if err != nil {
			lastErr = err
			logx.Warnf("rest_server %s endpoint failed vm=%s: %v", a.name, vmName, err)
			continue
		}
		if ok {
			return data, nil
		}
	}

	return attest.AttestationData{}, &attest.ParsingError{
		Strategy: StrategyRestServer,
		Reason:   "all report server endpoints failed",
		Err:      lastErr,
	}
}

// tryCPUReport GETs the CPU report endpoint. JSON responses map fields
// directly; HTML responses are scanned for an embedded quote.
func (p *RestServerParser) tryCPUReport(ctx context.Context, base, quote, vmName string, cfg attest.VMConfig, certFP string) (attest.AttestationData, bool, error) {
	body, contentType, err := p.get(ctx, cfg, base+"/cpu")
	if err != nil {
		return attest.AttestationData{}, false, err
	}

	if strings.HasPrefix(contentType, "application/json") {
		data, err := p.fromJSON(body, quote, vmName, cfg, certFP)
		if err != nil {
			return attest.AttestationData{}, false, err
		}
		return data, true, nil
	}

	if match := ExtractQuoteHex(string(body)); match != "" {
		logx.Infof("extracted embedded quote from cpu report vm=%s len=%d", vmName, len(match))
		data, err := p.hardcoded.Parse(ctx, match, vmName, cfg, certFP)
		if err != nil {
			return attest.AttestationData{}, false, err
		}
		return data, true, nil
	}

	return attest.AttestationData{}, false, nil
}

// tryAttestation POSTs the quote to the attestation endpoint.
func (p *RestServerParser) tryAttestation(ctx context.Context, base, quote, vmName string, cfg attest.VMConfig, certFP string) (attest.AttestationData, bool, error) {
	payload, err := json.Marshal(map[string]string{"quote": quote, "format": "json"})
	if err != nil {
		return attest.AttestationData{}, false, fmt.Errorf("marshal attestation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/attestation", bytes.NewReader(payload))
	if err != nil {
		return attest.AttestationData{}, false, fmt.Errorf("create attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := p.client(cfg.TLSVerify).Do(req)
	if err != nil {
		return attest.AttestationData{}, false, &attest.VMConnectionError{Endpoint: cfg.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attest.AttestationData{}, false, fmt.Errorf("read attestation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return attest.AttestationData{}, false, fmt.Errorf("attestation endpoint returned %d", resp.StatusCode)
	}

	data, err := p.fromJSON(body, quote, vmName, cfg, certFP)
	if err != nil {
		return attest.AttestationData{}, false, err
	}
	return data, true, nil
}

// trySelf GETs the self-attestation endpoint.
func (p *RestServerParser) trySelf(ctx context.Context, base, quote, vmName string, cfg attest.VMConfig, certFP string) (attest.AttestationData, bool, error) {
	body, contentType, err := p.get(ctx, cfg, base+"/self")
	if err != nil {
		return attest.AttestationData{}, false, err
	}
	if !strings.HasPrefix(contentType, "application/json") {
		return attest.AttestationData{}, false, nil
	}
	data, err := p.fromJSON(body, quote, vmName, cfg, certFP)
	if err != nil {
		return attest.AttestationData{}, false, err
	}
	return data, true, nil
}

func (p *RestServerParser) get(ctx context.Context, cfg attest.VMConfig, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := p.client(cfg.TLSVerify).Do(req)
	if err != nil {
		return nil, "", &attest.VMConnectionError{Endpoint: cfg.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// restReport is the JSON shape served by secret-vm-attest-rest-server.
type restReport struct {
	VMName                 string `json:"vm_name"`
	MRTD                   string `json:"mrtd"`
	RTMR0                  string `json:"rtmr0"`
	RTMR1                  string `json:"rtmr1"`
	RTMR2                  string `json:"rtmr2"`
	RTMR3                  string `json:"rtmr3"`
	ReportData             string `json:"report_data"`
	CertificateFingerprint string `json:"certificate_fingerprint"`
}

func (p *RestServerParser) fromJSON(body []byte, quote, vmName string, cfg attest.VMConfig, certFP string) (attest.AttestationData, error) {
	var report restReport
	if err := json.Unmarshal(body, &report); err != nil {
		return attest.AttestationData{}, &attest.ParsingError{Strategy: StrategyRestServer, Reason: "malformed JSON report", Err: err}
	}

	// A report without measurements is a failure, not an empty success.
	fields := map[string]struct {
		value  string
		hexLen int
	}{
		"mrtd":        {report.MRTD, attest.MeasurementHexLen},
		"rtmr0":       {report.RTMR0, attest.MeasurementHexLen},
		"rtmr1":       {report.RTMR1, attest.MeasurementHexLen},
		"rtmr2":       {report.RTMR2, attest.MeasurementHexLen},
		"rtmr3":       {report.RTMR3, attest.MeasurementHexLen},
		"report_data": {report.ReportData, attest.ReportDataHexLen},
	}
	for name, f := range fields {
		if len(f.value) != f.hexLen {
			return attest.AttestationData{}, &attest.ParsingError{
				Strategy: StrategyRestServer,
				Reason:   fmt.Sprintf("report field %s has length %d, want %d hex chars", name, len(f.value), f.hexLen),
			}
		}
	}

	if certFP == "" {
		certFP = report.CertificateFingerprint
	}

	return attest.AttestationData{
		VMName:                 vmName,
		VMType:                 cfg.Type,
		MRTD:                   report.MRTD,
		RTMR0:                  report.RTMR0,
		RTMR1:                  report.RTMR1,
		RTMR2:                  report.RTMR2,
		RTMR3:                  report.RTMR3,
		ReportData:             report.ReportData,
		CertificateFingerprint: certFP,
		Timestamp:              time.Now().UTC(),
		RawQuote:               quote,
		ParsingMethod:          StrategyRestServer,
	}, nil
}

// HealthCheck probes the VM's report server health endpoint.
func (p *RestServerParser) HealthCheck(ctx context.Context, cfg attest.VMConfig) bool {
	ep, err := endpoint.Parse(cfg.Endpoint)
	if err != nil || ep.Kind != endpoint.KindHTTP {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+cfg.HealthCheckPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := p.client(cfg.TLSVerify).Do(req)
	if err != nil {
		logx.Warnf("health check failed endpoint=%s: %v", cfg.Endpoint, err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (p *RestServerParser) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
	p.clients = make(map[bool]*http.Client)
	return nil
}
