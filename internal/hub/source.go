package hub

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"
	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/endpoint"
	"github.com/scrtlabs/attest-hub/internal/logx"
	"github.com/scrtlabs/attest-hub/internal/parser"
)

// QuoteSource obtains the raw hex quote for a VM. The certificate
// fingerprint is the SHA-256 of the peer TLS leaf certificate when the
// transport exposes one, otherwise empty.
type QuoteSource interface {
	FetchQuote(ctx context.Context, vmName string, cfg attest.VMConfig) (quote, certFingerprint string, err error)
	Close() error
}

// EndpointQuoteSource routes quote retrieval by endpoint scheme: HTTP
// endpoints are served by the VM's report server, dstack+unix endpoints by
// the local guest agent.
type EndpointQuoteSource struct {
	http   *HTTPQuoteSource
	dstack *DstackQuoteSource
}

func NewQuoteSource() *EndpointQuoteSource {
	return &EndpointQuoteSource{
		http:   NewHTTPQuoteSource(),
		dstack: NewDstackQuoteSource(),
	}
}

func (s *EndpointQuoteSource) FetchQuote(ctx context.Context, vmName string, cfg attest.VMConfig) (string, string, error) {
	ep, err := endpoint.Parse(cfg.Endpoint)
	if err != nil {
		return "", "", &attest.VMConnectionError{Endpoint: cfg.Endpoint, Err: err}
	}
	switch ep.Kind {
	case endpoint.KindDstack:
		return s.dstack.fetch(ctx, vmName, ep)
	default:
		return s.http.fetch(ctx, cfg, ep)
	}
}

func (s *EndpointQuoteSource) Close() error {
	return s.http.Close()
}

// HTTPQuoteSource pulls the raw quote off the VM's attestation-report
// server, trying the dedicated quote endpoint first and falling back to the
// HTML CPU report page.
type HTTPQuoteSource struct {
	mu      sync.Mutex
	clients map[bool]*http.Client
}

func NewHTTPQuoteSource() *HTTPQuoteSource {
	return &HTTPQuoteSource{clients: make(map[bool]*http.Client)}
}

func (s *HTTPQuoteSource) client(tlsVerify bool) *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[tlsVerify]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !tlsVerify},
		},
	}
	s.clients[tlsVerify] = c
	return c
}

func (s *HTTPQuoteSource) fetch(ctx context.Context, cfg attest.VMConfig, ep endpoint.Endpoint) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout())
	defer cancel()

	var lastErr error
	for _, path := range []string{"/quote", "/cpu.html"} {
		quote, fp, err := s.fetchOne(ctx, cfg, ep.URL+path)
		if err != nil {
			lastErr = err
			continue
		}
		return quote, fp, nil
	}
	return "", "", &attest.VMConnectionError{Endpoint: cfg.Endpoint, Err: lastErr}
}

func (s *HTTPQuoteSource) fetchOne(ctx context.Context, cfg attest.VMConfig, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client(cfg.TLSVerify).Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}

	fp := peerCertFingerprint(resp)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Quote string `json:"quote"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", "", fmt.Errorf("malformed quote response: %w", err)
		}
		if payload.Quote == "" {
			return "", "", fmt.Errorf("quote response missing quote field")
		}
		return payload.Quote, fp, nil
	}

	if match := parser.ExtractQuoteHex(string(body)); match != "" {
		return match, fp, nil
	}
	return "", "", fmt.Errorf("no quote found in %s response", url)
}

func (s *HTTPQuoteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.CloseIdleConnections()
	}
	s.clients = make(map[bool]*http.Client)
	return nil
}

func peerCertFingerprint(resp *http.Response) string {
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return ""
	}
	sum := sha256.Sum256(resp.TLS.PeerCertificates[0].Raw)
	return hex.EncodeToString(sum[:])
}

// DstackQuoteSource requests a fresh TDX quote from the dstack guest agent,
// for VMs attesting themselves through the local socket.
type DstackQuoteSource struct {
	mu      sync.Mutex
	clients map[string]*dstacksdk.DstackClient
}

func NewDstackQuoteSource() *DstackQuoteSource {
	return &DstackQuoteSource{clients: make(map[string]*dstacksdk.DstackClient)}
}

func (s *DstackQuoteSource) clientFor(socketPath string) *dstacksdk.DstackClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[socketPath]; ok {
		return c
	}
	c := dstacksdk.NewDstackClient(dstacksdk.WithEndpoint(socketPath))
	s.clients[socketPath] = c
	return c
}

func (s *DstackQuoteSource) fetch(ctx context.Context, vmName string, ep endpoint.Endpoint) (string, string, error) {
	client := s.clientFor(ep.SocketPath)

	// Bind the requesting VM name into report_data so quotes are
	// distinguishable per VM.
	reportData := sha256.Sum256([]byte(vmName))
	resp, err := client.GetQuote(ctx, reportData[:])
	if err != nil {
		return "", "", &attest.VMConnectionError{Endpoint: ep.Raw, Err: err}
	}
	if resp.Quote == "" {
		return "", "", &attest.VMConnectionError{Endpoint: ep.Raw, Err: fmt.Errorf("guest agent returned empty quote")}
	}
	logx.Debugf("dstack quote fetched vm=%s len=%d", vmName, len(resp.Quote))
	return strings.TrimPrefix(resp.Quote, "0x"), "", nil
}
