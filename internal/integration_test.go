package internal

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/client"
	"github.com/scrtlabs/attest-hub/internal/hub"
	"github.com/scrtlabs/attest-hub/internal/parser"
	"github.com/scrtlabs/attest-hub/internal/server"
	"github.com/scrtlabs/attest-hub/internal/server/db"
)

const testAdminToken = "test-admin-token-1234567890"

// stubQuote is a synthetic hex quote long enough to satisfy validation and
// cover every fixed-offset measurement field.
var stubQuote = strings.Repeat("ab", 1024)

// stubQuoteSource serves the synthetic quote; named VMs can be marked
// unreachable.
type stubQuoteSource struct {
	mu          sync.Mutex
	unreachable map[string]bool
}

func newStubQuoteSource() *stubQuoteSource {
	return &stubQuoteSource{unreachable: make(map[string]bool)}
}

func (s *stubQuoteSource) FetchQuote(_ context.Context, vmName string, _ attest.VMConfig) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unreachable[vmName] {
		return "", "", &attest.VMConnectionError{Endpoint: "https://" + vmName + ".example:29343", Err: fmt.Errorf("connection refused")}
	}
	return stubQuote, "", nil
}

func (s *stubQuoteSource) Close() error { return nil }

func (s *stubQuoteSource) setUnreachable(vmName string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable[vmName] = down
}

func setupTestServer(t *testing.T) (*httptest.Server, *stubQuoteSource) {
	t.Helper()

	store, err := db.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	vms, err := hub.NewVMManager(store)
	if err != nil {
		t.Fatalf("NewVMManager: %v", err)
	}

	source := newStubQuoteSource()
	h := hub.New(vms, parser.NewRegistry(), source, hub.Options{})
	t.Cleanup(func() { h.Close() })

	cfg := &server.Config{
		AdminToken:     testAdminToken,
		RequestTimeout: 30 * time.Second,
	}
	ts := httptest.NewServer(server.NewRouter(h, cfg))
	t.Cleanup(ts.Close)

	return ts, source
}

func TestEndToEndAttestationFlow(t *testing.T) {
	ts, _ := setupTestServer(t)
	c := client.New(ts.URL, client.WithAdminToken(testAdminToken))
	ctx := context.Background()

	// Configure a VM through the admin API.
	err := c.SetVMConfig(ctx, "vm1", client.VMConfig{
		Endpoint:        "https://vm1.example:29343",
		Type:            "secret-ai",
		ParsingStrategy: "hardcoded",
	})
	if err != nil {
		t.Fatalf("SetVMConfig: %v", err)
	}

	vms, err := c.ListVMs(ctx)
	if err != nil {
		t.Fatalf("ListVMs: %v", err)
	}
	if vms["vm1"].Status != "unknown" {
		t.Errorf("initial status = %s", vms["vm1"].Status)
	}

	data, err := c.GetAttestation(ctx, "vm1")
	if err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}
	if len(data.MRTD) != attest.MeasurementHexLen {
		t.Errorf("mrtd length = %d", len(data.MRTD))
	}
	if data.ParsingMethod != "hardcoded" {
		t.Errorf("parsing_method = %s", data.ParsingMethod)
	}

	health, err := c.GetServiceHealth(ctx)
	if err != nil {
		t.Fatalf("GetServiceHealth: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("service status = %s after successful attestation", health.Status)
	}
	if health.VMsOnline != 1 {
		t.Errorf("vms_online = %d", health.VMsOnline)
	}
}

func TestEndToEndDualAttestation(t *testing.T) {
	ts, source := setupTestServer(t)
	c := client.New(ts.URL, client.WithAdminToken(testAdminToken))
	ctx := context.Background()

	for _, name := range []string{"secretai", "secretgpt"} {
		err := c.SetVMConfig(ctx, name, client.VMConfig{
			Endpoint:        "https://" + name + ".example:29343",
			ParsingStrategy: "hardcoded",
		})
		if err != nil {
			t.Fatalf("SetVMConfig %s: %v", name, err)
		}
	}

	dual, err := c.GetDualAttestation(ctx)
	if err != nil {
		t.Fatalf("GetDualAttestation: %v", err)
	}
	if len(dual.Attestations) != 2 {
		t.Fatalf("got %d attestations", len(dual.Attestations))
	}
	if dual.CorrelationID == "" {
		t.Error("correlation ID missing")
	}

	// Dual is all-or-nothing even with cached halves available.
	source.setUnreachable("secretgpt", true)
	// The cache still holds both; expire nothing, so it succeeds from cache.
	if _, err := c.GetDualAttestation(ctx); err != nil {
		t.Fatalf("GetDualAttestation from cache: %v", err)
	}
}

func TestEndToEndAdminAuth(t *testing.T) {
	ts, _ := setupTestServer(t)
	ctx := context.Background()

	// No token: rejected.
	unauth := client.New(ts.URL)
	err := unauth.SetVMConfig(ctx, "vm1", client.VMConfig{
		Endpoint:        "https://vm1.example:29343",
		ParsingStrategy: "hardcoded",
	})
	if err == nil {
		t.Fatal("expected error without admin token")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want 401", err)
	}

	// Reads stay open.
	if _, err := unauth.GetServiceHealth(ctx); err != nil {
		t.Errorf("GetServiceHealth without token: %v", err)
	}
}
