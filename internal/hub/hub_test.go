package hub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/parser"
)

// testQuote is a synthetic hex quote long enough to satisfy validation and
// cover every fixed-offset field.
var testQuote = strings.Repeat("ab", 1024)

type memStore struct {
	mu      sync.Mutex
	configs map[string]attest.VMConfig
}

func newMemStore(configs map[string]attest.VMConfig) *memStore {
	if configs == nil {
		configs = make(map[string]attest.VMConfig)
	}
	return &memStore{configs: configs}
}

func (s *memStore) GetVMConfig(name string) (*attest.VMConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[name]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *memStore) ListVMConfigs() (map[string]attest.VMConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]attest.VMConfig, len(s.configs))
	for k, v := range s.configs {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) UpsertVMConfig(name string, cfg attest.VMConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[name] = cfg
	return nil
}

// fakeSource serves the synthetic quote and counts fetches per VM; named VMs
// can be forced to fail.
type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: make(map[string]int), fail: make(map[string]error)}
}

func (s *fakeSource) FetchQuote(_ context.Context, vmName string, _ attest.VMConfig) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[vmName]++
	if err, ok := s.fail[vmName]; ok {
		return "", "", err
	}
	return testQuote, "", nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) callCount(vmName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[vmName]
}

func vmCfg(strategy, fallback string) attest.VMConfig {
	cfg := attest.VMConfig{
		Endpoint:         "https://vm.example:29343",
		Type:             "secret-ai",
		ParsingStrategy:  strategy,
		FallbackStrategy: fallback,
	}
	cfg.Normalize()
	return cfg
}

func newTestHub(t *testing.T, configs map[string]attest.VMConfig, source QuoteSource, opts Options) *Hub {
	t.Helper()
	vms, err := NewVMManager(newMemStore(configs))
	if err != nil {
		t.Fatalf("NewVMManager: %v", err)
	}
	h := New(vms, parser.NewRegistry(), source, opts)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestGetAttestationCachesResult(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
	}, source, Options{})

	first, err := h.GetAttestation(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}
	second, err := h.GetAttestation(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("GetAttestation (cached): %v", err)
	}

	if source.callCount("vm1") != 1 {
		t.Errorf("source called %d times, want 1", source.callCount("vm1"))
	}
	if first.MRTD != second.MRTD {
		t.Error("cached attestation differs from original")
	}

	st, ok := h.VMs().Status("vm1")
	if !ok || st.Status != attest.StatusHealthy {
		t.Errorf("status = %v, want healthy", st.Status)
	}
	if st.LastSuccessfulAttestation == nil {
		t.Error("LastSuccessfulAttestation not stamped")
	}
}

func TestGetAttestationUnknownVM(t *testing.T) {
	h := newTestHub(t, nil, newFakeSource(), Options{})

	_, err := h.GetAttestation(context.Background(), "ghost")
	if !errors.Is(err, attest.ErrVMNotConfigured) {
		t.Errorf("expected ErrVMNotConfigured, got %v", err)
	}
}

func TestGetAttestationFallbackMarksDegraded(t *testing.T) {
	source := newFakeSource()
	// Primary dcap always fails; fallback hardcoded succeeds.
	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("dcap", "hardcoded"),
	}, source, Options{})

	data, err := h.GetAttestation(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}
	if data.ParsingMethod != "hardcoded" {
		t.Errorf("ParsingMethod = %s, want hardcoded", data.ParsingMethod)
	}

	st, ok := h.VMs().Status("vm1")
	if !ok || st.Status != attest.StatusDegraded {
		t.Errorf("status = %v, want degraded", st.Status)
	}
}

func TestGetAttestationBothStrategiesFail(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("dcap", "dcap"),
	}, source, Options{})

	_, err := h.GetAttestation(context.Background(), "vm1")
	if err == nil {
		t.Fatal("expected error")
	}
	var attErr *attest.AttestationError
	if !errors.As(err, &attErr) {
		t.Fatalf("expected AttestationError, got %T: %v", err, err)
	}
	if attErr.Primary == nil || attErr.Fallback == nil {
		t.Error("expected both primary and fallback errors recorded")
	}

	st, _ := h.VMs().Status("vm1")
	if st.Status != attest.StatusUnhealthy {
		t.Errorf("status = %v, want unhealthy", st.Status)
	}
	if st.ErrorCount == 0 {
		t.Error("error count not incremented")
	}
}

func TestGetAttestationConnectionFailure(t *testing.T) {
	source := newFakeSource()
	source.fail["vm1"] = &attest.VMConnectionError{Endpoint: "https://vm.example:29343", Err: errors.New("refused")}

	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
	}, source, Options{})

	_, err := h.GetAttestation(context.Background(), "vm1")
	if err == nil {
		t.Fatal("expected error")
	}
	var connErr *attest.VMConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected wrapped VMConnectionError, got %v", err)
	}
}

func TestGetDualAttestation(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"secretai":  vmCfg("hardcoded", ""),
		"secretgpt": vmCfg("hardcoded", ""),
	}, source, Options{})

	dual, err := h.GetDualAttestation(context.Background())
	if err != nil {
		t.Fatalf("GetDualAttestation: %v", err)
	}
	if dual.CorrelationID == "" {
		t.Error("correlation ID not set")
	}
	if len(dual.Attestations) != 2 {
		t.Fatalf("got %d attestations, want 2", len(dual.Attestations))
	}
	for _, name := range []string{"secretai", "secretgpt"} {
		if _, ok := dual.Attestations[name]; !ok {
			t.Errorf("missing attestation for %s", name)
		}
	}
}

func TestGetDualAttestationAllOrNothing(t *testing.T) {
	source := newFakeSource()
	source.fail["secretgpt"] = &attest.VMConnectionError{Endpoint: "https://vm.example:29343", Err: errors.New("refused")}

	h := newTestHub(t, map[string]attest.VMConfig{
		"secretai":  vmCfg("hardcoded", ""),
		"secretgpt": vmCfg("hardcoded", ""),
	}, source, Options{})

	_, err := h.GetDualAttestation(context.Background())
	if err == nil {
		t.Fatal("expected error when one peer fails")
	}
	var dualErr *attest.DualAttestationError
	if !errors.As(err, &dualErr) {
		t.Fatalf("expected DualAttestationError, got %T: %v", err, err)
	}
	if dualErr.CorrelationID == "" {
		t.Error("correlation ID not set on failure")
	}
	if _, ok := dualErr.Failures["secretgpt"]; !ok {
		t.Error("expected failure recorded for secretgpt")
	}
	if _, ok := dualErr.Failures["secretai"]; ok {
		t.Error("healthy peer should not be in failures")
	}
}

func TestGetDualAttestationCustomPeers(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"alpha": vmCfg("hardcoded", ""),
		"beta":  vmCfg("hardcoded", ""),
	}, source, Options{PeerVMs: [2]string{"alpha", "beta"}})

	dual, err := h.GetDualAttestation(context.Background())
	if err != nil {
		t.Fatalf("GetDualAttestation: %v", err)
	}
	if _, ok := dual.Attestations["alpha"]; !ok {
		t.Error("missing attestation for alpha")
	}
}

func TestGetAllAttestationsToleratesFailures(t *testing.T) {
	source := newFakeSource()
	source.fail["vm2"] = &attest.VMConnectionError{Endpoint: "https://vm.example:29343", Err: errors.New("down")}

	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
		"vm2": vmCfg("hardcoded", ""),
		"vm3": vmCfg("hardcoded", ""),
	}, source, Options{})

	results, err := h.GetAllAttestations(context.Background())
	if err != nil {
		t.Fatalf("GetAllAttestations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if _, ok := results["vm2"]; ok {
		t.Error("failing vm should be omitted")
	}
}

func TestGetBatchAttestationsValidatesNamesFirst(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
	}, source, Options{})

	_, err := h.GetBatchAttestations(context.Background(), []string{"vm1", "ghost"})
	if !errors.Is(err, attest.ErrVMNotConfigured) {
		t.Fatalf("expected ErrVMNotConfigured, got %v", err)
	}
	// Validation happens before any fetch is issued.
	if source.callCount("vm1") != 0 {
		t.Errorf("source called %d times for vm1, want 0", source.callCount("vm1"))
	}
}

func TestGetBatchAttestationsPartialTolerance(t *testing.T) {
	source := newFakeSource()
	source.fail["vm2"] = &attest.VMConnectionError{Endpoint: "https://vm.example:29343", Err: errors.New("down")}

	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
		"vm2": vmCfg("hardcoded", ""),
		"vm3": vmCfg("hardcoded", ""),
	}, source, Options{})

	results, err := h.GetBatchAttestations(context.Background(), []string{"vm1", "vm2"})
	if err != nil {
		t.Fatalf("GetBatchAttestations: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if _, ok := results["vm1"]; !ok {
		t.Error("missing result for vm1")
	}
	// vm3 was not requested.
	if source.callCount("vm3") != 0 {
		t.Error("unrequested vm was fetched")
	}
}

func TestGetServiceHealthAggregation(t *testing.T) {
	source := newFakeSource()
	source.fail["vm2"] = &attest.VMConnectionError{Endpoint: "https://vm.example:29343", Err: errors.New("down")}

	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
		"vm2": vmCfg("hardcoded", ""),
	}, source, Options{})

	health := h.GetServiceHealth()
	if health.Status != attest.ServiceUnhealthy {
		t.Errorf("status before any attempt = %s, want unhealthy", health.Status)
	}
	if health.VMsTotal != 2 {
		t.Errorf("VMsTotal = %d", health.VMsTotal)
	}

	h.GetAttestation(context.Background(), "vm1")
	h.GetAttestation(context.Background(), "vm2")

	health = h.GetServiceHealth()
	if health.Status != attest.ServiceDegraded {
		t.Errorf("status = %s, want degraded", health.Status)
	}
	if health.VMsOnline != 1 {
		t.Errorf("VMsOnline = %d, want 1", health.VMsOnline)
	}
	if health.Version == "" {
		t.Error("version not set")
	}
}

func TestCacheTTLExpiryTriggersRefetch(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
	}, source, Options{CacheTTL: time.Minute})

	if _, err := h.GetAttestation(context.Background(), "vm1"); err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}

	// Advance the hub's clock past the TTL.
	h.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := h.GetAttestation(context.Background(), "vm1"); err != nil {
		t.Fatalf("GetAttestation after expiry: %v", err)
	}
	if source.callCount("vm1") != 2 {
		t.Errorf("source called %d times, want 2", source.callCount("vm1"))
	}
}

func TestAddVMResetsStatus(t *testing.T) {
	source := newFakeSource()
	h := newTestHub(t, map[string]attest.VMConfig{
		"vm1": vmCfg("hardcoded", ""),
	}, source, Options{})

	if _, err := h.GetAttestation(context.Background(), "vm1"); err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}
	st, _ := h.VMs().Status("vm1")
	if st.Status != attest.StatusHealthy {
		t.Fatalf("status = %v", st.Status)
	}

	if err := h.VMs().AddVM("vm1", vmCfg("hardcoded", "")); err != nil {
		t.Fatalf("AddVM: %v", err)
	}
	st, _ = h.VMs().Status("vm1")
	if st.Status != attest.StatusUnknown {
		t.Errorf("status after reconfigure = %v, want unknown", st.Status)
	}
}
