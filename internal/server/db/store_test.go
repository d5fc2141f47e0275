package db

import (
	"testing"

	"github.com/scrtlabs/attest-hub/internal/attest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVMConfigCRUD(t *testing.T) {
	s := newTestStore(t)

	cfg := attest.VMConfig{
		Endpoint:         "https://vm.example:29343",
		Type:             "secret-ai",
		ParsingStrategy:  "rest_server",
		FallbackStrategy: "hardcoded",
		Timeout:          45,
		RetryAttempts:    5,
		TLSVerify:        true,
		HealthCheckPath:  "/status",
	}

	if err := s.UpsertVMConfig("vm1", cfg); err != nil {
		t.Fatalf("UpsertVMConfig: %v", err)
	}

	got, err := s.GetVMConfig("vm1")
	if err != nil {
		t.Fatalf("GetVMConfig: %v", err)
	}
	if got == nil {
		t.Fatal("GetVMConfig returned nil")
	}
	if got.Endpoint != cfg.Endpoint || got.ParsingStrategy != cfg.ParsingStrategy {
		t.Errorf("got config %+v", got)
	}
	if got.Timeout != 45 || got.RetryAttempts != 5 {
		t.Errorf("got timeout=%d retries=%d", got.Timeout, got.RetryAttempts)
	}
	if !got.TLSVerify {
		t.Error("TLSVerify not round-tripped")
	}

	configs, err := s.ListVMConfigs()
	if err != nil {
		t.Fatalf("ListVMConfigs: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("ListVMConfigs: got %d configs", len(configs))
	}

	// Not found
	got, err = s.GetVMConfig("nonexistent")
	if err != nil {
		t.Fatalf("GetVMConfig: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for nonexistent vm")
	}
}

func TestVMConfigUpsertUpdates(t *testing.T) {
	s := newTestStore(t)

	cfg := attest.VMConfig{
		Endpoint:        "https://old.example:29343",
		ParsingStrategy: "rest_server",
	}
	if err := s.UpsertVMConfig("vm1", cfg); err != nil {
		t.Fatalf("UpsertVMConfig: %v", err)
	}

	cfg.Endpoint = "https://new.example:29343"
	cfg.ParsingStrategy = "hardcoded"
	if err := s.UpsertVMConfig("vm1", cfg); err != nil {
		t.Fatalf("UpsertVMConfig update: %v", err)
	}

	got, err := s.GetVMConfig("vm1")
	if err != nil {
		t.Fatalf("GetVMConfig: %v", err)
	}
	if got.Endpoint != "https://new.example:29343" || got.ParsingStrategy != "hardcoded" {
		t.Errorf("got config %+v after update", got)
	}

	configs, _ := s.ListVMConfigs()
	if len(configs) != 1 {
		t.Fatalf("upsert created a duplicate: %d configs", len(configs))
	}
}

func TestEnsureDefaults(t *testing.T) {
	s := newTestStore(t)

	seeded, err := s.EnsureDefaults()
	if err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if !seeded {
		t.Fatal("expected defaults to be seeded on empty database")
	}

	configs, err := s.ListVMConfigs()
	if err != nil {
		t.Fatalf("ListVMConfigs: %v", err)
	}
	for _, name := range []string{"secretai", "secretgpt"} {
		cfg, ok := configs[name]
		if !ok {
			t.Fatalf("missing default config %s", name)
		}
		if cfg.ParsingStrategy != "rest_server" || cfg.FallbackStrategy != "hardcoded" {
			t.Errorf("%s strategies = %s/%s", name, cfg.ParsingStrategy, cfg.FallbackStrategy)
		}
		if cfg.Timeout == 0 || cfg.RetryAttempts == 0 || cfg.HealthCheckPath == "" {
			t.Errorf("%s defaults not normalized: %+v", name, cfg)
		}
	}

	// Second call is a no-op.
	seeded, err = s.EnsureDefaults()
	if err != nil {
		t.Fatalf("EnsureDefaults second call: %v", err)
	}
	if seeded {
		t.Error("defaults reseeded over existing configs")
	}
}

func TestEnsureDefaultsDoesNotOverwrite(t *testing.T) {
	s := newTestStore(t)

	custom := attest.VMConfig{
		Endpoint:        "https://custom.example:29343",
		ParsingStrategy: "hardcoded",
	}
	if err := s.UpsertVMConfig("myvm", custom); err != nil {
		t.Fatalf("UpsertVMConfig: %v", err)
	}

	seeded, err := s.EnsureDefaults()
	if err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if seeded {
		t.Error("defaults seeded despite existing config")
	}

	configs, _ := s.ListVMConfigs()
	if len(configs) != 1 {
		t.Errorf("got %d configs, want 1", len(configs))
	}
}
