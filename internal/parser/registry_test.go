package parser

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/scrtlabs/attest-hub/internal/attest"
)

func TestRegistryKnowsAllStrategies(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	want := []string{StrategyDCAP, StrategyHardcoded, StrategyRestServer}
	if got := r.Strategies(); !reflect.DeepEqual(got, want) {
		t.Errorf("Strategies() = %v, want %v", got, want)
	}

	for _, name := range want {
		if !r.Has(name) {
			t.Errorf("Has(%q) = false", name)
		}
		p, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Get(%q).Name() = %s", name, p.Name())
		}
	}
}

func TestRegistrySharesInstances(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	a, err := r.Get(StrategyHardcoded)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := r.Get(StrategyHardcoded)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Error("expected the same instance on repeated Get")
	}
}

func TestRegistryUnknownStrategy(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	if r.Has("qemu") {
		t.Error("Has(qemu) = true")
	}
	if _, err := r.Get("qemu"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestDCAPParserNotImplemented(t *testing.T) {
	quote, _ := goldenQuote(t)

	p := NewDCAPParser()
	_, err := p.Parse(context.Background(), quote, "vm1", attest.VMConfig{}, "")
	if err == nil {
		t.Fatal("expected error from dcap stub")
	}
	if !errors.Is(err, attest.ErrDCAPNotImplemented) {
		t.Errorf("expected ErrDCAPNotImplemented, got %v", err)
	}
	if p.HealthCheck(context.Background(), attest.VMConfig{}) {
		t.Error("dcap health check should fail")
	}
}
