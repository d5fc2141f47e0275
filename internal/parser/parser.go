package parser

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/version"
)

// Strategy names selectable via VMConfig.ParsingStrategy.
const (
	StrategyRestServer = "rest_server"
	StrategyHardcoded  = "hardcoded"
	StrategyDCAP       = "dcap"
)

// Minimum plausible TDX quote length in hex characters. Real quotes observed
// in the field are well above this.
const minQuoteHexLen = 2000

// Runs of hex characters embedded in an HTML or plain-text report page.
// The regexp engine caps repeat counts at 1000, so the minimum quote length
// is enforced on the match rather than in the pattern.
var hexRunRe = regexp.MustCompile(`[0-9a-fA-F]{1000,}`)

// ExtractQuoteHex returns the first run of at least minQuoteHexLen
// contiguous hex characters in s, or "" when none is long enough.
func ExtractQuoteHex(s string) string {
	for _, m := range hexRunRe.FindAllString(s, -1) {
		if len(m) >= minQuoteHexLen {
			return m
		}
	}
	return ""
}

// Parser converts a raw hex quote into normalized attestation fields.
type Parser interface {
	Name() string
	Parse(ctx context.Context, quote, vmName string, cfg attest.VMConfig, certFingerprint string) (attest.AttestationData, error)
	HealthCheck(ctx context.Context, cfg attest.VMConfig) bool
	Close() error
}

// Registry maps strategy names to parser instances. It is constructed once at
// startup and injected into the hub; the strategy set is closed.
type Registry struct {
	mu           sync.Mutex
	constructors map[string]func() Parser
	instances    map[string]Parser
}

// NewRegistry returns a registry with all built-in strategies registered.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[string]func() Parser),
		instances:    make(map[string]Parser),
	}
	r.register(StrategyRestServer, func() Parser { return NewRestServerParser() })
	r.register(StrategyHardcoded, func() Parser { return NewHardcodedParser() })
	r.register(StrategyDCAP, func() Parser { return NewDCAPParser() })
	return r
}

func (r *Registry) register(name string, ctor func() Parser) {
	r.constructors[name] = ctor
}

// Get returns the parser for a strategy name, instantiating it on first use.
// Instances are shared; implementations must be safe for concurrent use.
func (r *Registry) Get(strategy string) (Parser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[strategy]; ok {
		return p, nil
	}
	ctor, ok := r.constructors[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown parsing strategy %q", strategy)
	}
	p := ctor()
	r.instances[strategy] = p
	return p, nil
}

// Has reports whether a strategy name is registered.
func (r *Registry) Has(strategy string) bool {
	_, ok := r.constructors[strategy]
	return ok
}

// Strategies returns the registered strategy names, sorted.
func (r *Registry) Strategies() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases resources held by instantiated parsers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, p := range r.instances {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s parser: %w", name, err)
		}
	}
	r.instances = make(map[string]Parser)
	return firstErr
}

// userAgent identifies hub requests to VM report servers.
func userAgent() string {
	return "attest-hub/" + version.Version
}

// validateQuote rejects empty, non-hex or implausibly short quotes.
func validateQuote(strategy, quote string) error {
	if quote == "" {
		return &attest.ParsingError{Strategy: strategy, Reason: "empty quote"}
	}
	for i := 0; i < len(quote); i++ {
		c := quote[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return &attest.ParsingError{Strategy: strategy, Reason: fmt.Sprintf("non-hex character at position %d", i)}
		}
	}
	if len(quote) < minQuoteHexLen {
		return &attest.ParsingError{Strategy: strategy, Reason: fmt.Sprintf("quote too short: %d hex chars (min %d)", len(quote), minQuoteHexLen)}
	}
	return nil
}
