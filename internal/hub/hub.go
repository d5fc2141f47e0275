// Package hub orchestrates attestation retrieval across configured VMs:
// fetch the raw quote, parse it with the VM's primary strategy (falling back
// when configured), cache normalized results and track per-VM health.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/logx"
	"github.com/scrtlabs/attest-hub/internal/parser"
	"github.com/scrtlabs/attest-hub/internal/version"
)

// Default cache tuning, overridable via Options.
const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheMaxSize = 1000
)

// Options tunes a Hub.
type Options struct {
	CacheTTL     time.Duration
	CacheMaxSize int
	// PeerVMs are the two designated VMs joined by dual attestation.
	PeerVMs [2]string
}

// Hub composes the parser registry, quote source, cache and VM tracker. It
// exclusively owns the cache and the health map.
type Hub struct {
	vms      *VMManager
	registry *parser.Registry
	source   QuoteSource
	cache    *attestationCache

	peers     [2]string
	startTime time.Time
	now       func() time.Time
}

// New builds a hub from its injected collaborators.
func New(vms *VMManager, registry *parser.Registry, source QuoteSource, opts Options) *Hub {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CacheMaxSize <= 0 {
		opts.CacheMaxSize = DefaultCacheMaxSize
	}
	if opts.PeerVMs[0] == "" {
		opts.PeerVMs = [2]string{"secretai", "secretgpt"}
	}

	h := &Hub{
		vms:      vms,
		registry: registry,
		source:   source,
		cache:    newAttestationCache(opts.CacheMaxSize, opts.CacheTTL),
		peers:    opts.PeerVMs,
		now:      time.Now,
	}
	h.startTime = h.now()
	return h
}

// VMs exposes the VM tracker for the HTTP boundary and CLI.
func (h *Hub) VMs() *VMManager { return h.vms }

// Strategies returns the registered parsing strategy names.
func (h *Hub) Strategies() []string { return h.registry.Strategies() }

// HasStrategy reports whether a strategy name resolves in the registry.
func (h *Hub) HasStrategy(name string) bool { return h.registry.Has(name) }

// GetAttestation returns the attestation for one VM, from cache when fresh.
// On a miss it fetches the quote and runs the primary strategy; on primary
// failure it runs the configured fallback, marking the VM degraded on
// fallback success.
func (h *Hub) GetAttestation(ctx context.Context, vmName string) (attest.AttestationData, error) {
	if data, ok := h.cache.get(vmName, h.now()); ok {
		logx.Infof("cache hit vm=%s", vmName)
		return data, nil
	}

	cfg, ok, err := h.vms.GetConfig(vmName)
	if err != nil {
		return attest.AttestationData{}, err
	}
	if !ok {
		return attest.AttestationData{}, fmt.Errorf("%w: %s", attest.ErrVMNotConfigured, vmName)
	}

	primary, err := h.registry.Get(cfg.ParsingStrategy)
	if err != nil {
		return attest.AttestationData{}, fmt.Errorf("resolve primary strategy for %s: %w", vmName, err)
	}

	logx.Infof("attesting vm=%s strategy=%s", vmName, cfg.ParsingStrategy)
	data, primaryErr := h.attempt(ctx, primary, vmName, cfg)
	if primaryErr == nil {
		h.vms.UpdateStatus(vmName, attest.StatusHealthy, "")
		h.cache.put(vmName, data, h.now())
		return data, nil
	}

	logx.Warnf("primary strategy %s failed vm=%s: %v", cfg.ParsingStrategy, vmName, primaryErr)
	h.vms.UpdateStatus(vmName, attest.StatusUnhealthy, primaryErr.Error())

	if cfg.FallbackStrategy == "" {
		return attest.AttestationData{}, &attest.AttestationError{VMName: vmName, Primary: primaryErr}
	}

	fallback, err := h.registry.Get(cfg.FallbackStrategy)
	if err != nil {
		return attest.AttestationData{}, fmt.Errorf("resolve fallback strategy for %s: %w", vmName, err)
	}

	logx.Infof("attesting vm=%s fallback strategy=%s", vmName, cfg.FallbackStrategy)
	data, fallbackErr := h.attempt(ctx, fallback, vmName, cfg)
	if fallbackErr != nil {
		logx.Errorf("fallback strategy %s failed vm=%s: %v", cfg.FallbackStrategy, vmName, fallbackErr)
		return attest.AttestationData{}, &attest.AttestationError{VMName: vmName, Primary: primaryErr, Fallback: fallbackErr}
	}

	// Degraded, not healthy: the marker is the signal that the primary
	// path is broken even though data is flowing.
	h.vms.UpdateStatus(vmName, attest.StatusDegraded, fmt.Sprintf("using fallback strategy %s", cfg.FallbackStrategy))
	h.cache.put(vmName, data, h.now())
	return data, nil
}

func (h *Hub) attempt(ctx context.Context, p parser.Parser, vmName string, cfg attest.VMConfig) (attest.AttestationData, error) {
	quote, certFP, err := h.source.FetchQuote(ctx, vmName, cfg)
	if err != nil {
		return attest.AttestationData{}, err
	}
	return p.Parse(ctx, quote, vmName, cfg, certFP)
}

// GetDualAttestation fetches both designated peer VMs concurrently under one
// correlation ID. If either half fails the whole call fails; no partial
// result is returned.
func (h *Hub) GetDualAttestation(ctx context.Context) (attest.DualAttestationData, error) {
	correlationID := uuid.NewString()
	logx.Infof("dual attestation start correlation_id=%s peers=%s,%s", correlationID, h.peers[0], h.peers[1])

	results, failures := h.fetchMany(ctx, h.peers[:])
	if len(failures) > 0 {
		return attest.DualAttestationData{}, &attest.DualAttestationError{
			CorrelationID: correlationID,
			Failures:      failures,
		}
	}

	return attest.DualAttestationData{
		Attestations:  results,
		Timestamp:     h.now().UTC(),
		CorrelationID: correlationID,
	}, nil
}

// GetAllAttestations sweeps every configured VM concurrently. Per-VM
// failures are tolerated: failing VMs are omitted from the result.
func (h *Hub) GetAllAttestations(ctx context.Context) (map[string]attest.AttestationData, error) {
	configs, err := h.vms.Configs()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	logx.Infof("attesting all %d vms", len(names))

	results, failures := h.fetchMany(ctx, names)
	for name, ferr := range failures {
		logx.Warnf("attestation failed vm=%s: %v", name, ferr)
	}
	return results, nil
}

// GetBatchAttestations sweeps the requested VMs concurrently with the same
// partial tolerance as GetAllAttestations, but validates every name before
// issuing any fetch.
func (h *Hub) GetBatchAttestations(ctx context.Context, names []string) (map[string]attest.AttestationData, error) {
	configs, err := h.vms.Configs()
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, name := range names {
		if _, ok := configs[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %v", attest.ErrVMNotConfigured, unknown)
	}

	results, failures := h.fetchMany(ctx, names)
	for name, ferr := range failures {
		logx.Warnf("attestation failed vm=%s: %v", name, ferr)
	}
	return results, nil
}

// fetchMany fans out one GetAttestation per name and joins the results.
// A task's failure never cancels its siblings.
func (h *Hub) fetchMany(ctx context.Context, names []string) (map[string]attest.AttestationData, map[string]error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make(map[string]attest.AttestationData, len(names))
		failures = make(map[string]error)
	)
	for _, name := range names {
		wg.Add(1)
		go func(vmName string) {
			defer wg.Done()
			data, err := h.GetAttestation(ctx, vmName)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[vmName] = err
				return
			}
			results[vmName] = data
		}(name)
	}
	wg.Wait()
	return results, failures
}

// ProbeVM runs the VM's primary strategy health check.
func (h *Hub) ProbeVM(ctx context.Context, vmName string) (bool, error) {
	cfg, ok, err := h.vms.GetConfig(vmName)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", attest.ErrVMNotConfigured, vmName)
	}
	p, err := h.registry.Get(cfg.ParsingStrategy)
	if err != nil {
		return false, err
	}
	return p.HealthCheck(ctx, cfg), nil
}

// GetServiceHealth aggregates per-VM statuses with cache and uptime
// counters.
func (h *Hub) GetServiceHealth() attest.ServiceHealth {
	statuses := h.vms.Statuses()

	healthy := 0
	for _, st := range statuses {
		if st.Status == attest.StatusHealthy {
			healthy++
		}
	}

	status := attest.ServiceUnhealthy
	switch {
	case len(statuses) > 0 && healthy == len(statuses):
		status = attest.ServiceHealthy
	case healthy > 0:
		status = attest.ServiceDegraded
	}

	return attest.ServiceHealth{
		Status:       status,
		VMsOnline:    healthy,
		VMsTotal:     len(statuses),
		CacheHitRate: h.cache.hitRate(),
		UptimeSecs:   int64(h.now().Sub(h.startTime).Seconds()),
		Version:      version.Version,
		VMStatuses:   statuses,
	}
}

// CacheHitRate returns hits/(hits+misses) since startup.
func (h *Hub) CacheHitRate() float64 { return h.cache.hitRate() }

// Close releases parser and quote source resources.
func (h *Hub) Close() error {
	srcErr := h.source.Close()
	regErr := h.registry.Close()
	if srcErr != nil {
		return srcErr
	}
	return regErr
}
