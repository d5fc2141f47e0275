package hub

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/logx"
)

// ConfigStore persists per-VM attestation settings.
type ConfigStore interface {
	GetVMConfig(name string) (*attest.VMConfig, error)
	ListVMConfigs() (map[string]attest.VMConfig, error)
	UpsertVMConfig(name string, cfg attest.VMConfig) error
}

// VMManager tracks per-VM configuration and runtime health. Configuration
// reads go to the store; statuses live in memory and are mutated after every
// attestation attempt.
type VMManager struct {
	store ConfigStore

	mu       sync.Mutex
	statuses map[string]*attest.VMStatus
}

// NewVMManager loads the configured VMs and initializes their status to
// unknown.
func NewVMManager(store ConfigStore) (*VMManager, error) {
	configs, err := store.ListVMConfigs()
	if err != nil {
		return nil, fmt.Errorf("load vm configs: %w", err)
	}

	m := &VMManager{
		store:    store,
		statuses: make(map[string]*attest.VMStatus, len(configs)),
	}
	for name, cfg := range configs {
		m.statuses[name] = &attest.VMStatus{
			VMName:   name,
			Endpoint: cfg.Endpoint,
			Status:   attest.StatusUnknown,
		}
		logx.Infof("tracking vm %s endpoint=%s strategy=%s", name, cfg.Endpoint, cfg.ParsingStrategy)
	}
	return m, nil
}

// GetConfig returns the configuration for one VM.
func (m *VMManager) GetConfig(name string) (attest.VMConfig, bool, error) {
	cfg, err := m.store.GetVMConfig(name)
	if err != nil {
		return attest.VMConfig{}, false, fmt.Errorf("get vm config %s: %w", name, err)
	}
	if cfg == nil {
		return attest.VMConfig{}, false, nil
	}
	return *cfg, true, nil
}

// Configs returns all configured VMs.
func (m *VMManager) Configs() (map[string]attest.VMConfig, error) {
	return m.store.ListVMConfigs()
}

// AddVM persists a VM configuration and resets its status to unknown.
func (m *VMManager) AddVM(name string, cfg attest.VMConfig) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("vm config %s: %w", name, err)
	}
	if err := m.store.UpsertVMConfig(name, cfg); err != nil {
		return fmt.Errorf("persist vm config %s: %w", name, err)
	}

	m.mu.Lock()
	m.statuses[name] = &attest.VMStatus{
		VMName:   name,
		Endpoint: cfg.Endpoint,
		Status:   attest.StatusUnknown,
	}
	m.mu.Unlock()

	logx.Infof("vm config added name=%s endpoint=%s", name, cfg.Endpoint)
	return nil
}

// UpdateStatus records the outcome of an attestation attempt. A healthy
// outcome resets the error count and stamps the success time; anything else
// increments the error count and stores the error.
func (m *VMManager) UpdateStatus(name string, status attest.Status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statuses[name]
	if !ok {
		logx.Warnf("status update for untracked vm %s", name)
		return
	}

	st.Status = status
	if status == attest.StatusHealthy {
		now := time.Now().UTC()
		st.LastSuccessfulAttestation = &now
		st.ErrorCount = 0
		st.LastError = ""
	} else {
		st.ErrorCount++
		st.LastError = errMsg
	}
	logx.Debugf("vm status %s -> %s", name, status)
}

// Status returns the tracked status for one VM.
func (m *VMManager) Status(name string) (attest.VMStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[name]
	if !ok {
		return attest.VMStatus{}, false
	}
	return *st, true
}

// Statuses returns a copy of every tracked VM status.
func (m *VMManager) Statuses() map[string]attest.VMStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]attest.VMStatus, len(m.statuses))
	for name, st := range m.statuses {
		out[name] = *st
	}
	return out
}

// ShouldRetry reports whether a VM's error count is still below its
// configured retry limit.
func (m *VMManager) ShouldRetry(name string) bool {
	cfg, ok, err := m.GetConfig(name)
	if err != nil || !ok {
		return false
	}
	st, ok := m.Status(name)
	if !ok {
		return false
	}
	return st.ErrorCount < cfg.RetryAttempts
}

// HealthyVMs returns the names of VMs whose last attestation succeeded on
// the primary path.
func (m *VMManager) HealthyVMs() []string {
	return m.filterByStatus(func(s attest.Status) bool { return s == attest.StatusHealthy })
}

// UnhealthyVMs returns the names of VMs that are not healthy.
func (m *VMManager) UnhealthyVMs() []string {
	return m.filterByStatus(func(s attest.Status) bool { return s != attest.StatusHealthy })
}

func (m *VMManager) filterByStatus(keep func(attest.Status) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, st := range m.statuses {
		if keep(st.Status) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// VMsByType returns the names of VMs with the given configured type.
func (m *VMManager) VMsByType(vmType string) ([]string, error) {
	configs, err := m.store.ListVMConfigs()
	if err != nil {
		return nil, fmt.Errorf("list vm configs: %w", err)
	}
	var names []string
	for name, cfg := range configs {
		if cfg.Type == vmType {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
