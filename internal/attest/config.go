package attest

import (
	"fmt"
	"time"
)

// Default per-VM settings applied by Normalize.
const (
	DefaultTimeoutSeconds  = 30
	DefaultRetryAttempts   = 3
	DefaultHealthCheckPath = "/status"
)

// VMConfig holds the static per-VM attestation settings. Loaded from the
// config store at startup and updated through the admin API.
type VMConfig struct {
	Endpoint         string `json:"endpoint"`
	Type             string `json:"type"`
	ParsingStrategy  string `json:"parsing_strategy"`
	Timeout          int    `json:"timeout"`
	RetryAttempts    int    `json:"retry_attempts"`
	FallbackStrategy string `json:"fallback_strategy,omitempty"`
	HealthCheckPath  string `json:"health_check_path"`
	TLSVerify        bool   `json:"tls_verify"`
}

// Normalize fills zero-valued optional fields with defaults.
func (c *VMConfig) Normalize() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeoutSeconds
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = DefaultHealthCheckPath
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *VMConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.ParsingStrategy == "" {
		return fmt.Errorf("parsing_strategy is required")
	}
	return nil
}

// HTTPTimeout returns the per-request network timeout as a duration.
func (c VMConfig) HTTPTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
