package attest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDCAPNotImplemented is returned by the dcap strategy until hardware
// signature-chain verification lands. It must never silently succeed.
var ErrDCAPNotImplemented = errors.New("dcap parser not implemented")

// ErrVMNotConfigured marks requests naming a VM that has no configuration.
// The HTTP boundary reports it as a configuration error, not an attestation
// failure.
var ErrVMNotConfigured = errors.New("vm not configured")

// ParsingError reports a malformed, truncated or non-hex quote, or missing
// fields after extraction.
type ParsingError struct {
	Strategy string
	Reason   string
	Err      error
}

func (e *ParsingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s parsing failed: %s: %v", e.Strategy, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s parsing failed: %s", e.Strategy, e.Reason)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// VMConnectionError reports an unreachable VM endpoint.
type VMConnectionError struct {
	Endpoint string
	Err      error
}

func (e *VMConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *VMConnectionError) Unwrap() error { return e.Err }

// AttestationError aggregates the failure of every parsing strategy for one
// VM. Fallback is nil when no fallback strategy was configured.
type AttestationError struct {
	VMName   string
	Primary  error
	Fallback error
}

func (e *AttestationError) Error() string {
	if e.Fallback != nil {
		return fmt.Sprintf("attestation failed for %s: primary: %v; fallback: %v", e.VMName, e.Primary, e.Fallback)
	}
	return fmt.Sprintf("attestation failed for %s: %v", e.VMName, e.Primary)
}

func (e *AttestationError) Unwrap() []error {
	if e.Fallback != nil {
		return []error{e.Primary, e.Fallback}
	}
	return []error{e.Primary}
}

// DualAttestationError reports a failed dual query. Dual attestation is
// all-or-nothing: any failing half fails the pair.
type DualAttestationError struct {
	CorrelationID string
	Failures      map[string]error
}

func (e *DualAttestationError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return "dual attestation failed: " + strings.Join(parts, "; ")
}
