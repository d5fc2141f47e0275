package parser

import (
	"context"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/logx"
)

// DCAPParser is the seam for Intel DCAP quote verification. Until the
// signature-chain check is wired in, it fails loudly on every call so that
// "not yet verified" can never be mistaken for "verified".
type DCAPParser struct{}

func NewDCAPParser() *DCAPParser {
	logx.Warnf("dcap strategy selected but not implemented; all parses will fail")
	return &DCAPParser{}
}

func (p *DCAPParser) Name() string { return StrategyDCAP }

func (p *DCAPParser) Parse(_ context.Context, _, _ string, _ attest.VMConfig, _ string) (attest.AttestationData, error) {
	return attest.AttestationData{}, &attest.ParsingError{
		Strategy: StrategyDCAP,
		Reason:   "quote signature verification unavailable",
		Err:      attest.ErrDCAPNotImplemented,
	}
}

// HealthCheck reports false until the DCAP libraries are integrated.
func (p *DCAPParser) HealthCheck(_ context.Context, _ attest.VMConfig) bool {
	return false
}

func (p *DCAPParser) Close() error { return nil }
