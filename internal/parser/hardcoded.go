package parser

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/logx"
)

// Byte offsets into the decoded quote for an Intel TDX v4 quote
// (48-byte quote header followed by the TD report body). Sibling components
// historically carried the same table in hex-character units; this is the
// canonical byte-unit form, pinned by the golden fixture test.
const (
	offReportData = 64
	offMRTD       = 184
	offRTMR0      = 376
	offRTMR1      = 424
	offRTMR2      = 472
	offRTMR3      = 520

	lenMeasurement = 48
	lenReportData  = 32
)

// HardcodedParser extracts measurement fields at fixed byte offsets. It is
// the offline fallback when a VM's report server cannot interpret the quote.
type HardcodedParser struct{}

func NewHardcodedParser() *HardcodedParser {
	return &HardcodedParser{}
}

func (p *HardcodedParser) Name() string { return StrategyHardcoded }

func (p *HardcodedParser) Parse(_ context.Context, quote, vmName string, cfg attest.VMConfig, certFingerprint string) (attest.AttestationData, error) {
	if err := validateQuote(StrategyHardcoded, quote); err != nil {
		return attest.AttestationData{}, err
	}

	raw, err := hex.DecodeString(quote)
	if err != nil {
		return attest.AttestationData{}, &attest.ParsingError{Strategy: StrategyHardcoded, Reason: "quote is not valid hex", Err: err}
	}

	reportData, err := extractField(raw, "report_data", offReportData, lenReportData)
	if err != nil {
		return attest.AttestationData{}, err
	}
	mrtd, err := extractField(raw, "mrtd", offMRTD, lenMeasurement)
	if err != nil {
		return attest.AttestationData{}, err
	}
	rtmr0, err := extractField(raw, "rtmr0", offRTMR0, lenMeasurement)
	if err != nil {
		return attest.AttestationData{}, err
	}
	rtmr1, err := extractField(raw, "rtmr1", offRTMR1, lenMeasurement)
	if err != nil {
		return attest.AttestationData{}, err
	}
	rtmr2, err := extractField(raw, "rtmr2", offRTMR2, lenMeasurement)
	if err != nil {
		return attest.AttestationData{}, err
	}
	rtmr3, err := extractField(raw, "rtmr3", offRTMR3, lenMeasurement)
	if err != nil {
		return attest.AttestationData{}, err
	}

	logx.Debugf("hardcoded parse ok vm=%s mrtd=%s...", vmName, mrtd[:16])

	return attest.AttestationData{
		VMName:                 vmName,
		VMType:                 cfg.Type,
		MRTD:                   mrtd,
		RTMR0:                  rtmr0,
		RTMR1:                  rtmr1,
		RTMR2:                  rtmr2,
		RTMR3:                  rtmr3,
		ReportData:             reportData,
		CertificateFingerprint: certFingerprint,
		Timestamp:              time.Now().UTC(),
		RawQuote:               quote,
		ParsingMethod:          StrategyHardcoded,
	}, nil
}

// HealthCheck always succeeds: the strategy has no external dependency.
func (p *HardcodedParser) HealthCheck(_ context.Context, _ attest.VMConfig) bool {
	return true
}

func (p *HardcodedParser) Close() error { return nil }

func extractField(raw []byte, name string, off, n int) (string, error) {
	if len(raw) < off+n {
		return "", &attest.ParsingError{
			Strategy: StrategyHardcoded,
			Reason:   fmt.Sprintf("quote too short for %s: %d bytes, need %d", name, len(raw), off+n),
		}
	}
	return hex.EncodeToString(raw[off : off+n]), nil
}
