package handler

import (
	"errors"
	"time"

	"github.com/scrtlabs/attest-hub/internal/attest"
)

// AttestationDataResponse is the wire form of one VM's attestation.
// raw_quote is intentionally excluded to bound payload size.
type AttestationDataResponse struct {
	VMName                 string `json:"vm_name"`
	VMType                 string `json:"vm_type"`
	MRTD                   string `json:"mrtd"`
	RTMR0                  string `json:"rtmr0"`
	RTMR1                  string `json:"rtmr1"`
	RTMR2                  string `json:"rtmr2"`
	RTMR3                  string `json:"rtmr3"`
	ReportData             string `json:"report_data"`
	CertificateFingerprint string `json:"certificate_fingerprint"`
	Timestamp              string `json:"timestamp"`
	ParsingMethod          string `json:"parsing_method"`
}

func fromAttestation(d attest.AttestationData) AttestationDataResponse {
	return AttestationDataResponse{
		VMName:                 d.VMName,
		VMType:                 d.VMType,
		MRTD:                   d.MRTD,
		RTMR0:                  d.RTMR0,
		RTMR1:                  d.RTMR1,
		RTMR2:                  d.RTMR2,
		RTMR3:                  d.RTMR3,
		ReportData:             d.ReportData,
		CertificateFingerprint: d.CertificateFingerprint,
		Timestamp:              d.Timestamp.Format(time.RFC3339),
		ParsingMethod:          d.ParsingMethod,
	}
}

// isAttestationFailure reports whether err is a logical attestation failure,
// which the HTTP boundary serves as 200 with success=false so that polling
// clients never have to special-case HTTP errors.
func isAttestationFailure(err error) bool {
	var attErr *attest.AttestationError
	var dualErr *attest.DualAttestationError
	return errors.As(err, &attErr) || errors.As(err, &dualErr)
}
