package attest

import "time"

// VM health states tracked across attestation attempts.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Aggregate service states reported by /health.
type ServiceStatus string

const (
	ServiceHealthy   ServiceStatus = "healthy"
	ServiceDegraded  ServiceStatus = "degraded"
	ServiceUnhealthy ServiceStatus = "unhealthy"
)

// Expected field widths in hex characters for a parsed TDX quote.
const (
	MeasurementHexLen = 96 // mrtd and rtmr0..3: 48 bytes
	ReportDataHexLen  = 64 // report_data: 32 bytes
)

// AttestationData is the normalized result of parsing one VM's quote.
// It is produced once per successful parse and never mutated.
type AttestationData struct {
	VMName                 string    `json:"vm_name"`
	VMType                 string    `json:"vm_type"`
	MRTD                   string    `json:"mrtd"`
	RTMR0                  string    `json:"rtmr0"`
	RTMR1                  string    `json:"rtmr1"`
	RTMR2                  string    `json:"rtmr2"`
	RTMR3                  string    `json:"rtmr3"`
	ReportData             string    `json:"report_data"`
	CertificateFingerprint string    `json:"certificate_fingerprint"`
	Timestamp              time.Time `json:"timestamp"`
	RawQuote               string    `json:"raw_quote,omitempty"`
	ParsingMethod          string    `json:"parsing_method"`
}

// MatchesBaseline reports whether all measurement fields equal the baseline values.
func (d AttestationData) MatchesBaseline(baseline map[string]string) bool {
	return d.MRTD == baseline["mrtd"] &&
		d.RTMR0 == baseline["rtmr0"] &&
		d.RTMR1 == baseline["rtmr1"] &&
		d.RTMR2 == baseline["rtmr2"] &&
		d.RTMR3 == baseline["rtmr3"] &&
		d.ReportData == baseline["report_data"]
}

// DualAttestationData joins the attestations of the two designated peer VMs
// under a single correlation ID. It is all-or-nothing: both halves are always
// present.
type DualAttestationData struct {
	Attestations  map[string]AttestationData `json:"attestations"`
	Timestamp     time.Time                  `json:"timestamp"`
	CorrelationID string                     `json:"correlation_id"`
}

// VMStatus is the mutable runtime status of one VM, updated after every
// attestation attempt.
type VMStatus struct {
	VMName                    string     `json:"vm_name"`
	Endpoint                  string     `json:"endpoint"`
	Status                    Status     `json:"status"`
	LastSuccessfulAttestation *time.Time `json:"last_successful_attestation,omitempty"`
	ErrorCount                int        `json:"error_count"`
	LastError                 string     `json:"last_error,omitempty"`
}

// ServiceHealth aggregates per-VM statuses with cache and uptime counters.
type ServiceHealth struct {
	Status       ServiceStatus       `json:"status"`
	VMsOnline    int                 `json:"vms_online"`
	VMsTotal     int                 `json:"vms_total"`
	CacheHitRate float64             `json:"cache_hit_rate"`
	UptimeSecs   int64               `json:"uptime_seconds"`
	Version      string              `json:"version"`
	VMStatuses   map[string]VMStatus `json:"vm_statuses"`
}
