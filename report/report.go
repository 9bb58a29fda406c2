// Package report defines the canonical violation report model and the
// normalizers that map the browser wire formats onto it.
package report

import "fmt"

// Format identifies which wire format produced a report.
type Format string

const (
	// FormatReportURI is the legacy CSP Level 2 report-uri POST, one
	// report per request with hyphenated field names.
	FormatReportURI Format = "report-uri"
	// FormatReportTo is the modern buffered Reporting API, an array of
	// report objects per request.
	FormatReportTo Format = "report-to"
	// FormatReportToSafari is Safari's single-object variant of the
	// Reporting API payload.
	FormatReportToSafari Format = "report-to-safari"
)

// Type is the report type enumeration from the Reporting API.
type Type string

const (
	TypeCSPViolation      Type = "csp-violation"
	TypeCOOP              Type = "coop"
	TypeCOEP              Type = "coep"
	TypeDeprecation       Type = "deprecation"
	TypeCrash             Type = "crash"
	TypeIntervention      Type = "intervention"
	TypeNetworkError      Type = "network-error"
	TypePermissionsPolicy Type = "permissions-policy-violation"
)

// Report is one normalized violation report.  Reports are built once
// per inbound payload and handed to the caller's callback; nothing in
// this package retains them.
type Report struct {
	Type      Type   `json:"type"`
	Body      Body   `json:"body"`
	URL       string `json:"url"`
	Age       int64  `json:"age"`
	UserAgent string `json:"user_agent"`
	Version   string `json:"version,omitempty"`
	Format    Format `json:"report_format"`
}

// Body is the type-specific part of a report.  The concrete type is
// determined by Report.Type.
type Body interface {
	ReportType() Type
}

// ValidationError describes a payload that could not be normalized.
// It carries the offending raw object so callers can log or inspect it.
type ValidationError struct {
	Reason string
	Field  string
	Raw    map[string]any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid report: %s (field %q)", e.Reason, e.Field)
	}
	return fmt.Sprintf("invalid report: %s", e.Reason)
}
