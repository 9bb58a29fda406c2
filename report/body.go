package report

// Each body variant hoists the fields named by the Reporting API spec
// into typed struct fields and keeps whatever else the browser sent in
// Additional.  Browsers grow new body fields without notice, so unknown
// keys are preserved rather than rejected.

// take looks up name in body and, if the value type-asserts to T,
// copies it into val and removes the key.  Mismatched or absent keys
// are left alone and end up in the Additional bucket.
func take[T any](body map[string]any, name string, val *T) {
	if v, ok := body[name]; ok {
		if tv, ok := v.(T); ok {
			*val = tv
			delete(body, name)
		}
	}
}

// takeInt is take for integer fields, which arrive as float64 from
// encoding/json.
func takeInt(body map[string]any, name string, val *int) {
	var f float64
	if v, ok := body[name]; ok {
		if f, ok = v.(float64); ok {
			*val = int(f)
			delete(body, name)
		}
	}
}

// CSPViolationBody is the body of a csp-violation report.
type CSPViolationBody struct {
	BlockedURL         string         `json:"blockedURL,omitempty"`
	ColumnNumber       int            `json:"columnNumber,omitempty"`
	Disposition        string         `json:"disposition,omitempty"`
	DocumentURL        string         `json:"documentURL,omitempty"`
	EffectiveDirective string         `json:"effectiveDirective,omitempty"`
	LineNumber         int            `json:"lineNumber,omitempty"`
	OriginalPolicy     string         `json:"originalPolicy,omitempty"`
	Referrer           string         `json:"referrer,omitempty"`
	Sample             string         `json:"sample,omitempty"`
	SourceFile         string         `json:"sourceFile,omitempty"`
	StatusCode         int            `json:"statusCode,omitempty"`
	Additional         map[string]any `json:"additional,omitempty"`
}

func (CSPViolationBody) ReportType() Type { return TypeCSPViolation }

// COOPBody is the body of a coop report.
type COOPBody struct {
	Disposition     string         `json:"disposition,omitempty"`
	EffectivePolicy string         `json:"effectivePolicy,omitempty"`
	ViolationType   string         `json:"type,omitempty"`
	OpeneeURL       string         `json:"openeeURL,omitempty"`
	Property        string         `json:"property,omitempty"`
	SourceFile      string         `json:"sourceFile,omitempty"`
	LineNumber      int            `json:"lineNumber,omitempty"`
	ColumnNumber    int            `json:"columnNumber,omitempty"`
	Additional      map[string]any `json:"additional,omitempty"`
}

func (COOPBody) ReportType() Type { return TypeCOOP }

// COEPBody is the body of a coep report.
type COEPBody struct {
	Disposition   string         `json:"disposition,omitempty"`
	BlockedURL    string         `json:"blockedURL,omitempty"`
	ViolationType string         `json:"type,omitempty"`
	Destination   string         `json:"destination,omitempty"`
	Additional    map[string]any `json:"additional,omitempty"`
}

func (COEPBody) ReportType() Type { return TypeCOEP }

// DeprecationBody is the body of a deprecation report.
type DeprecationBody struct {
	ID           string         `json:"id,omitempty"`
	Message      string         `json:"message,omitempty"`
	SourceFile   string         `json:"sourceFile,omitempty"`
	LineNumber   int            `json:"lineNumber,omitempty"`
	ColumnNumber int            `json:"columnNumber,omitempty"`
	Additional   map[string]any `json:"additional,omitempty"`
}

func (DeprecationBody) ReportType() Type { return TypeDeprecation }

// InterventionBody is the body of an intervention report.
type InterventionBody struct {
	ID           string         `json:"id,omitempty"`
	Message      string         `json:"message,omitempty"`
	SourceFile   string         `json:"sourceFile,omitempty"`
	LineNumber   int            `json:"lineNumber,omitempty"`
	ColumnNumber int            `json:"columnNumber,omitempty"`
	Additional   map[string]any `json:"additional,omitempty"`
}

func (InterventionBody) ReportType() Type { return TypeIntervention }

// CrashBody is the body of a crash report.
type CrashBody struct {
	Reason     string         `json:"reason,omitempty"`
	Additional map[string]any `json:"additional,omitempty"`
}

func (CrashBody) ReportType() Type { return TypeCrash }

// NetworkErrorBody is the body of a network-error (NEL) report.
// See https://w3c.github.io/network-error-logging/
type NetworkErrorBody struct {
	ElapsedTime      float64        `json:"elapsed_time,omitempty"`
	Method           string         `json:"method,omitempty"`
	Phase            string         `json:"phase,omitempty"`
	Protocol         string         `json:"protocol,omitempty"`
	Referrer         string         `json:"referrer,omitempty"` // NEL spells this correctly, unlike HTTP
	SamplingFraction float64        `json:"sampling_fraction,omitempty"`
	ServerIP         string         `json:"server_ip,omitempty"`
	StatusCode       int            `json:"status_code,omitempty"`
	ErrorType        string         `json:"type,omitempty"` // distinct from the report-level type
	Additional       map[string]any `json:"additional,omitempty"`
}

func (NetworkErrorBody) ReportType() Type { return TypeNetworkError }

// PermissionsPolicyBody is the body of a permissions-policy-violation
// report.
type PermissionsPolicyBody struct {
	Message      string         `json:"message,omitempty"`
	Disposition  string         `json:"disposition,omitempty"`
	PolicyID     string         `json:"policyId,omitempty"`
	SourceFile   string         `json:"sourceFile,omitempty"`
	LineNumber   int            `json:"lineNumber,omitempty"`
	ColumnNumber int            `json:"columnNumber,omitempty"`
	Additional   map[string]any `json:"additional,omitempty"`
}

func (PermissionsPolicyBody) ReportType() Type { return TypePermissionsPolicy }

// buildBody constructs the typed body variant for t from the raw body
// map.  The map is consumed: recognized keys move into struct fields
// and the remainder becomes the Additional bucket.
func buildBody(t Type, body map[string]any) (Body, error) {
	if body == nil {
		body = map[string]any{}
	}
	switch t {
	case TypeCSPViolation:
		b := CSPViolationBody{}
		take(body, "blockedURL", &b.BlockedURL)
		takeInt(body, "columnNumber", &b.ColumnNumber)
		take(body, "disposition", &b.Disposition)
		take(body, "documentURL", &b.DocumentURL)
		take(body, "effectiveDirective", &b.EffectiveDirective)
		takeInt(body, "lineNumber", &b.LineNumber)
		take(body, "originalPolicy", &b.OriginalPolicy)
		take(body, "referrer", &b.Referrer)
		take(body, "sample", &b.Sample)
		take(body, "sourceFile", &b.SourceFile)
		takeInt(body, "statusCode", &b.StatusCode)
		if b.Disposition != "" && b.Disposition != "enforce" && b.Disposition != "report" {
			return nil, &ValidationError{Reason: "disposition must be enforce or report", Field: "disposition", Raw: body}
		}
		b.Additional = body
		return b, nil
	case TypeCOOP:
		b := COOPBody{}
		take(body, "disposition", &b.Disposition)
		take(body, "effectivePolicy", &b.EffectivePolicy)
		take(body, "type", &b.ViolationType)
		take(body, "openeeURL", &b.OpeneeURL)
		take(body, "property", &b.Property)
		take(body, "sourceFile", &b.SourceFile)
		takeInt(body, "lineNumber", &b.LineNumber)
		takeInt(body, "columnNumber", &b.ColumnNumber)
		b.Additional = body
		return b, nil
	case TypeCOEP:
		b := COEPBody{}
		take(body, "disposition", &b.Disposition)
		take(body, "blockedURL", &b.BlockedURL)
		take(body, "type", &b.ViolationType)
		take(body, "destination", &b.Destination)
		b.Additional = body
		return b, nil
	case TypeDeprecation:
		b := DeprecationBody{}
		take(body, "id", &b.ID)
		take(body, "message", &b.Message)
		take(body, "sourceFile", &b.SourceFile)
		takeInt(body, "lineNumber", &b.LineNumber)
		takeInt(body, "columnNumber", &b.ColumnNumber)
		b.Additional = body
		return b, nil
	case TypeIntervention:
		b := InterventionBody{}
		take(body, "id", &b.ID)
		take(body, "message", &b.Message)
		take(body, "sourceFile", &b.SourceFile)
		takeInt(body, "lineNumber", &b.LineNumber)
		takeInt(body, "columnNumber", &b.ColumnNumber)
		b.Additional = body
		return b, nil
	case TypeCrash:
		b := CrashBody{}
		take(body, "reason", &b.Reason)
		b.Additional = body
		return b, nil
	case TypeNetworkError:
		b := NetworkErrorBody{}
		take(body, "elapsed_time", &b.ElapsedTime)
		take(body, "method", &b.Method)
		take(body, "phase", &b.Phase)
		take(body, "protocol", &b.Protocol)
		take(body, "referrer", &b.Referrer)
		take(body, "sampling_fraction", &b.SamplingFraction)
		take(body, "server_ip", &b.ServerIP)
		takeInt(body, "status_code", &b.StatusCode)
		take(body, "type", &b.ErrorType)
		b.Additional = body
		return b, nil
	case TypePermissionsPolicy:
		b := PermissionsPolicyBody{}
		take(body, "message", &b.Message)
		take(body, "disposition", &b.Disposition)
		take(body, "policyId", &b.PolicyID)
		take(body, "sourceFile", &b.SourceFile)
		takeInt(body, "lineNumber", &b.LineNumber)
		takeInt(body, "columnNumber", &b.ColumnNumber)
		b.Additional = body
		return b, nil
	}
	return nil, &ValidationError{Reason: "unknown report type " + string(t), Field: "type", Raw: body}
}
