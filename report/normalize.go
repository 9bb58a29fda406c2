package report

// FromReportTo normalizes one element of a buffered Reporting API
// array ("application/reports+json").  Each element carries its own
// age, url and user_agent.
func FromReportTo(raw map[string]any) (*Report, error) {
	return fromRaw(raw, FormatReportTo)
}

// FromSafari normalizes Safari's single-object reports+json payload.
// Safari omits the age field, so the report always carries age 0.
func FromSafari(raw map[string]any) (*Report, error) {
	r, err := fromRaw(raw, FormatReportToSafari)
	if err != nil {
		return nil, err
	}
	r.Age = 0
	return r, nil
}

// legacyCSPFields maps the hyphenated CSP Level 2 field names onto the
// modern Reporting API body keys.
var legacyCSPFields = map[string]string{
	"blocked-uri":         "blockedURL",
	"column-number":       "columnNumber",
	"disposition":         "disposition",
	"document-uri":        "documentURL",
	"effective-directive": "effectiveDirective",
	"line-number":         "lineNumber",
	"original-policy":     "originalPolicy",
	"referrer":            "referrer",
	"script-sample":       "sample",
	"source-file":         "sourceFile",
	"status-code":         "statusCode",
}

// FromCSPReportURI normalizes a legacy "application/csp-report"
// payload.  The argument is the object nested under the "csp-report"
// key, with hyphenated CSP Level 2 field names.  Older Firefox omits
// the disposition field entirely; fallbackDisposition fills the gap
// when the caller passed one through the reporting URL.
func FromCSPReportURI(cspReport map[string]any, fallbackDisposition string) (*Report, error) {
	body := make(map[string]any, len(cspReport))
	for k, v := range cspReport {
		name, ok := legacyCSPFields[k]
		if !ok {
			body[k] = v
			continue
		}
		body[name] = v
	}
	// violated-directive is deprecated in favor of effective-directive;
	// prefer the latter when a browser sends both.
	if _, ok := body["effectiveDirective"]; !ok {
		if vd, ok := cspReport["violated-directive"]; ok {
			body["effectiveDirective"] = vd
		}
	}
	delete(body, "violated-directive")
	if _, ok := body["disposition"]; !ok && fallbackDisposition != "" {
		body["disposition"] = fallbackDisposition
	}

	url, _ := body["documentURL"].(string)
	b, err := buildBody(TypeCSPViolation, body)
	if err != nil {
		return nil, withRaw(err, cspReport)
	}
	return &Report{
		Type:   TypeCSPViolation,
		Body:   b,
		URL:    url,
		Age:    0,
		Format: FormatReportURI,
	}, nil
}

func fromRaw(raw map[string]any, format Format) (*Report, error) {
	t, ok := raw["type"].(string)
	if !ok || t == "" {
		return nil, &ValidationError{Reason: "missing report type", Field: "type", Raw: raw}
	}

	var bodyMap map[string]any
	switch v := raw["body"].(type) {
	case nil:
		bodyMap = map[string]any{}
	case map[string]any:
		bodyMap = v
	default:
		return nil, &ValidationError{Reason: "body is not an object", Field: "body", Raw: raw}
	}

	body, err := buildBody(Type(t), bodyMap)
	if err != nil {
		return nil, withRaw(err, raw)
	}

	r := &Report{
		Type:   Type(t),
		Body:   body,
		Format: format,
	}
	r.URL, _ = raw["url"].(string)
	r.UserAgent, _ = raw["user_agent"].(string)
	if age, ok := raw["age"].(float64); ok {
		if age < 0 {
			return nil, &ValidationError{Reason: "age must be non-negative", Field: "age", Raw: raw}
		}
		r.Age = int64(age)
	}
	return r, nil
}

// withRaw attaches the full raw payload to a validation error built
// while the body map alone was in scope.
func withRaw(err error, raw map[string]any) error {
	if ve, ok := err.(*ValidationError); ok {
		ve.Raw = raw
	}
	return err
}
