// Package annotate retrofits the browser Reporting API onto a
// server's existing security-policy response headers.  It appends
// report-to / report-uri directives to headers the caller already
// sets, and emits the Reporting-Endpoints header (plus legacy
// Report-To and NEL when asked) that binds the reporting group to a
// collection URL.  It never generates policy values itself and never
// touches a header that already carries a reporting directive.
package annotate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Header syntax families.  The reporting directive grammar differs per
// header: CSP takes space-separated directive values, the structured
// COOP/COEP headers require a quoted group name, and Permissions-Policy
// uses an unquoted key=value pair.
type syntax int

const (
	syntaxCSP syntax = iota
	syntaxPermissionsPolicy
	syntaxStructured
)

// monitoredHeaders is the fixed set of security-policy response
// headers that receive reporting directives, with the grammar each one
// uses.
var monitoredHeaders = []struct {
	name string
	syn  syntax
}{
	{"Content-Security-Policy", syntaxCSP},
	{"Content-Security-Policy-Report-Only", syntaxCSP},
	{"Permissions-Policy", syntaxPermissionsPolicy},
	{"Permissions-Policy-Report-Only", syntaxPermissionsPolicy},
	{"Cross-Origin-Opener-Policy", syntaxStructured},
	{"Cross-Origin-Opener-Policy-Report-Only", syntaxStructured},
	{"Cross-Origin-Embedder-Policy", syntaxStructured},
	{"Cross-Origin-Embedder-Policy-Report-Only", syntaxStructured},
}

// DefaultGroup is the reporting group used when the configuration
// names none.
const DefaultGroup = "reporter"

// NELConfig enables Network Error Logging emission.  NEL predates the
// Reporting-Endpoints header, so enabling it also emits the legacy
// Report-To header that NEL resolves groups against.
type NELConfig struct {
	// MaxAge is the policy lifetime in seconds.  Defaults to one day.
	MaxAge            int
	SuccessFraction   *float64
	FailureFraction   *float64
	IncludeSubdomains bool
}

// Config controls how responses are annotated.
type Config struct {
	// ReportingGroup names the reporting group referenced from the
	// rewritten headers.  Empty means DefaultGroup.
	ReportingGroup string

	// EnableDefaultReporters switches the group to "default", which
	// browsers also use for deprecation, crash and intervention
	// reports that no directive can route elsewhere.
	EnableDefaultReporters bool

	// NEL, when non-nil, additionally emits Report-To and NEL headers.
	NEL *NELConfig

	// Version is echoed back by the collection endpoint via a
	// "version" query parameter appended to the reporting URL.
	Version string
}

// Annotator rewrites outbound security-policy headers for one
// configured reporting URL.  It is safe for concurrent use; all state
// is fixed at construction.
type Annotator struct {
	url   string
	group string
	cfg   Config
}

// New builds an Annotator for the given reporting URL (absolute or
// host-relative, as the caller prefers).
func New(reportingURL string, cfg Config) *Annotator {
	group := cfg.ReportingGroup
	if cfg.EnableDefaultReporters {
		group = "default"
	}
	if group == "" {
		group = DefaultGroup
	}
	if cfg.Version != "" {
		reportingURL += querySep(reportingURL) + "version=" + cfg.Version
	}
	return &Annotator{url: reportingURL, group: group, cfg: cfg}
}

func querySep(url string) string {
	if strings.Contains(url, "?") {
		return "&"
	}
	return "?"
}

// Group returns the resolved reporting group name.
func (a *Annotator) Group() string { return a.group }

// Apply rewrites the header set in place.  A response that already
// carries Reporting-Endpoints is left completely untouched, so callers
// with manual reporting setups are never overridden.
func (a *Annotator) Apply(h http.Header) {
	if h.Get("Reporting-Endpoints") != "" {
		return
	}

	modified := false
	for _, mh := range monitoredHeaders {
		name, syn := mh.name, mh.syn
		values := h.Values(name)
		if len(values) == 0 {
			continue
		}
		out := make([]string, len(values))
		changed := false
		for i, v := range values {
			if strings.Contains(v, "report-to") || strings.Contains(v, "report-uri ") {
				// Already annotated, leave the value byte-identical.
				slog.Debug("Header already has a reporting directive", "header", name, "value", v)
				out[i] = v
				continue
			}
			out[i] = v + a.directive(syn)
			changed = true
		}
		if changed {
			h.Del(name)
			for _, v := range out {
				h.Add(name, v)
			}
			modified = true
		}
	}

	if modified {
		// Append rather than set: the caller may run unrelated
		// reporting groups of its own.
		h.Add("Reporting-Endpoints", fmt.Sprintf("%s=%q", a.group, a.url))
	}
	if a.cfg.NEL != nil {
		a.applyNEL(h)
	}
}

func (a *Annotator) directive(syn syntax) string {
	switch syn {
	case syntaxCSP:
		// CSP directive grammar: no "=", report-uri keeps working on
		// browsers that predate report-to.  The src parameter lets the
		// endpoint tell the two apart.
		return ";report-uri " + a.url + querySep(a.url) + "src=report-uri" + ";report-to " + a.group
	case syntaxPermissionsPolicy:
		return ";report-to=" + a.group
	default:
		// COOP/COEP are structured headers; the group must be quoted.
		return `;report-to="` + a.group + `"`
	}
}

type reportToEndpoint struct {
	URL string `json:"url"`
}

type reportToGroup struct {
	Group     string             `json:"group"`
	MaxAge    int                `json:"max_age"`
	Endpoints []reportToEndpoint `json:"endpoints"`
}

type nelPolicy struct {
	ReportTo          string   `json:"report_to"`
	MaxAge            int      `json:"max_age"`
	SuccessFraction   *float64 `json:"success_fraction,omitempty"`
	FailureFraction   *float64 `json:"failure_fraction,omitempty"`
	IncludeSubdomains bool     `json:"include_subdomains,omitempty"`
}

// applyNEL emits the legacy Report-To group plus the NEL policy
// header.  NEL has no Reporting-Endpoints equivalent, so the v0
// Report-To header is required for it to resolve the group.
func (a *Annotator) applyNEL(h http.Header) {
	nel := a.cfg.NEL
	maxAge := nel.MaxAge
	if maxAge == 0 {
		maxAge = 86400
	}

	group, err := json.Marshal(reportToGroup{
		Group:     a.group,
		MaxAge:    maxAge,
		Endpoints: []reportToEndpoint{{URL: a.url}},
	})
	if err != nil {
		slog.Error("Unable to marshal Report-To header", "error", err)
		return
	}
	h.Add("Report-To", string(group))

	policy, err := json.Marshal(nelPolicy{
		ReportTo:          a.group,
		MaxAge:            maxAge,
		SuccessFraction:   nel.SuccessFraction,
		FailureFraction:   nel.FailureFraction,
		IncludeSubdomains: nel.IncludeSubdomains,
	})
	if err != nil {
		slog.Error("Unable to marshal NEL header", "error", err)
		return
	}
	h.Set("NEL", string(policy))
}

// Wrap returns middleware that annotates the response headers of next
// just before the first byte (or status) is written, once the wrapped
// handler has finished setting its own policy headers.  A handler that
// sets headers and returns without writing anything still gets
// annotated before net/http flushes the implicit 200.
func (a *Annotator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aw := &annotatingWriter{ResponseWriter: w, annotator: a}
		next.ServeHTTP(aw, r)
		aw.annotate()
	})
}

type annotatingWriter struct {
	http.ResponseWriter
	annotator *Annotator
	done      bool
}

func (w *annotatingWriter) annotate() {
	if w.done {
		return
	}
	w.done = true
	w.annotator.Apply(w.Header())
}

func (w *annotatingWriter) WriteHeader(status int) {
	w.annotate()
	w.ResponseWriter.WriteHeader(status)
}

func (w *annotatingWriter) Write(b []byte) (int, error) {
	w.annotate()
	return w.ResponseWriter.Write(b)
}

// Flush annotates first: flushing commits the headers.
func (w *annotatingWriter) Flush() {
	w.annotate()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *annotatingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
