// Package collector implements the HTTP ingestion endpoint for browser
// violation reports.  It accepts the modern buffered Reporting API
// payload, Safari's single-object variant, and legacy CSP Level 2
// report-uri POSTs, normalizes each report and hands it to a
// caller-supplied callback.
package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seclabs/report-collector/report"
)

// HTTP metrics
var (
	requests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_collector_requests",
		Help: "The total number of received HTTP requests",
	})
	readErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_collector_read_errors",
		Help: "The number of HTTP requests that failed with read errors",
	})
	truncatedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_collector_truncated_errors",
		Help: "The number of HTTP requests rejected for being too large",
	})
	parseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_collector_parse_errors",
		Help: "The number of HTTP requests that failed due to JSON parsing errors",
	})
	validationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_collector_validation_errors",
		Help: "The number of reports rejected by schema validation",
	})
	reportsByFormat = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_collector_reports",
		Help: "The number of accepted reports, by wire format",
	}, []string{"format"})
	filteredReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_collector_filtered_reports",
		Help: "The number of reports dropped by the post-validation filter",
	}, []string{"reason"})
	responseCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_collector_status_codes",
		Help: "The number of each HTTP status code",
	}, []string{"status_code"})
	requestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "report_collector_request_latency_seconds",
		Help: "A histogram of request latency",
		// Create buckets from 1ms to 10 seconds, with 10 steps per order of magnitude,
		// or roughly a 25% jump between buckets.
		Buckets: prometheus.ExponentialBucketsRange(0.001, 10.000, 41),
	})
	requestBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "report_collector_request_size_bytes",
		Help: "A histogram of request size",
		Buckets: prometheus.ExponentialBucketsRange(1, 1000000, 6*5+1),
	})
	requestEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "report_collector_request_size_entries",
		Help: "A histogram of the number of reports per request",
		Buckets: prometheus.ExponentialBucketsRange(1, 1000, 3*5+1),
	})
)

// DefaultMaxBytes caps POST bodies at 200 KB unless overridden.
const DefaultMaxBytes = 200 << 10

const (
	contentTypeReports   = "application/reports+json"
	contentTypeCSPReport = "application/csp-report"
)

// Handler is an http.Handler that serves a report collection endpoint.
// The zero value is usable; reports are discarded until OnReport is
// set.
type Handler struct {
	// OnReport receives every report that survives normalization and
	// filtering, in array order for batched payloads.
	OnReport func(*report.Report, *http.Request)

	// OnValidationError, if set, receives reports that failed
	// normalization along with the offending raw object.  Validation
	// failures never abort processing of sibling reports.
	OnValidationError func(err error, raw map[string]any, req *http.Request)

	// IgnoreBrowserExtensions drops CSP violations whose source file
	// is inside a browser extension.
	IgnoreBrowserExtensions bool

	// MaxAge, in seconds, drops buffered reports older than this.
	// Zero means no age limit.
	MaxAge int

	// AllowedOrigins enables CORS handling.  Nil disables it.
	AllowedOrigins *OriginAllowlist

	// Strict makes parse and validation failures produce error
	// statuses (400/422) instead of the default soft 200.  Browsers
	// never retry reports, so the default avoids losing data over a
	// status code nobody reads.
	Strict bool

	// MaxBytes overrides DefaultMaxBytes when positive.
	MaxBytes int64

	// Debug logs every accepted report at debug level.
	Debug bool
}

// MaximumBytes returns the maximum number of bytes allowed in a POST
// request.  Larger requests fail with a 413.
func (h *Handler) MaximumBytes() int64 {
	if h.MaxBytes > 0 {
		return h.MaxBytes
	}
	return DefaultMaxBytes
}

// ServeHTTP handles report submission requests.
func (h *Handler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	start := time.Now()
	requests.Inc()

	ctx := req.Context()
	span := trace.SpanFromContext(ctx)
	span.AddEvent("Received request")

	// recordTime updates requestLatency with the time since this request started.
	recordTime := func() {
		requestLatency.Observe(time.Since(start).Seconds())
	}
	// fail handles failures, making sure that the span is updated, an
	// HTTP error is returned, and status code metrics are updated.
	fail := func(status int, err error, msg string) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		http.Error(resp, msg, status)
		responseCodes.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
		recordTime()
	}
	ok := func(status int) {
		span.SetStatus(codes.Ok, "")
		responseCodes.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
		recordTime()
	}

	h.setCORSHeaders(resp, req)

	switch req.Method {
	case http.MethodOptions:
		// The report content types are never CORS-simple, so every
		// cross-origin POST is preceded by a preflight.
		hd := resp.Header()
		hd.Set("Access-Control-Allow-Headers", "Content-Type")
		hd.Set("Access-Control-Allow-Methods", "POST")
		hd.Set("Access-Control-Max-Age", "7200")
		resp.WriteHeader(http.StatusOK)
		ok(http.StatusOK)
		return
	case http.MethodPost:
	default:
		resp.Header().Set("Allow", "POST, OPTIONS")
		fail(http.StatusMethodNotAllowed, nil, "POST required")
		return
	}

	max := h.MaximumBytes()

	body := bytes.NewBuffer(make([]byte, 0, max)) // Cap the number of bytes read
	b, err := body.ReadFrom(io.LimitReader(req.Body, max))
	if err != nil {
		readErrors.Inc()
		slog.Error("Unable to read from req.Body", "error", err)
		fail(http.StatusBadRequest, err, "Read error")
		return
	}

	requestBytes.Observe(float64(b))

	if b >= max {
		truncatedErrors.Inc()
		slog.Error("Message truncated", "size", b)
		fail(http.StatusRequestEntityTooLarge, nil, "Too big")
		return
	}

	ct, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		fail(http.StatusBadRequest, err, "Unparseable content type")
		return
	}

	var accepted int
	switch ct {
	case contentTypeCSPReport:
		accepted, err = h.ingestLegacyCSP(body.Bytes(), req)
	case contentTypeReports:
		accepted, err = h.ingestReportTo(body.Bytes(), req)
	default:
		fail(http.StatusBadRequest, nil, "Unsupported content type")
		return
	}
	if err != nil {
		if fe, isFatal := err.(*requestError); isFatal {
			fail(fe.status, fe.err, fe.msg)
			return
		}
		// Soft failure: the report is lost either way, and browsers do
		// not retry, so answer 200 unless strict mode asks otherwise.
		if h.Strict {
			fail(http.StatusUnprocessableEntity, err, "Invalid report")
			return
		}
	}

	requestEntries.Observe(float64(accepted))
	span.AddEvent(fmt.Sprintf("Accepted %d reports", accepted))

	io.WriteString(resp, "OK\n")
	ok(http.StatusOK)
}

// requestError is a malformed-request failure that must surface as an
// HTTP error status regardless of strict mode.
type requestError struct {
	status int
	msg    string
	err    error
}

func (e *requestError) Error() string { return e.msg }

// ingestLegacyCSP handles "application/csp-report" bodies: one report
// per request, nested under a "csp-report" key, with hyphenated CSP
// Level 2 field names and no age information.
func (h *Handler) ingestLegacyCSP(body []byte, req *http.Request) (int, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		parseErrors.Inc()
		slog.Error("Unable to parse JSON", "error", err, "json", string(body))
		return 0, &requestError{status: http.StatusBadRequest, msg: "Parse error", err: err}
	}

	inner, found := payload["csp-report"].(map[string]any)
	if !found {
		return 0, &requestError{status: http.StatusBadRequest, msg: "Missing csp-report object"}
	}

	r, err := report.FromCSPReportURI(inner, req.URL.Query().Get("disposition"))
	if err != nil {
		h.reportInvalid(err, payload, req)
		return 0, err
	}
	return h.deliver(r, req), nil
}

// ingestReportTo handles "application/reports+json" bodies: either the
// standard buffered array, or Safari's bare single-report object.
func (h *Handler) ingestReportTo(body []byte, req *http.Request) (int, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		parseErrors.Inc()
		slog.Error("Unable to parse JSON", "error", err, "json", string(body))
		return 0, &requestError{status: http.StatusBadRequest, msg: "Parse error", err: err}
	}

	switch p := payload.(type) {
	case []any:
		var accepted int
		var firstErr error
		for _, elem := range p {
			raw, found := elem.(map[string]any)
			if !found {
				err := &report.ValidationError{Reason: "report is not an object"}
				h.reportInvalid(err, nil, req)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			r, err := report.FromReportTo(raw)
			if err != nil {
				h.reportInvalid(err, raw, req)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			accepted += h.deliver(r, req)
		}
		return accepted, firstErr
	case map[string]any:
		if _, found := p["body"].(map[string]any); !found {
			return 0, &requestError{status: http.StatusBadRequest, msg: "Missing report body"}
		}
		r, err := report.FromSafari(p)
		if err != nil {
			h.reportInvalid(err, p, req)
			return 0, err
		}
		return h.deliver(r, req), nil
	default:
		return 0, &requestError{status: http.StatusBadRequest, msg: "Unexpected payload shape"}
	}
}

// deliver finishes a normalized report: request metadata enrichment,
// filtering, then the caller callback.  Returns 1 if the report was
// handed to the callback.
func (h *Handler) deliver(r *report.Report, req *http.Request) int {
	if r.UserAgent == "" {
		r.UserAgent = req.UserAgent()
	}
	r.Version = req.URL.Query().Get("version")

	reportsByFormat.WithLabelValues(string(r.Format)).Inc()

	if reason, dropped := h.drop(r); dropped {
		filteredReports.WithLabelValues(reason).Inc()
		if h.Debug {
			slog.Debug("Report filtered", "reason", reason, "type", r.Type, "url", r.URL)
		}
		return 0
	}

	if h.Debug {
		slog.Debug("Report accepted", "type", r.Type, "url", r.URL, "format", r.Format, "age", r.Age)
	}
	if h.OnReport != nil {
		h.OnReport(r, req)
	}
	return 1
}

func (h *Handler) reportInvalid(err error, raw map[string]any, req *http.Request) {
	validationErrors.Inc()
	slog.Warn("Report failed validation", "error", err)
	if h.OnValidationError != nil {
		if ve, found := err.(*report.ValidationError); found && raw == nil {
			raw = ve.Raw
		}
		h.OnValidationError(err, raw, req)
	}
}
