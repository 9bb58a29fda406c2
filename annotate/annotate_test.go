package annotate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_CSP(t *testing.T) {
	a := New("/ep", Config{})
	h := http.Header{}
	h.Set("Content-Security-Policy", "script-src 'self'")

	a.Apply(h)

	assert.Equal(t, "script-src 'self';report-uri /ep?src=report-uri;report-to reporter",
		h.Get("Content-Security-Policy"))
	assert.Equal(t, `reporter="/ep"`, h.Get("Reporting-Endpoints"))
}

func TestApply_AlreadyAnnotatedValueIsUntouched(t *testing.T) {
	a := New("/ep", Config{})
	h := http.Header{}
	already := "script-src 'self';report-to othergroup"
	h.Set("Content-Security-Policy", already)
	h.Set("Cross-Origin-Opener-Policy", "same-origin")

	a.Apply(h)

	// The annotated header stays byte-identical while its sibling
	// still gets a directive.
	assert.Equal(t, already, h.Get("Content-Security-Policy"))
	assert.Equal(t, `same-origin;report-to="reporter"`, h.Get("Cross-Origin-Opener-Policy"))
	assert.NotEmpty(t, h.Get("Reporting-Endpoints"))
}

func TestApply_LegacyReportURIAlsoCountsAsAnnotated(t *testing.T) {
	a := New("/ep", Config{})
	h := http.Header{}
	already := "script-src 'self';report-uri /old"
	h.Set("Content-Security-Policy", already)

	a.Apply(h)

	assert.Equal(t, already, h.Get("Content-Security-Policy"))
	// Nothing changed, so no Reporting-Endpoints either.
	assert.Empty(t, h.Get("Reporting-Endpoints"))
}

func TestApply_ExistingReportingEndpointsWins(t *testing.T) {
	a := New("/ep", Config{})
	h := http.Header{}
	h.Set("Reporting-Endpoints", `mine="/manual"`)
	h.Set("Content-Security-Policy", "default-src 'self'")

	a.Apply(h)

	assert.Equal(t, "default-src 'self'", h.Get("Content-Security-Policy"))
	assert.Equal(t, `mine="/manual"`, h.Get("Reporting-Endpoints"))
}

func TestApply_AbsentHeadersSkipped(t *testing.T) {
	a := New("/ep", Config{})
	h := http.Header{}

	a.Apply(h)

	assert.Empty(t, h)
}

func TestApply_PerHeaderSyntax(t *testing.T) {
	a := New("/ep", Config{ReportingGroup: "grp"})
	h := http.Header{}
	h.Set("Permissions-Policy", "geolocation=()")
	h.Set("Cross-Origin-Embedder-Policy-Report-Only", "require-corp")

	a.Apply(h)

	assert.Equal(t, "geolocation=();report-to=grp", h.Get("Permissions-Policy"))
	assert.Equal(t, `require-corp;report-to="grp"`, h.Get("Cross-Origin-Embedder-Policy-Report-Only"))
}

func TestApply_MultiValueOrderPreserved(t *testing.T) {
	a := New("/ep", Config{})
	h := http.Header{}
	h.Add("Content-Security-Policy", "script-src 'self';report-to other")
	h.Add("Content-Security-Policy", "img-src 'self'")

	a.Apply(h)

	values := h.Values("Content-Security-Policy")
	require.Len(t, values, 2)
	assert.Equal(t, "script-src 'self';report-to other", values[0])
	assert.Equal(t, "img-src 'self';report-uri /ep?src=report-uri;report-to reporter", values[1])
}

func TestGroupResolution(t *testing.T) {
	assert.Equal(t, "reporter", New("/ep", Config{}).Group())
	assert.Equal(t, "grp", New("/ep", Config{ReportingGroup: "grp"}).Group())
	// The default group also receives deprecation/crash/intervention
	// reports, so it overrides a configured group name.
	assert.Equal(t, "default", New("/ep", Config{ReportingGroup: "grp", EnableDefaultReporters: true}).Group())
}

func TestApply_VersionAppendedToURL(t *testing.T) {
	a := New("/ep", Config{Version: "v7"})
	h := http.Header{}
	h.Set("Content-Security-Policy", "script-src 'self'")

	a.Apply(h)

	assert.Equal(t, "script-src 'self';report-uri /ep?version=v7&src=report-uri;report-to reporter",
		h.Get("Content-Security-Policy"))
	assert.Equal(t, `reporter="/ep?version=v7"`, h.Get("Reporting-Endpoints"))

	// URL that already has a query string gets & instead of ?.
	b := New("/ep?k=1", Config{Version: "v7"})
	h = http.Header{}
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	b.Apply(h)
	assert.Equal(t, `reporter="/ep?k=1&version=v7"`, h.Get("Reporting-Endpoints"))
}

func TestApply_NEL(t *testing.T) {
	half := 0.5
	a := New("https://r.example/ep", Config{
		NEL: &NELConfig{
			MaxAge:            3600,
			FailureFraction:   &half,
			IncludeSubdomains: true,
		},
	})
	h := http.Header{}
	h.Set("Content-Security-Policy", "default-src 'self'")

	a.Apply(h)

	var group map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.Get("Report-To")), &group))
	assert.Equal(t, "reporter", group["group"])
	assert.Equal(t, float64(3600), group["max_age"])

	var nel map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.Get("NEL")), &nel))
	assert.Equal(t, "reporter", nel["report_to"])
	assert.Equal(t, 0.5, nel["failure_fraction"])
	assert.Equal(t, true, nel["include_subdomains"])
	_, hasSuccess := nel["success_fraction"]
	assert.False(t, hasSuccess)
}

// A handler that only sets headers and never writes leaves the
// implicit 200 to net/http; the middleware must still annotate before
// handing the response back.
func TestWrap_HandlerWritesNothing(t *testing.T) {
	a := New("/ep", Config{})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "script-src 'self'")
	})

	srv := httptest.NewServer(a.Wrap(inner))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "script-src 'self';report-uri /ep?src=report-uri;report-to reporter",
		resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, `reporter="/ep"`, resp.Header.Get("Reporting-Endpoints"))
}

func TestWrap_FlushCommitsAnnotatedHeaders(t *testing.T) {
	a := New("/ep", Config{})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "script-src 'self'")
		w.(http.Flusher).Flush()
	})

	rec := httptest.NewRecorder()
	a.Wrap(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, rec.Flushed)
	assert.Equal(t, "script-src 'self';report-uri /ep?src=report-uri;report-to reporter",
		rec.Header().Get("Content-Security-Policy"))
}

func TestWrap_Unwrap(t *testing.T) {
	a := New("/ep", Config{})
	var unwrapped http.ResponseWriter
	rec := httptest.NewRecorder()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		require.True(t, ok)
		unwrapped = u.Unwrap()
	})

	a.Wrap(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Same(t, http.ResponseWriter(rec), unwrapped)
}

func TestWrap(t *testing.T) {
	a := New("/ep", Config{})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "script-src 'self'")
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	a.Wrap(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "script-src 'self';report-uri /ep?src=report-uri;report-to reporter",
		rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, `reporter="/ep"`, rec.Header().Get("Reporting-Endpoints"))
}
