package collector

import (
	"testing"

	"github.com/seclabs/report-collector/report"
)

func cspReportWithSource(sourceFile string) *report.Report {
	return &report.Report{
		Type:   report.TypeCSPViolation,
		Body:   report.CSPViolationBody{SourceFile: sourceFile},
		Format: report.FormatReportTo,
	}
}

func TestDrop_BrowserExtensions(t *testing.T) {
	h := &Handler{IgnoreBrowserExtensions: true}

	for _, src := range []string{
		"chrome-extension://abcdef/content.js",
		"moz-extension://1234/inject.js",
		"safari-web-extension://xyz/script.js",
	} {
		if _, dropped := h.drop(cspReportWithSource(src)); !dropped {
			t.Errorf("report from %q not dropped", src)
		}
	}

	if _, dropped := h.drop(cspReportWithSource("https://example.com/app.js")); dropped {
		t.Error("regular CSP report dropped")
	}

	// Only CSP violations carry a source file worth checking.
	other := &report.Report{Type: report.TypeCrash, Body: report.CrashBody{}}
	if _, dropped := h.drop(other); dropped {
		t.Error("non-CSP report dropped by extension filter")
	}

	// Filter off: extensions pass through.
	h = &Handler{}
	if _, dropped := h.drop(cspReportWithSource("chrome-extension://abcdef/x.js")); dropped {
		t.Error("extension report dropped with filter disabled")
	}
}

func TestDrop_MaxAgeBoundary(t *testing.T) {
	h := &Handler{MaxAge: 30}

	r := &report.Report{Type: report.TypeCrash, Body: report.CrashBody{}, Age: 30 * 1000}
	if _, dropped := h.drop(r); dropped {
		t.Error("report at the age boundary dropped; boundary is inclusive")
	}

	r.Age = 30*1000 + 1
	if _, dropped := h.drop(r); !dropped {
		t.Error("report past the age boundary kept")
	}

	// MaxAge of zero keeps everything.
	h = &Handler{}
	r.Age = 1 << 40
	if _, dropped := h.drop(r); dropped {
		t.Error("report dropped with no age limit configured")
	}
}
