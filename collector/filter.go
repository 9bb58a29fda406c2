package collector

import (
	"strings"

	"github.com/seclabs/report-collector/report"
)

var extensionPrefixes = []string{
	"chrome-extension",
	"moz-extension",
	"safari-web-extension",
}

// drop applies the post-validation filter.  It returns the metric
// label for the drop reason, or false when the report should be
// delivered.
func (h *Handler) drop(r *report.Report) (string, bool) {
	if h.IgnoreBrowserExtensions {
		if b, isCSP := r.Body.(report.CSPViolationBody); isCSP {
			for _, prefix := range extensionPrefixes {
				if strings.HasPrefix(b.SourceFile, prefix) {
					return "browser_extension", true
				}
			}
		}
	}
	// MaxAge is seconds, Age is milliseconds; the boundary itself is kept.
	if h.MaxAge > 0 && r.Age > int64(h.MaxAge)*1000 {
		return "max_age", true
	}
	return "", false
}
