package collector

import (
	"net/http"
	"regexp"
)

// OriginAllowlist decides which Origin values get echoed back in
// Access-Control-Allow-Origin.  An allowlist can hold exact origins,
// regular expressions, or the wildcard "*".
type OriginAllowlist struct {
	wildcard bool
	exact    map[string]bool
	patterns []*regexp.Regexp
}

// NewOriginAllowlist builds an allowlist from exact origin strings
// (the literal "*" enables wildcard mode) and optional regular
// expressions.
func NewOriginAllowlist(origins []string, patterns ...*regexp.Regexp) *OriginAllowlist {
	a := &OriginAllowlist{
		exact:    make(map[string]bool, len(origins)),
		patterns: patterns,
	}
	for _, o := range origins {
		if o == "*" {
			a.wildcard = true
			continue
		}
		a.exact[o] = true
	}
	return a
}

// Allow reports whether origin is acceptable and, if so, the value to
// send in Access-Control-Allow-Origin: "*" in wildcard mode, the
// origin itself otherwise.
func (a *OriginAllowlist) Allow(origin string) (string, bool) {
	if a == nil || origin == "" {
		return "", false
	}
	if a.wildcard {
		return "*", true
	}
	if a.exact[origin] {
		return origin, true
	}
	for _, p := range a.patterns {
		if p.MatchString(origin) {
			return origin, true
		}
	}
	return "", false
}

func (h *Handler) setCORSHeaders(resp http.ResponseWriter, req *http.Request) {
	value, allowed := h.AllowedOrigins.Allow(req.Header.Get("Origin"))
	if !allowed {
		return
	}
	resp.Header().Set("Access-Control-Allow-Origin", value)
	if value != "*" {
		resp.Header().Add("Vary", "Origin")
	}
}
