package collector

import (
	"regexp"
	"testing"
)

func TestOriginAllowlist(t *testing.T) {
	tests := []struct {
		name      string
		allowlist *OriginAllowlist
		origin    string
		want      string
		allowed   bool
	}{
		{
			name:      "exact match",
			allowlist: NewOriginAllowlist([]string{"https://good.example"}),
			origin:    "https://good.example",
			want:      "https://good.example",
			allowed:   true,
		},
		{
			name:      "exact mismatch",
			allowlist: NewOriginAllowlist([]string{"https://good.example"}),
			origin:    "https://evil.example",
			allowed:   false,
		},
		{
			name:      "wildcard",
			allowlist: NewOriginAllowlist([]string{"*"}),
			origin:    "https://anyone.example",
			want:      "*",
			allowed:   true,
		},
		{
			name:      "pattern match",
			allowlist: NewOriginAllowlist(nil, regexp.MustCompile(`^https://[a-z]+\.example$`)),
			origin:    "https://sub.example",
			want:      "https://sub.example",
			allowed:   true,
		},
		{
			name:      "pattern mismatch",
			allowlist: NewOriginAllowlist(nil, regexp.MustCompile(`^https://[a-z]+\.example$`)),
			origin:    "https://sub.example.evil",
			allowed:   false,
		},
		{
			name:      "list of origins",
			allowlist: NewOriginAllowlist([]string{"https://a.example", "https://b.example"}),
			origin:    "https://b.example",
			want:      "https://b.example",
			allowed:   true,
		},
		{
			name:      "empty origin never matches",
			allowlist: NewOriginAllowlist([]string{"*"}),
			origin:    "",
			allowed:   false,
		},
		{
			name:    "nil allowlist",
			origin:  "https://good.example",
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allowed := tt.allowlist.Allow(tt.origin)
			if allowed != tt.allowed {
				t.Fatalf("Allow(%q) allowed = %v, want %v", tt.origin, allowed, tt.allowed)
			}
			if got != tt.want {
				t.Errorf("Allow(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}
