package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginChecker(t *testing.T) {
	allowed := []string{"https://app.example.com", " https://*.preview.example.com ", "http://localhost:5173"}
	check := OriginChecker(allowed)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://localhost:5173", true},
		{"https://pr-42.preview.example.com", true},
		{"https://preview.example.com", false},
		{"https://a/b.preview.example.com", false},
		{"https://evil.com", false},
		{"http://app.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/terminal", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, check(r))
		})
	}
}

func TestOriginChecker_Wildcard(t *testing.T) {
	r := httptest.NewRequest("GET", "/terminal", nil)
	r.Header.Set("Origin", "https://anything.test")
	assert.True(t, OriginChecker([]string{"*"})(r))
	assert.False(t, OriginChecker(nil)(r))
}

func TestMatchWildcardOrigin(t *testing.T) {
	assert.True(t, matchWildcardOrigin("https://x.example.com", "https://*.example.com"))
	assert.False(t, matchWildcardOrigin("https://.example.com", "https://*.example.com"))
	assert.False(t, matchWildcardOrigin("https://example.com", "https://*.example.com"))
	assert.False(t, matchWildcardOrigin("https://x.example.com", "https://example.com"))
}
