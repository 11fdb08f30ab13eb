package ws

import (
	"net/http"
	"strings"
)

// OriginChecker returns a CheckOrigin function accepting requests without
// an Origin header and origins matching allowed. Entries may be "*",
// an exact origin, or a wildcard subdomain pattern such as
// "https://*.example.com".
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return OriginAllowed(origin, allowed)
	}
}

// OriginAllowed reports whether origin matches one of the allowed entries.
func OriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "*":
			return true
		case a == origin:
			return true
		case strings.Contains(a, "*") && matchWildcardOrigin(origin, a):
			return true
		}
	}
	return false
}

// matchWildcardOrigin reports whether origin matches a single-wildcard
// pattern. The wildcard never spans a path separator.
func matchWildcardOrigin(origin, pattern string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return false
	}
	if len(origin) < len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return middle != "" && !strings.Contains(middle, "/")
}
