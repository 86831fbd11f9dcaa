package cache

import (
	"mime"
	"strings"

	"github.com/ryanuber/go-glob"
)

// PathTTLRule is one entry of the ordered ttl_by_path_pattern list.
type PathTTLRule struct {
	Glob string
	TTL  int
}

// TTLPolicy is the pure function ttl(path, status, content_type) -> seconds
// described in SPEC_FULL.md §4.1. It holds no mutable state of its own. It
// is built once, when the Engine is constructed; a later configuration
// reload does not change the tables of a running policy.
type TTLPolicy struct {
	PathRules       []PathTTLRule
	StatusTTL       map[int]int
	ContentTypeTTL  map[string]int
	DefaultTTL      int
}

// Resolve returns the TTL in seconds for a response, applying the
// precedence: path pattern > status code > content type > default. The
// result is always clamped to be >= 0.
func (p TTLPolicy) Resolve(path string, status int, contentType string) int {
	for _, rule := range p.PathRules {
		if glob.Glob(rule.Glob, path) {
			return clampTTL(rule.TTL)
		}
	}

	if ttl, ok := p.StatusTTL[status]; ok {
		return clampTTL(ttl)
	}

	if ttl, ok := p.ContentTypeTTL[normalizeMediaType(contentType)]; ok {
		return clampTTL(ttl)
	}

	return clampTTL(p.DefaultTTL)
}

func clampTTL(ttl int) int {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// normalizeMediaType strips parameters (e.g. "; charset=utf-8") and
// lower-cases the media type for case-insensitive comparison.
func normalizeMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// mime.ParseMediaType is strict about malformed parameter syntax;
		// fall back to a best-effort split on ';'.
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mediaType)
}

// IsJSONMediaType reports whether contentType is an application/*json media
// type, the only shape the pipeline is willing to cache (SPEC_FULL.md §4.5).
func IsJSONMediaType(contentType string) bool {
	mt := normalizeMediaType(contentType)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
