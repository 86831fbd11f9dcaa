package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTTLPolicy_PathPatternWins(t *testing.T) {
	p := TTLPolicy{
		PathRules:      []PathTTLRule{{Glob: "/v1/static/*", TTL: 3600}},
		StatusTTL:      map[int]int{200: 60},
		ContentTypeTTL: map[string]int{"application/json": 30},
		DefaultTTL:     10,
	}
	assert.Equal(t, 3600, p.Resolve("/v1/static/logo.png", 200, "image/png"))
}

func TestTTLPolicy_StatusBeatsContentType(t *testing.T) {
	p := TTLPolicy{
		StatusTTL:      map[int]int{404: 5},
		ContentTypeTTL: map[string]int{"application/json": 30},
		DefaultTTL:     10,
	}
	assert.Equal(t, 5, p.Resolve("/v1/things", 404, "application/json"))
}

func TestTTLPolicy_ContentTypeBeatsDefault(t *testing.T) {
	p := TTLPolicy{
		ContentTypeTTL: map[string]int{"application/json": 30},
		DefaultTTL:     10,
	}
	assert.Equal(t, 30, p.Resolve("/v1/things", 200, "application/json; charset=utf-8"))
}

func TestTTLPolicy_FallsBackToDefault(t *testing.T) {
	p := TTLPolicy{DefaultTTL: 10}
	assert.Equal(t, 10, p.Resolve("/v1/things", 200, "text/plain"))
}

func TestTTLPolicy_ClampsNegativeToZero(t *testing.T) {
	p := TTLPolicy{DefaultTTL: -5}
	assert.Equal(t, 0, p.Resolve("/v1/things", 200, "text/plain"))
}

func TestIsJSONMediaType(t *testing.T) {
	cases := map[string]bool{
		"application/json":            true,
		"application/json; charset=x": true,
		"application/vnd.api+json":    true,
		"text/plain":                  false,
		"":                            false,
	}
	for ct, want := range cases {
		assert.Equal(t, want, IsJSONMediaType(ct), ct)
	}
}
