package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyGenerator derives the canonical CacheKey for a request. By default it
// is just the request path; when IncludeQuery is set, a normalised query
// string is folded in so that key order never fragments the cache.
type KeyGenerator struct {
	IncludeQuery bool
}

// Generate returns the canonical fingerprint for path and rawQuery.
// Equality of the result is byte equality, per the data model.
func (g KeyGenerator) Generate(path, rawQuery string) string {
	if !g.IncludeQuery || rawQuery == "" {
		return path
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil || len(values) == 0 {
		return path
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// Far-tier key schema helpers, per SPEC_FULL.md §6.
func staleKey(k string) string   { return "stale:" + k }
func lockKey(k string) string    { return "lock:" + k }
func refreshKey(k string) string { return "refresh:" + k }
