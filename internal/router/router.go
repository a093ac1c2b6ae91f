// Package router selects an upstream pool for an inbound request using the
// host + longest-path-prefix algorithm in spec §4.2.
package router

import (
	"sort"
	"strings"

	"edgeproxy/internal/config"
)

// candidate is a pool considered for a given request, carrying the
// information needed to rank it.
type candidate struct {
	name      string
	prefixLen int
}

// Route selects the best-matching pool name for the given host and path.
// Matching rules (spec §4.2):
//  1. A pool whose route.host is set must match the request's host exactly
//     (case-insensitive); a pool with no host constraint matches any host.
//  2. Among pools matching on host, the one with the longest configured
//     path_prefix that is a prefix of the request path wins.
//  3. A pool with no path_prefix matches any path, and loses to any pool
//     with a non-empty matching prefix.
//  4. Ties (equal prefix length) are broken by ascending lexicographic pool
//     name (spec §9).
func Route(pools map[string]config.Upstream, host, path string) (string, bool) {
	host = strings.ToLower(host)
	// Strip a port component if present, matching how Host headers arrive.
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	var candidates []candidate
	for name, up := range pools {
		if up.Route.Host != "" && !strings.EqualFold(up.Route.Host, host) {
			continue
		}
		if up.Route.PathPrefix != "" && !strings.HasPrefix(path, up.Route.PathPrefix) {
			continue
		}
		candidates = append(candidates, candidate{
			name:      name,
			prefixLen: len(up.Route.PathPrefix),
		})
	}

	if len(candidates) == 0 {
		return "", false
	}

	// Longest path prefix wins; equal-length prefixes break ties by
	// ascending lexicographic pool name (spec §9).
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.prefixLen != b.prefixLen {
			return a.prefixLen > b.prefixLen
		}
		return a.name < b.name
	})

	return candidates[0].name, true
}
