// Package aggregate canonicalizes and de-duplicates the URLs gathered across
// an iteration's set of search queries.
package aggregate

import (
	"net/url"
	"strings"
)

// DedupeURLs merges the ordered URL groups returned by one Searcher call per
// query in an iteration and removes duplicates across the whole iteration.
// Groups are processed in query order, and within a group in result order;
// the first query to surface a URL wins — later occurrences of the same
// canonical URL, whether in the same group or a later one, are dropped.
func DedupeURLs(groups [][]string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 64)
	for _, g := range groups {
		for _, raw := range g {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			u, err := url.Parse(raw)
			if err != nil {
				continue
			}
			key := canonicalize(u)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

func canonicalize(u *url.URL) string {
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	q := u.Query()
	for _, p := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "utm_id", "gclid", "fbclid"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
