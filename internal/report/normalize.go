// Package report turns captured log streams into per-route endpoint
// summaries and merges summaries from many sessions into a catalog.
package report

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var uuidSegment = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`,
)

// Normalize collapses volatile path segments into placeholders so that
// requests differing only in object ids land on the same route.
// The check order matters: UUID wins over hash, hash over plain digits.
// Placeholders contain a colon, so the function is idempotent.
func Normalize(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		switch {
		case uuidSegment.MatchString(segment):
			segments[i] = ":uuid"
		case len(segment) >= 16 && isHex(segment):
			segments[i] = ":hash"
		case isDigits(segment):
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// QueryKeys returns the sorted unique query keys of rawURL, or nil
// when the URL or its query string does not parse.
func QueryKeys(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
