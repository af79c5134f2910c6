package ingest

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// trailing punctuation that belongs to the sentence, not the URL
const urlTrailingCutset = `.,;:!?"')]`

// ExtractURLs returns the outbound links in text, in order of appearance,
// with trailing sentence punctuation stripped and duplicates removed.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		u := strings.TrimRight(m, urlTrailingCutset)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
