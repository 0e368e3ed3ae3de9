package engine

import "strings"

// MatchPhrase returns the first phrase contained in text, compared
// case-insensitively, or "" when none matches.
func MatchPhrase(text string, phrases []string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}
