package util

import "strings"

// CollapseSpace trims a string and folds internal whitespace runs into
// single spaces, the way scraped element text usually needs.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most max runes. Multi-byte text is common in
// scraped titles, so this counts runes, not bytes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
