package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalize lowercases s and keeps only letters, digits and spaces
func Normalize(s string) string {
	lower := cases.Lower(language.Und).String(s)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if r == ' ' || unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CacheKey builds the cache key for a lookup. Queries that differ only in
// case or punctuation share a key.
func CacheKey(q Query) string {
	return Normalize(q.Artist) + "|" + Normalize(q.Title) + "|" + Normalize(q.Album)
}
