package search

import (
	"strings"
	"unicode/utf8"

	"github.com/wrale/discogs-device-broker/internal/discogs"
)

// Match qualities reported to clients
const (
	MatchExact = "exact"
	MatchFuzzy = "fuzzy"
	MatchNone  = "none"
)

func validMatchQuality(q string) bool {
	switch q {
	case MatchExact, MatchFuzzy, MatchNone:
		return true
	}
	return false
}

// shortArtistRunes is the artist length below which any result is accepted
const shortArtistRunes = 3

// releaseLinker turns a release URI into a website URL
type releaseLinker func(uri string) string

// selectResult applies the match policy to results in provider order
func selectResult(artist string, results []discogs.SearchResult, link releaseLinker) *Payload {
	if len(results) == 0 {
		return &Payload{MatchQuality: MatchNone}
	}

	norm := Normalize(artist)
	short := utf8.RuneCountInString(norm) < shortArtistRunes
	for i := range results {
		if short || strings.Contains(strings.ToLower(results[i].Title), norm) {
			return &Payload{
				Result:       toResult(results[i], false, link),
				MatchQuality: MatchExact,
			}
		}
	}

	return &Payload{
		Result:       toResult(results[0], true, link),
		MatchQuality: MatchFuzzy,
	}
}

func toResult(r discogs.SearchResult, fuzzy bool, link releaseLinker) *Result {
	res := &Result{
		Title:      r.Title,
		Year:       string(r.Year),
		Genres:     []string(r.Genre),
		Styles:     []string(r.Style),
		FuzzyMatch: fuzzy,
	}
	if len(r.Label) > 0 {
		res.Label = r.Label[0]
	}
	if res.Genres == nil {
		res.Genres = []string{}
	}
	if res.Styles == nil {
		res.Styles = []string{}
	}
	if r.URI != "" {
		res.URL = link(r.URI)
	}
	return res
}
