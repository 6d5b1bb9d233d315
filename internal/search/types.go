package search

// Query is a track lookup request
type Query struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Album  string `json:"album,omitempty"`
}

// Result is a release normalized for clients
type Result struct {
	Title      string   `json:"title"`
	Year       string   `json:"year"`
	Label      string   `json:"label"`
	Genres     []string `json:"genres"`
	Styles     []string `json:"styles"`
	URL        string   `json:"url"`
	FuzzyMatch bool     `json:"fuzzy_match"`
}

// Payload is the lookup response, also stored verbatim in the cache
type Payload struct {
	Result       *Result `json:"result"`
	MatchQuality string  `json:"match_quality"`
	CacheHit     bool    `json:"cache_hit"`
}
