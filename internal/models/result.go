package models

// SearchResult is a single search hit.
type SearchResult struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// SearchResponse is the response for a search request. Results are ordered by non-increasing score.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}
