// Package search defines the pluggable web-fetch capability used by the
// research step, plus a Brave Search implementation.
package search

import "context"

// Result is one normalized search result.
type Result struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Source    string `json:"source,omitempty"`
	Published string `json:"published,omitempty"`
}

// Fetcher runs a query against a search backend and returns normalized
// results. An empty slice is a valid outcome (no results), not an error;
// errors are reserved for transport and auth failures.
type Fetcher interface {
	Fetch(ctx context.Context, query string, count int) ([]Result, error)
}
