package capability

import (
	"context"
	"log/slog"

	"github.com/jfarrand/ariadne/pkg/ariadne/llm"
	"github.com/jfarrand/ariadne/pkg/ariadne/search"
)

// stubClient replays canned completions and records the requests it saw.
type stubClient struct {
	content  string
	err      error
	requests []llm.CompletionRequest
}

func (c *stubClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: c.content, Model: "stub"}, nil
}

// stubFetcher replays canned search results and records queries.
type stubFetcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *stubFetcher) Fetch(_ context.Context, query string, _ int) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
