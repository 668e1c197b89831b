package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfarrand/ariadne/pkg/ariadne/search"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

var tabletResults = []search.Result{
	{Title: "Best tablets", URL: "https://reviews.example.com/tablets", Snippet: "iPad leads"},
	{Title: "Tablet prices", URL: "https://shop.example.org/tablets", Snippet: "from $299", Published: "2 days ago"},
}

func plannedState(goal, requiredInfo string) workflow.State {
	return workflow.State{
		Request: "raw request text",
		Plan: &workflow.Plan{
			Goal:  goal,
			Steps: []workflow.PlanStep{{ID: 1, Description: "search", Agent: KindResearch, RequiredInfo: requiredInfo}},
		},
	}
}

func TestResearcher_NoResultsSkipsGeneration(t *testing.T) {
	client := &stubClient{content: `{"summary": "should not be called"}`}
	fetcher := &stubFetcher{}
	r := NewResearcher(client, fetcher, discardLogger())

	u, err := r.Invoke(context.Background(), plannedState("tablet prices", ""))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSynthesizing, u.Status)
	require.NotNil(t, u.Research)
	assert.Equal(t, NoResultsSummary, u.Research.Summary)
	assert.Empty(t, u.Research.Sources)
	assert.Empty(t, client.requests, "no generation call on empty fetch")
}

func TestResearcher_FetchErrorDegradesToNoResults(t *testing.T) {
	client := &stubClient{}
	fetcher := &stubFetcher{err: errors.New("network down")}
	r := NewResearcher(client, fetcher, discardLogger())

	u, err := r.Invoke(context.Background(), plannedState("tablet prices", ""))
	require.NoError(t, err, "fetch errors degrade, they do not fail the workflow")
	assert.Equal(t, NoResultsSummary, u.Research.Summary)
	assert.Empty(t, client.requests)
}

func TestResearcher_SummarizesFetchedResults(t *testing.T) {
	client := &stubClient{content: `{
		"summary": "Tablets range from $299; iPad leads the market.",
		"sources": ["https://reviews.example.com/tablets", "https://shop.example.org/tablets"]
	}`}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger())

	u, err := r.Invoke(context.Background(), plannedState("tablet prices", "models and prices"))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSynthesizing, u.Status)
	assert.Contains(t, u.Research.Summary, "$299")
	assert.Len(t, u.Research.Sources, 2)
	assert.Equal(t, "medium", u.Research.Confidence)

	// The generation prompt carries the fetched results, not fabrications.
	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0].Prompt, "https://reviews.example.com/tablets")
}

func TestResearcher_DropsUnfetchedSources(t *testing.T) {
	client := &stubClient{content: `{
		"summary": "summary",
		"sources": ["https://reviews.example.com/tablets", "https://invented.example.net/fake"]
	}`}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger())

	u, err := r.Invoke(context.Background(), plannedState("tablet prices", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://reviews.example.com/tablets"}, u.Research.Sources)
}

func TestResearcher_EffectiveTaskPrefersPlan(t *testing.T) {
	client := &stubClient{content: `{"summary": "s", "sources": []}`}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger())

	_, err := r.Invoke(context.Background(), plannedState("clarified trip to Tokyo", "flight prices"))
	require.NoError(t, err)

	require.Len(t, fetcher.queries, 1)
	assert.Contains(t, fetcher.queries[0], "clarified trip to Tokyo")
	assert.NotContains(t, fetcher.queries[0], "raw request text")

	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0].Prompt, "flight prices")
}

func TestResearcher_FallsBackToRequestWithoutPlan(t *testing.T) {
	client := &stubClient{content: `{"summary": "s", "sources": []}`}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger())

	_, err := r.Invoke(context.Background(), workflow.State{Request: "raw request text"})
	require.NoError(t, err)
	require.Len(t, fetcher.queries, 1)
	assert.Contains(t, fetcher.queries[0], "raw request text")
}

func TestResearcher_YearEnrichment(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC) }
	client := &stubClient{content: `{"summary": "s", "sources": []}`}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger(), WithResearcherClock(clock))

	_, err := r.Invoke(context.Background(), plannedState("latest tablets", ""))
	require.NoError(t, err)
	require.Len(t, fetcher.queries, 1)
	assert.Contains(t, fetcher.queries[0], "2026")

	// No enrichment without an up-to-date keyword.
	fetcher.queries = nil
	_, err = r.Invoke(context.Background(), plannedState("history of tablets", ""))
	require.NoError(t, err)
	assert.NotContains(t, fetcher.queries[0], "2026")
}

func TestResearcher_ParseFailureReportsNoFindings(t *testing.T) {
	client := &stubClient{content: "here is some prose, no JSON"}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger())

	u, err := r.Invoke(context.Background(), plannedState("tablet prices", ""))
	require.NoError(t, err)
	assert.Equal(t, NoResultsSummary, u.Research.Summary)
	assert.Empty(t, u.Research.Sources)
}

func TestResearcher_GenerationFailureIsFatal(t *testing.T) {
	client := &stubClient{err: errors.New("backend down")}
	fetcher := &stubFetcher{results: tabletResults}
	r := NewResearcher(client, fetcher, discardLogger())

	_, err := r.Invoke(context.Background(), plannedState("tablet prices", ""))
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, ErrorFatal, capErr.Kind)
	assert.Equal(t, KindResearch, capErr.Step)
}
