package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/llm"
	"github.com/jfarrand/ariadne/pkg/ariadne/search"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// NoResultsSummary is the fixed answer when the fetch yields nothing. It is
// emitted without a generation call: there is nothing to summarize, and a
// generated summary would be a hallucination by construction.
const NoResultsSummary = "I could not find the requested information."

// defaultResultCount bounds how many search results one research step pulls.
const defaultResultCount = 5

// Researcher executes the plan's research step: fetch external results for
// the effective task, then produce a summary grounded strictly in them.
type Researcher struct {
	client  llm.Client
	fetcher search.Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// ResearcherOption configures the research capability.
type ResearcherOption func(*Researcher)

// WithResearcherClock overrides the clock used for year enrichment, for
// tests.
func WithResearcherClock(now func() time.Time) ResearcherOption {
	return func(r *Researcher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResearcher creates the research capability.
func NewResearcher(client llm.Client, fetcher search.Fetcher, logger *slog.Logger, opts ...ResearcherOption) *Researcher {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Researcher{client: client, fetcher: fetcher, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Capability = (*Researcher)(nil)

// Name implements Capability.
func (r *Researcher) Name() string { return KindResearch }

type researchOutput struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}

// Invoke implements Capability. Fetch failures degrade to the no-results
// path after the fetcher's own retries; only a generation backend failure
// is returned as an error.
func (r *Researcher) Invoke(ctx context.Context, s workflow.State) (workflow.Update, error) {
	task := effectiveTask(s)
	query := r.searchQuery(task)

	results, err := r.fetcher.Fetch(ctx, query, defaultResultCount)
	if err != nil {
		r.logger.Warn("search fetch failed, treating as no results",
			"workflow_id", s.WorkflowID, "query", query, "error", err)
		results = nil
	}

	if len(results) == 0 {
		return workflow.Update{
			Status: workflow.StatusSynthesizing,
			Research: &workflow.ResearchResult{
				Summary: NoResultsSummary,
				Sources: []string{},
			},
		}, nil
	}

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: researcherSystemPrompt,
		Prompt:       fmt.Sprintf("Task: %s\n\nSearch results:\n%s", task, formatResults(results)),
		Temperature:  0,
	})
	if err != nil {
		return workflow.Update{}, Fatal(KindResearch, err)
	}

	var out researchOutput
	if err := decodeJSON(resp.Content, &out); err != nil {
		r.logger.Warn("research output unparseable, reporting no findings",
			"workflow_id", s.WorkflowID, "error", err)
		out = researchOutput{Summary: NoResultsSummary, Sources: []string{}}
	}

	sources := restrictToFetched(out.Sources, results)
	res := &workflow.ResearchResult{
		Summary:    out.Summary,
		Sources:    sources,
		Confidence: confidenceFor(sources),
	}
	return workflow.Update{Status: workflow.StatusSynthesizing, Research: res}, nil
}

// effectiveTask derives the research task from the plan so clarified intent
// flows downstream; the raw request is only the last resort.
func effectiveTask(s workflow.State) string {
	if s.Plan == nil || s.Plan.Goal == "" {
		return s.Request
	}
	task := s.Plan.Goal
	if len(s.Plan.Steps) > 0 && s.Plan.Steps[0].RequiredInfo != "" {
		task += " (needs: " + s.Plan.Steps[0].RequiredInfo + ")"
	}
	return task
}

// searchQuery builds the fetch query from the task, appending the current
// year when the wording asks for up-to-date results but no year is present.
func (r *Researcher) searchQuery(task string) string {
	query := strings.ReplaceAll(task, `"`, "")
	year := strconv.Itoa(r.now().Year())

	lower := strings.ToLower(task)
	for _, w := range []string{"current", "latest", "best", "now", "new"} {
		if strings.Contains(lower, w) && !strings.Contains(query, year) {
			return query + " " + year
		}
	}
	return query
}

// formatResults renders fetched results as the numbered context block fed
// to generation.
func formatResults(results []search.Result) string {
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n", i+1, res.Title, res.URL)
		if res.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", res.Snippet)
		}
		if res.Published != "" {
			fmt.Fprintf(&b, "   Published: %s\n", res.Published)
		}
	}
	return b.String()
}

// restrictToFetched drops any claimed source that was not actually fetched.
func restrictToFetched(claimed []string, results []search.Result) []string {
	fetched := make(map[string]struct{}, len(results))
	for _, res := range results {
		fetched[res.URL] = struct{}{}
	}
	kept := make([]string, 0, len(claimed))
	for _, u := range claimed {
		if _, ok := fetched[strings.TrimSpace(u)]; ok {
			kept = append(kept, strings.TrimSpace(u))
		}
	}
	return kept
}

func confidenceFor(sources []string) string {
	switch {
	case len(sources) >= 3:
		return "high"
	case len(sources) > 0:
		return "medium"
	}
	return "low"
}
