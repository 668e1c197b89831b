package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jfarrand/ariadne/pkg/ariadne/llm"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// denyList holds the literal non-answers that allow planning to ask for
// clarification again even after feedback was given. Anything else counts as
// a usable answer.
var denyList = map[string]struct{}{
	"i don't know": {},
	"i dont know":  {},
	"idk":          {},
	"cancel":       {},
}

// Planner decomposes the request into a plan, deciding whether the request
// is clear enough to proceed or needs user clarification first.
type Planner struct {
	client llm.Client
	logger *slog.Logger
}

// NewPlanner creates the plan capability.
func NewPlanner(client llm.Client, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, logger: logger}
}

var _ Capability = (*Planner)(nil)

// Name implements Capability.
func (p *Planner) Name() string { return KindPlan }

// plannerOutput mirrors the JSON the generation backend is asked for.
type plannerOutput struct {
	Goal                   string              `json:"goal"`
	Steps                  []workflow.PlanStep `json:"steps"`
	ClarificationNeeded    bool                `json:"clarification_needed"`
	ClarificationQuestions []string            `json:"clarification_questions"`
	FreshnessRequired      bool                `json:"freshness_required"`
	FreshnessReasoning     string              `json:"freshness_reasoning"`
}

// Invoke implements Capability. A parse failure degrades to a fixed two-step
// plan with freshness assumed required; only a generation backend failure is
// returned as an error.
func (p *Planner) Invoke(ctx context.Context, s workflow.State) (workflow.Update, error) {
	hasFeedback := len(s.PendingFeedback) > 0

	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(plannerSystemPrompt, formatPreferences(s.Preferences), formatFeedback(s.PendingFeedback)),
		Prompt:       s.Request,
		Temperature:  0.2,
	})
	if err != nil {
		return workflow.Update{}, Fatal(KindPlan, err)
	}

	var out plannerOutput
	if err := decodeJSON(resp.Content, &out); err != nil {
		p.logger.Warn("plan output unparseable, using default plan", "error", err)
		out = defaultPlan(s.Request)
	}

	// Once the user has answered, the only way back to clarification is a
	// literal non-answer. This guard is deterministic on purpose: it stops
	// the loop where generation is never satisfied with the answers given.
	if hasFeedback && out.ClarificationNeeded && !allDenied(s.PendingFeedback) {
		p.logger.Info("overriding repeat clarification request", "workflow_id", s.WorkflowID)
		out.ClarificationNeeded = false
		out.ClarificationQuestions = nil
		if len(out.Steps) == 0 {
			out.Steps = defaultSteps(s.Request)
		}
	}

	if !out.FreshnessRequired && freshnessHint(s.Request) {
		out.FreshnessRequired = true
		out.FreshnessReasoning = "request wording suggests live data"
	}

	plan := &workflow.Plan{
		Goal:                   out.Goal,
		Steps:                  out.Steps,
		ClarificationNeeded:    out.ClarificationNeeded,
		ClarificationQuestions: out.ClarificationQuestions,
		Freshness: workflow.Freshness{
			Required: out.FreshnessRequired,
			Reason:   out.FreshnessReasoning,
		},
	}
	if plan.Goal == "" {
		plan.Goal = s.Request
	}

	u := workflow.Update{
		Plan:          plan,
		ClearFeedback: hasFeedback,
	}
	if plan.ClarificationNeeded {
		u.Status = workflow.StatusAwaitingClarification
		u.RaiseClarificationRound = true
	} else {
		u.Status = workflow.StatusResearching
	}
	return u, nil
}

// defaultPlan is the fallback when plan output cannot be parsed. Freshness
// is assumed required so stale data gets disclaimed rather than trusted.
func defaultPlan(request string) plannerOutput {
	return plannerOutput{
		Goal:               request,
		Steps:              defaultSteps(request),
		FreshnessRequired:  true,
		FreshnessReasoning: "plan parsing failed, defaulting to fresh search",
	}
}

func defaultSteps(request string) []workflow.PlanStep {
	return []workflow.PlanStep{
		{ID: 1, Description: "Research the request: " + request, Agent: KindResearch, RequiredInfo: "Search results"},
		{ID: 2, Description: "Synthesize findings", Agent: KindSynthesize, RequiredInfo: "Summary"},
	}
}

// allDenied reports whether every answer in the feedback is a deny-listed
// literal non-answer.
func allDenied(feedback map[string]string) bool {
	if len(feedback) == 0 {
		return false
	}
	for _, answer := range feedback {
		key := strings.ToLower(strings.TrimSpace(answer))
		key = strings.Trim(key, ".!")
		if _, ok := denyList[key]; !ok {
			return false
		}
	}
	return true
}

// freshnessKeywords catches requests that plainly want live data even when
// generation misses the flag.
var freshnessKeywords = []string{"latest", "current", "news", "price", "today", "right now"}

func freshnessHint(request string) bool {
	r := strings.ToLower(request)
	for _, kw := range freshnessKeywords {
		if strings.Contains(r, kw) {
			return true
		}
	}
	return false
}

func formatPreferences(prefs map[string]string) string {
	if len(prefs) == 0 {
		return "None"
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, prefs[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFeedback(feedback map[string]string) string {
	if len(feedback) == 0 {
		return "None"
	}
	keys := make([]string, 0, len(feedback))
	for k := range feedback {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- Q: %s, A: %s\n", k, feedback[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
