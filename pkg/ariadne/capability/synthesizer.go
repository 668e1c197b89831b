package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/llm"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Synthesizer compiles the plan and research findings into the final answer.
// Citations are restricted to sources the research step actually returned.
type Synthesizer struct {
	client llm.Client
	logger *slog.Logger
	now    func() time.Time
}

// SynthesizerOption configures the synthesize capability.
type SynthesizerOption func(*Synthesizer)

// WithSynthesizerClock overrides the clock used in the prompt date, for
// tests.
func WithSynthesizerClock(now func() time.Time) SynthesizerOption {
	return func(s *Synthesizer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSynthesizer creates the synthesize capability.
func NewSynthesizer(client llm.Client, logger *slog.Logger, opts ...SynthesizerOption) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synthesizer{client: client, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Capability = (*Synthesizer)(nil)

// Name implements Capability.
func (s *Synthesizer) Name() string { return KindSynthesize }

type synthesisOutput struct {
	Response   string   `json:"response"`
	Citations  []string `json:"citations"`
	Confidence string   `json:"confidence"`
}

// Invoke implements Capability. A parse failure keeps the raw generated text
// as the response with citations taken from the research sources; only a
// generation backend failure is returned as an error.
func (s *Synthesizer) Invoke(ctx context.Context, st workflow.State) (workflow.Update, error) {
	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(synthesizerSystemPrompt, s.now().Format("January 2, 2006")),
		Prompt:       synthesisPrompt(st),
		Temperature:  0.5,
	})
	if err != nil {
		return workflow.Update{}, Fatal(KindSynthesize, err)
	}

	var researched []string
	if st.Research != nil {
		researched = st.Research.Sources
	}

	var out synthesisOutput
	if err := decodeJSON(resp.Content, &out); err != nil {
		s.logger.Warn("synthesis output unparseable, using raw text",
			"workflow_id", st.WorkflowID, "error", err)
		out = synthesisOutput{Response: resp.Content, Citations: researched}
	}

	final := &workflow.SynthesisResult{
		Response:   out.Response,
		Citations:  subsetOf(out.Citations, researched),
		Confidence: out.Confidence,
	}
	if final.Confidence == "" {
		final.Confidence = confidenceFor(final.Citations)
	}
	return workflow.Update{Status: workflow.StatusValidating, Final: final}, nil
}

// synthesisPrompt renders the user-facing prompt: request, plan, findings.
func synthesisPrompt(st workflow.State) string {
	planText := "No plan available."
	if st.Plan != nil {
		if data, err := json.Marshal(st.Plan); err == nil {
			planText = string(data)
		}
	}
	researchText := "No research findings."
	if st.Research != nil {
		if data, err := json.Marshal(st.Research); err == nil {
			researchText = string(data)
		}
	}
	return fmt.Sprintf("User request: %s\n\nPlan: %s\n\nResearch findings: %s\n\nGenerate the final response.",
		st.Request, planText, researchText)
}

// subsetOf keeps only the claimed citations that appear in allowed,
// preserving order and dropping duplicates. Citations are never invented.
func subsetOf(claimed, allowed []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, u := range allowed {
		allowedSet[u] = struct{}{}
	}
	seen := make(map[string]struct{}, len(claimed))
	kept := make([]string, 0, len(claimed))
	for _, u := range claimed {
		u = strings.TrimSpace(u)
		if _, ok := allowedSet[u]; !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		kept = append(kept, u)
	}
	return kept
}
