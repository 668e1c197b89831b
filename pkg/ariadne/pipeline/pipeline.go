// Package pipeline assembles the workflow graph: plan, research, synthesize,
// then the policy gate. It adapts step capabilities into graph nodes,
// converting capability failures into a terminal failed status instead of
// aborting the run.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jfarrand/ariadne/pkg/ariadne"
	"github.com/jfarrand/ariadne/pkg/ariadne/capability"
	"github.com/jfarrand/ariadne/pkg/ariadne/gate"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Node identifiers in the workflow graph.
const (
	NodePlan       = "plan"
	NodeResearch   = "research"
	NodeSynthesize = "synthesize"
	NodeValidate   = "validate"
)

// questionHeader opens the clarification block appended to the conversation
// log when planning halts for user input.
const questionHeader = "**I need a few more details to create the best plan for you:**"

// QuestionRecorder receives clarification-question analytics. Best-effort:
// recording failures are logged, never propagated.
type QuestionRecorder interface {
	RecordQuestion(ctx context.Context, question, category string) error
}

// Pipeline builds the compiled workflow graph from a capability registry.
type Pipeline struct {
	registry  *capability.Registry
	analytics QuestionRecorder
	logger    *slog.Logger
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithQuestionRecorder wires clarification-question analytics.
func WithQuestionRecorder(rec QuestionRecorder) Option {
	return func(p *Pipeline) { p.analytics = rec }
}

// New creates a pipeline over the given registry. The registry must contain
// the plan, research, and synthesize capabilities.
func New(registry *capability.Registry, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{registry: registry, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Compile builds and validates the workflow graph.
//
// planning routes to END when the plan needs clarification (the run halts
// and control returns to the caller; feedback re-enters at planning) or when
// the step failed; otherwise research, synthesize, and the gate run as a
// fixed linear pipeline. The gate never routes backward.
func (p *Pipeline) Compile() (*ariadne.CompiledGraph[workflow.State], error) {
	g := ariadne.NewGraph[workflow.State]().
		AddNode(NodePlan, p.planNode).
		AddNode(NodeResearch, p.stepNode(capability.KindResearch)).
		AddNode(NodeSynthesize, p.stepNode(capability.KindSynthesize)).
		AddNode(NodeValidate, validateNode).
		AddConditionalEdge(NodePlan, routePlan).
		AddConditionalEdge(NodeResearch, routeLinear(NodeSynthesize)).
		AddConditionalEdge(NodeSynthesize, routeLinear(NodeValidate)).
		AddEdge(NodeValidate, ariadne.END).
		SetEntry(NodePlan)
	return g.Compile()
}

// planNode runs the plan capability and, when planning halts for
// clarification, appends the question block to the conversation log exactly
// once per clarification round.
func (p *Pipeline) planNode(ctx ariadne.Context, s workflow.State) (workflow.State, error) {
	u, err := p.registry.MustGet(capability.KindPlan).Invoke(ctx, s)
	if err != nil {
		return workflow.Apply(s, failUpdate(capability.KindPlan, err)), nil
	}
	s = workflow.Apply(s, u)

	if s.Status == workflow.StatusAwaitingClarification && s.ClarificationRound > s.LoggedRound {
		questions := planQuestions(s)
		s = workflow.Apply(s, workflow.Update{
			Log:             []workflow.Message{{Role: "assistant", Content: questionBlock(questions)}},
			MarkRoundLogged: true,
		})
		p.recordQuestions(ctx, questions)
	}
	return s, nil
}

// stepNode adapts a registered capability into a graph node. Capability
// errors become a terminal failed status with a validation note; they do not
// abort the run, so the failure itself is persisted.
func (p *Pipeline) stepNode(kind string) ariadne.NodeFunc[workflow.State] {
	return func(ctx ariadne.Context, s workflow.State) (workflow.State, error) {
		u, err := p.registry.MustGet(kind).Invoke(ctx, s)
		if err != nil {
			return workflow.Apply(s, failUpdate(kind, err)), nil
		}
		return workflow.Apply(s, u), nil
	}
}

// validateNode applies the policy gate, the sole path to completed.
func validateNode(_ ariadne.Context, s workflow.State) (workflow.State, error) {
	return gate.Apply(s), nil
}

// routePlan halts the run on clarification or failure, otherwise proceeds
// to research.
func routePlan(_ ariadne.Context, s workflow.State) string {
	switch s.Status {
	case workflow.StatusAwaitingClarification, workflow.StatusFailed:
		return ariadne.END
	}
	return NodeResearch
}

// routeLinear proceeds to next unless the step failed.
func routeLinear(next string) ariadne.RouterFunc[workflow.State] {
	return func(_ ariadne.Context, s workflow.State) string {
		if s.Status == workflow.StatusFailed {
			return ariadne.END
		}
		return next
	}
}

// failUpdate converts a capability error into the terminal failed update.
func failUpdate(step string, err error) workflow.Update {
	return workflow.Update{
		Status: workflow.StatusFailed,
		Notes:  []workflow.ValidationNote{{Step: step, Error: err.Error()}},
	}
}

// planQuestions returns the clarification questions of the current plan.
func planQuestions(s workflow.State) []string {
	if s.Plan == nil {
		return nil
	}
	return s.Plan.ClarificationQuestions
}

// questionBlock formats the clarification questions as one assistant
// message.
func questionBlock(questions []string) string {
	var b strings.Builder
	b.WriteString(questionHeader)
	b.WriteString("\n")
	for _, q := range questions {
		b.WriteString("\n- ")
		b.WriteString(q)
	}
	return b.String()
}

// recordQuestions feeds the asked questions into analytics, best-effort.
func (p *Pipeline) recordQuestions(ctx context.Context, questions []string) {
	if p.analytics == nil {
		return
	}
	for _, q := range questions {
		if err := p.analytics.RecordQuestion(ctx, q, categorize(q)); err != nil {
			p.logger.Warn("question analytics write failed", "question", q, "error", err)
		}
	}
}

// categorize buckets a clarification question by the missing dimension it
// asks about.
func categorize(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "where") || strings.Contains(q, "location") || strings.Contains(q, "destination"):
		return "location"
	case strings.Contains(q, "budget") || strings.Contains(q, "cost") || strings.Contains(q, "spend"):
		return "budget"
	case strings.Contains(q, "when") || strings.Contains(q, "date") || strings.Contains(q, "how long") || strings.Contains(q, "timeframe"):
		return "timeframe"
	case strings.Contains(q, "prefer") || strings.Contains(q, "style") || strings.Contains(q, "like"):
		return "preference"
	}
	return "general"
}
