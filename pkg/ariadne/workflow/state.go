// Package workflow defines the durable state that flows through an ariadne
// run: the status enum, the typed per-step results, and the merge rules used
// to fold a step's partial update back into the document.
package workflow

// Status is the lifecycle state of a workflow.
type Status string

// Workflow lifecycle states. Transitions follow the pipeline graph:
// planning -> {awaiting_clarification | researching} -> synthesizing ->
// validating -> {completed | failed}.
const (
	StatusPlanning              Status = "planning"
	StatusAwaitingClarification Status = "awaiting_clarification"
	StatusResearching           Status = "researching"
	StatusSynthesizing          Status = "synthesizing"
	StatusValidating            Status = "validating"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
)

// Terminal reports whether no further execution is allowed for the workflow.
// awaiting_clarification is terminal only for the current round; a feedback
// event re-enters the same record at planning.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusAwaitingClarification, StatusResearching,
		StatusSynthesizing, StatusValidating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// PlanStep is one step of a decomposed plan. Agent names a registered step
// capability (research, synthesize).
type PlanStep struct {
	ID           int    `json:"step_id"`
	Description  string `json:"description"`
	Agent        string `json:"agent"`
	RequiredInfo string `json:"required_info,omitempty"`
}

// Freshness records whether the answer must reflect live data, and why.
type Freshness struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason,omitempty"`
}

// Plan is the structured decomposition produced by the plan capability.
type Plan struct {
	Goal                   string     `json:"goal"`
	Steps                  []PlanStep `json:"steps"`
	ClarificationNeeded    bool       `json:"clarification_needed"`
	ClarificationQuestions []string   `json:"clarification_questions,omitempty"`
	Freshness              Freshness  `json:"freshness"`
}

// ResearchResult is the grounded summary produced by the research capability.
// Sources are the URLs the summary is drawn from; a summary must never state
// a fact absent from them.
type ResearchResult struct {
	Summary    string   `json:"summary"`
	Sources    []string `json:"sources"`
	Confidence string   `json:"confidence,omitempty"`
}

// SynthesisResult is the final answer. Citations are always a subset of the
// research sources; they are never invented.
type SynthesisResult struct {
	Response   string   `json:"response"`
	Citations  []string `json:"citations"`
	Confidence string   `json:"confidence"`
}

// Message is one entry in the append-only conversation log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidationNote records an error surfaced by a step.
type ValidationNote struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// State is the full working memory of a workflow, passed between steps and
// persisted after every transition. Request holds the effective request text:
// the original request optionally extended with clarification annotations.
type State struct {
	WorkflowID  string            `json:"workflow_id"`
	Request     string            `json:"request"`
	Preferences map[string]string `json:"preferences,omitempty"`

	Status          Status            `json:"status"`
	Plan            *Plan             `json:"plan,omitempty"`
	PendingFeedback map[string]string `json:"pending_feedback,omitempty"`
	Research        *ResearchResult   `json:"research,omitempty"`
	Final           *SynthesisResult  `json:"final_output,omitempty"`
	ConversationLog []Message         `json:"conversation_log,omitempty"`
	ValidationNotes []ValidationNote  `json:"validation_notes,omitempty"`

	// ClarificationRound counts clarification rounds raised by planning;
	// LoggedRound is the last round whose question block was appended to the
	// conversation log. The pair makes the question append idempotent across
	// replanning cycles without matching on generated text.
	ClarificationRound int `json:"clarification_round,omitempty"`
	LoggedRound        int `json:"logged_round,omitempty"`
}

// Update is a partial state update returned by a step capability. Zero-valued
// fields leave the corresponding state key untouched; merge is additive per
// key, never a blind overwrite.
type Update struct {
	Status   Status
	Plan     *Plan
	Research *ResearchResult
	Final    *SynthesisResult

	Log   []Message
	Notes []ValidationNote

	// ClearFeedback marks pending feedback as consumed.
	ClearFeedback bool

	// RaiseClarificationRound increments the clarification round counter.
	// MarkRoundLogged records that the current round's questions were
	// appended to the conversation log.
	RaiseClarificationRound bool
	MarkRoundLogged         bool
}

// Apply merges an update into a copy of the state and returns it. Appends to
// the conversation log are duplicate-suppressed: an entry identical to the
// current tail is dropped.
func Apply(s State, u Update) State {
	if u.Status != "" {
		s.Status = u.Status
	}
	if u.Plan != nil {
		s.Plan = u.Plan
	}
	if u.Research != nil {
		s.Research = u.Research
	}
	if u.Final != nil {
		s.Final = u.Final
	}
	for _, m := range u.Log {
		s.ConversationLog = AppendMessage(s.ConversationLog, m)
	}
	if len(u.Notes) > 0 {
		s.ValidationNotes = append(s.ValidationNotes, u.Notes...)
	}
	if u.ClearFeedback {
		s.PendingFeedback = nil
	}
	if u.RaiseClarificationRound {
		s.ClarificationRound++
	}
	if u.MarkRoundLogged {
		s.LoggedRound = s.ClarificationRound
	}
	return s
}

// AppendMessage appends m to log unless it is identical to the last entry.
func AppendMessage(log []Message, m Message) []Message {
	if n := len(log); n > 0 && log[n-1] == m {
		return log
	}
	return append(log, m)
}
