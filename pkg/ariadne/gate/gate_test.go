package gate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

func freshState(required bool, sources []string) workflow.State {
	return workflow.State{
		Request: "what are the latest tablet prices",
		Status:  workflow.StatusValidating,
		Plan: &workflow.Plan{
			Goal:      "tablet prices",
			Freshness: workflow.Freshness{Required: required},
		},
		Research: &workflow.ResearchResult{
			Summary: "findings",
			Sources: sources,
		},
		Final: &workflow.SynthesisResult{
			Response:   "Here are the prices.",
			Citations:  sources,
			Confidence: "high",
		},
	}
}

func TestApply_AlwaysCompletes(t *testing.T) {
	testCases := []struct {
		name  string
		state workflow.State
	}{
		{"fresh with evidence", freshState(true, []string{"https://a.com/x", "https://b.com/y"})},
		{"fresh without evidence", freshState(true, nil)},
		{"not fresh", freshState(false, nil)},
		{"no final output", workflow.State{Status: workflow.StatusValidating}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := Apply(tc.state)
			assert.Equal(t, workflow.StatusCompleted, out.Status)
		})
	}
}

func TestApply_FreshnessNotRequired_NoSources_LightDisclaimer(t *testing.T) {
	out := Apply(freshState(false, nil))
	assert.Contains(t, out.Final.Response, NoSourcesDisclaimer)
	assert.NotContains(t, out.Final.Response, WeakEvidenceDisclaimer)
}

func TestApply_FreshnessNotRequired_WithSources_NoDisclaimer(t *testing.T) {
	out := Apply(freshState(false, []string{"https://a.com/x"}))
	assert.Equal(t, "Here are the prices.", out.Final.Response)
}

func TestApply_FreshnessRequired_OneSource_StrongDisclaimer(t *testing.T) {
	out := Apply(freshState(true, []string{"https://a.com/x"}))
	assert.Contains(t, out.Final.Response, WeakEvidenceDisclaimer)
}

func TestApply_FreshnessRequired_TwoSourcesSameHost_StrongDisclaimer(t *testing.T) {
	out := Apply(freshState(true, []string{"https://a.com/x", "https://a.com/y"}))
	assert.Contains(t, out.Final.Response, WeakEvidenceDisclaimer)
}

func TestApply_FreshnessRequired_TwoHosts_NoDisclaimer(t *testing.T) {
	out := Apply(freshState(true, []string{"https://a.com/x", "https://b.com/y"}))
	assert.NotContains(t, out.Final.Response, WeakEvidenceDisclaimer)
	assert.Equal(t, "Here are the prices.", out.Final.Response)
}

func TestApply_InvalidURLsDontCount(t *testing.T) {
	sources := []string{"ftp://a.com/x", "not a url", "https://"}
	out := Apply(freshState(true, sources))
	assert.Contains(t, out.Final.Response, WeakEvidenceDisclaimer)
}

func TestApply_Idempotent(t *testing.T) {
	testCases := []struct {
		name  string
		state workflow.State
	}{
		{"weak evidence", freshState(true, []string{"https://a.com/x"})},
		{"no sources", freshState(false, nil)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			once := Apply(tc.state)
			twice := Apply(once)
			assert.Equal(t, once.Final.Response, twice.Final.Response)
			assert.Equal(t, 1, strings.Count(strings.ToLower(twice.Final.Response), "(note:"))
		})
	}
}

func TestApply_DefaultsConfidenceAndCitations(t *testing.T) {
	s := freshState(false, []string{"https://a.com/x"})
	s.Final.Confidence = ""
	s.Final.Citations = nil

	out := Apply(s)
	assert.Equal(t, "medium", out.Final.Confidence)
	assert.NotNil(t, out.Final.Citations)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := freshState(false, nil)
	original := s.Final.Response

	_ = Apply(s)
	assert.Equal(t, original, s.Final.Response)
}

func TestApply_KeywordFallbackWhenNoPlan(t *testing.T) {
	s := workflow.State{
		Request:  "latest news about space launches",
		Status:   workflow.StatusValidating,
		Research: &workflow.ResearchResult{Sources: []string{"https://a.com/x"}},
		Final:    &workflow.SynthesisResult{Response: "Launches happened."},
	}

	out := Apply(s)
	require.NotNil(t, out.Final)
	assert.Contains(t, out.Final.Response, WeakEvidenceDisclaimer)
}

func TestApply_NoPlanNoKeywords_NotFresh(t *testing.T) {
	s := workflow.State{
		Request: "explain how rockets work",
		Status:  workflow.StatusValidating,
		Final:   &workflow.SynthesisResult{Response: "Rockets work by thrust."},
	}

	out := Apply(s)
	assert.Contains(t, out.Final.Response, NoSourcesDisclaimer)
	assert.NotContains(t, out.Final.Response, WeakEvidenceDisclaimer)
}
