// Package gate implements the deterministic policy check that stands between
// synthesis and completion. It makes no generative calls: it inspects the
// evidence attached to the final answer and appends disclaimers when the
// evidence cannot back the claim, then marks the workflow completed. Weak
// evidence is labeled, never refused.
package gate

import (
	"net/url"
	"strings"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Disclaimers appended to the final response. The text doubles as the
// idempotence marker: a case-insensitive substring check prevents the same
// disclaimer from accumulating across repeated gate passes.
const (
	NoSourcesDisclaimer = "(Note: I did not retrieve external sources for this; the answer may reflect general knowledge and may not include the latest updates.)"

	WeakEvidenceDisclaimer = "(Note: I could not reliably retrieve enough live sources to guarantee this is fully up to date. Consider rerunning or providing preferred sources.)"

	UnsourcedClaimDisclaimer = "(Note: A time-qualified claim was made, but no valid sources were attached.)"
)

// freshnessKeywords is the fallback signal when planning never recorded a
// freshness decision.
var freshnessKeywords = []string{
	"current", "latest", "right now", "today", "this year", "this week",
	"breaking", "headline", "news",
}

// Evidence thresholds for a freshness-required answer.
const (
	minSources = 2
	minHosts   = 2
)

// Apply runs the policy gate over the state and returns the completed state.
// It is pure and idempotent: applying it twice yields identical output.
func Apply(s workflow.State) workflow.State {
	requires := requiresFreshness(s)

	final := s.Final
	if final != nil {
		clone := *final
		final = &clone
		if final.Confidence == "" {
			final.Confidence = "medium"
		}
		if final.Citations == nil {
			final.Citations = []string{}
		}
	}

	var sources []string
	if s.Research != nil {
		sources = s.Research.Sources
	}
	valid := validHTTPURLs(sources)
	hosts := uniqueHosts(valid)

	switch {
	case !requires:
		if len(valid) == 0 {
			final = appendDisclaimer(final, NoSourcesDisclaimer)
		}
	case len(valid) < minSources || hosts < minHosts:
		final = appendDisclaimer(final, WeakEvidenceDisclaimer)
	case timeQualified(final) && len(valid) == 0:
		final = appendDisclaimer(final, UnsourcedClaimDisclaimer)
	}

	s.Final = final
	s.Status = workflow.StatusCompleted
	return s
}

// requiresFreshness reads the plan's decision, falling back to keyword
// scanning of the request when no plan recorded one.
func requiresFreshness(s workflow.State) bool {
	if s.Plan != nil {
		return s.Plan.Freshness.Required
	}
	r := strings.ToLower(s.Request)
	for _, kw := range freshnessKeywords {
		if strings.Contains(r, kw) {
			return true
		}
	}
	return false
}

// validHTTPURLs keeps only sources that parse as http(s) URLs with a host.
func validHTTPURLs(sources []string) []string {
	valid := make([]string, 0, len(sources))
	for _, s := range sources {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			valid = append(valid, s)
		}
	}
	return valid
}

// uniqueHosts counts distinct lowercase hosts among the given URLs.
func uniqueHosts(urls []string) int {
	hosts := make(map[string]struct{}, len(urls))
	for _, s := range urls {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if u.Host != "" {
			hosts[strings.ToLower(u.Host)] = struct{}{}
		}
	}
	return len(hosts)
}

// appendDisclaimer adds the disclaimer to the response unless it is already
// present, matched case-insensitively.
func appendDisclaimer(final *workflow.SynthesisResult, disclaimer string) *workflow.SynthesisResult {
	if final == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(final.Response), strings.ToLower(disclaimer)) {
		return final
	}
	resp := final.Response
	if resp != "" && !strings.HasSuffix(resp, "\n") && !strings.HasSuffix(resp, " ") {
		resp += " "
	}
	final.Response = resp + disclaimer
	return final
}

// timeQualified reports whether the response makes an "as of" claim.
func timeQualified(final *workflow.SynthesisResult) bool {
	return final != nil && strings.Contains(strings.ToLower(final.Response), "as of")
}
