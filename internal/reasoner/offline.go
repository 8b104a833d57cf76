package reasoner

import (
	"context"
	"regexp"
	"strings"

	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

const (
	maxOfflineSummary = 240
	offlineTrace      = "Language model unavailable; no preliminary decision was made and the business rules decide alone."
)

var firstSentence = regexp.MustCompile(`(?s)^(.+?[.!?])(?:\s|$)`)

// Offline is a Reasoner that needs no model. Summaries are the first sentence
// of each clause and every decision is unknown.
type Offline struct{}

// NewOffline returns the offline reasoner.
func NewOffline() Offline { return Offline{} }

// Enabled always reports true.
func (Offline) Enabled() bool { return true }

// Summarize returns the leading sentence of each clause.
func (Offline) Summarize(_ context.Context, clauses []retrieval.Clause) ([]ClauseSummary, error) {
	out := make([]ClauseSummary, len(clauses))
	for i, clause := range clauses {
		out[i] = ClauseSummary{ClauseID: clause.ClauseID, Summary: leadSentence(clause.Text)}
	}
	return out, nil
}

// Decide returns an unknown decision without an amount.
func (Offline) Decide(context.Context, []ClauseSummary, slots.Set, string) (rules.Decision, error) {
	return rules.Decision{
		ReasoningTrace: []string{offlineTrace},
		Decision:       rules.Unknown,
	}, nil
}

func leadSentence(text string) string {
	text = strings.TrimSpace(text)
	if m := firstSentence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if len([]rune(text)) > maxOfflineSummary {
		text = string([]rune(text)[:maxOfflineSummary]) + "…"
	}
	return text
}
