package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"policy-claims/backend/internal/reasoner"
	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

// LLMDecision is the reasoner's preliminary verdict as recorded in a result.
type LLMDecision struct {
	Decision rules.Verdict `json:"decision"`
	Amount   *float64      `json:"amount"`
}

// Result is the complete, immutable record of one processed query.
type Result struct {
	QueryID          string                   `json:"query_id,omitempty"`
	Query            string                   `json:"query"`
	Domain           string                   `json:"domain"`
	Slots            slots.Set                `json:"slots"`
	RetrievedClauses []retrieval.Clause       `json:"retrieved_clauses"`
	Summaries        []reasoner.ClauseSummary `json:"summaries"`
	ReasoningTrace   []string                 `json:"reasoning_trace"`
	LLMDecision      LLMDecision              `json:"llm_decision"`
	Rules            rules.Outcome            `json:"rules"`
	ProcessingTimeMs int64                    `json:"processing_time_ms"`
	CreatedAt        time.Time                `json:"created_at"`
}

// ChainOfThought is the reasoning view of a result.
type ChainOfThought struct {
	ReasoningTrace []string    `json:"reasoning_trace"`
	LLMDecision    LLMDecision `json:"llm_decision"`
}

// Header summarizes a saved result for listings.
type Header struct {
	QueryID          string        `json:"query_id"`
	Query            string        `json:"query"`
	Domain           string        `json:"domain"`
	FinalDecision    rules.Verdict `json:"final_decision"`
	Overridden       bool          `json:"overridden"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Assemble aggregates the outputs of every stage into a Result. It copies
// nothing and calls nothing; nil lists become empty lists.
func Assemble(
	query, domain string,
	s slots.Set,
	retrieved []retrieval.Clause,
	summaries []reasoner.ClauseSummary,
	decision rules.Decision,
	outcome rules.Outcome,
) Result {
	if s == nil {
		s = slots.Set{}
	}
	if retrieved == nil {
		retrieved = []retrieval.Clause{}
	}
	if summaries == nil {
		summaries = []reasoner.ClauseSummary{}
	}
	trace := decision.ReasoningTrace
	if trace == nil {
		trace = []string{}
	}
	return Result{
		Query:            query,
		Domain:           domain,
		Slots:            s,
		RetrievedClauses: retrieved,
		Summaries:        summaries,
		ReasoningTrace:   trace,
		LLMDecision:      LLMDecision{Decision: decision.Decision, Amount: decision.Amount},
		Rules:            outcome,
	}
}

// Full loads the complete result.
func (p *Pipeline) Full(ctx context.Context, id string) (Result, error) {
	return p.store.Load(ctx, id)
}

// Summaries returns the clause summaries of a result.
func (p *Pipeline) Summaries(ctx context.Context, id string) ([]reasoner.ClauseSummary, error) {
	result, err := p.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return result.Summaries, nil
}

// ChainOfThought returns the reasoning trace and the preliminary decision.
func (p *Pipeline) ChainOfThought(ctx context.Context, id string) (ChainOfThought, error) {
	result, err := p.store.Load(ctx, id)
	if err != nil {
		return ChainOfThought{}, err
	}
	return ChainOfThought{ReasoningTrace: result.ReasoningTrace, LLMDecision: result.LLMDecision}, nil
}

// Rules returns the rule outcome of a result.
func (p *Pipeline) Rules(ctx context.Context, id string) (rules.Outcome, error) {
	result, err := p.store.Load(ctx, id)
	if err != nil {
		return rules.Outcome{}, err
	}
	return result.Rules, nil
}

// ParseListFilters reads the final decision and overridden filters of a
// listing. Blank values leave the filter unset.
func ParseListFilters(decision, overridden string) (rules.Verdict, *bool, error) {
	var verdict rules.Verdict
	if decision = strings.TrimSpace(decision); decision != "" {
		verdict = rules.ParseVerdict(decision)
		if verdict == rules.Unknown && !strings.EqualFold(decision, string(rules.Unknown)) {
			return "", nil, fmt.Errorf("invalid final_decision %q", decision)
		}
	}
	var flag *bool
	if overridden = strings.TrimSpace(overridden); overridden != "" {
		v, err := strconv.ParseBool(overridden)
		if err != nil {
			return "", nil, fmt.Errorf("invalid overridden %q", overridden)
		}
		flag = &v
	}
	return verdict, flag, nil
}

// List returns saved result headers matching opts, newest first.
func (p *Pipeline) List(ctx context.Context, opts ListOptions) ([]Header, int64, error) {
	return p.store.List(ctx, opts)
}

// Evaluate runs the rules engine alone.
func (p *Pipeline) Evaluate(s slots.Set, d rules.Decision) rules.Outcome {
	return p.engine.Evaluate(s, d)
}
