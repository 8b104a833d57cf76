package reasoner

import (
	"context"

	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

type reasonerChain struct {
	primary  Reasoner
	fallback Reasoner
}

// WithFallback returns a reasoner that first tries the primary implementation
// and falls back to the provided reasoner when the primary is unavailable or
// fails permanently. Retryable errors are returned unchanged so the caller can
// back off and try the primary again.
func WithFallback(primary, fallback Reasoner) Reasoner {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &reasonerChain{primary: primary, fallback: fallback}
}

func (c *reasonerChain) Enabled() bool {
	if c == nil {
		return false
	}
	if c.primary != nil && c.primary.Enabled() {
		return true
	}
	return c.fallback != nil && c.fallback.Enabled()
}

func (c *reasonerChain) Summarize(ctx context.Context, clauses []retrieval.Clause) ([]ClauseSummary, error) {
	if c.primary != nil && c.primary.Enabled() {
		summaries, err := c.primary.Summarize(ctx, clauses)
		if err == nil {
			return summaries, nil
		}
		if IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.Summarize(ctx, clauses)
	}
	return nil, ErrDisabled
}

func (c *reasonerChain) Decide(ctx context.Context, summaries []ClauseSummary, s slots.Set, domain string) (rules.Decision, error) {
	if c.primary != nil && c.primary.Enabled() {
		decision, err := c.primary.Decide(ctx, summaries, s, domain)
		if err == nil {
			return decision, nil
		}
		if IsRetryable(err) || ctx.Err() != nil {
			return rules.Decision{}, err
		}
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.Decide(ctx, summaries, s, domain)
	}
	return rules.Decision{}, ErrDisabled
}
