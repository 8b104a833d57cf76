package reasoner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

// ErrDisabled is returned when no language model is configured.
var ErrDisabled = errors.New("reasoner disabled")

// ClauseSummary is a one-sentence summary of a retrieved clause.
type ClauseSummary struct {
	ClauseID int    `json:"clause_id"`
	Summary  string `json:"summary"`
}

// Reasoner summarizes clauses and produces a preliminary claim decision.
type Reasoner interface {
	Enabled() bool
	Summarize(ctx context.Context, clauses []retrieval.Clause) ([]ClauseSummary, error)
	Decide(ctx context.Context, summaries []ClauseSummary, s slots.Set, domain string) (rules.Decision, error)
}

// StatusError is a non-200 response from the model endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai status %d: %s", e.Code, e.Body)
}

// IsRetryable reports whether err is a transient upstream failure worth
// retrying: rate limiting or a 5xx gateway/server error.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}
