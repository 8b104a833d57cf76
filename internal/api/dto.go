package api

import (
	"policy-claims/backend/internal/pipeline"
	"policy-claims/backend/internal/reasoner"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

// IngestResponse reports the outcome of a document upload.
type IngestResponse struct {
	DocID         string `json:"doc_id"`
	SegmentsCount int    `json:"segments_count"`
}

// ProcessQueryRequest is the body of POST /process_query.
type ProcessQueryRequest struct {
	Query  string `json:"query"`
	Domain string `json:"domain"`
	TopK   int    `json:"top_k"`
}

// ProcessQueryResponse identifies the stored result.
type ProcessQueryResponse struct {
	QueryID string `json:"query_id"`
}

// SummariesResponse is the summaries view of a result.
type SummariesResponse struct {
	Summaries []reasoner.ClauseSummary `json:"summaries"`
}

// RulesResponse is the rules view of a result.
type RulesResponse struct {
	Rules rules.Outcome `json:"rules"`
}

// QueryListResponse holds a page of saved results.
type QueryListResponse struct {
	Items  []pipeline.Header `json:"items"`
	Total  int64             `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

// EvaluateRulesRequest runs the rules engine on caller-supplied inputs.
type EvaluateRulesRequest struct {
	Slots    slots.Set      `json:"slots"`
	Decision rules.Decision `json:"decision"`
}

// HealthResponse reports liveness and the size of the active index.
type HealthResponse struct {
	Status   string `json:"status"`
	Segments int    `json:"segments"`
	Document string `json:"document,omitempty"`
	Reasoner bool   `json:"reasoner_enabled"`
}
