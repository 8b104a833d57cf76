package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/store"
)

// SQLStore keeps results in the SQLite database as JSON payloads.
type SQLStore struct {
	db *store.Database
}

// NewSQLStore wraps db.
func NewSQLStore(db *store.Database) *SQLStore {
	return &SQLStore{db: db}
}

// Save writes result under a fresh identifier in one transaction.
func (s *SQLStore) Save(ctx context.Context, result Result) (string, error) {
	result.QueryID = ""
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return s.db.SaveQueryRecord(ctx, store.QueryRecord{
		Query:            result.Query,
		Domain:           result.Domain,
		FinalDecision:    string(result.Rules.FinalDecision),
		Overridden:       result.Rules.Overridden,
		ProcessingTimeMs: result.ProcessingTimeMs,
		PayloadJSON:      string(payload),
		CreatedAt:        result.CreatedAt,
	})
}

// Load reads a result. Unknown identifiers yield ErrNotFound.
func (s *SQLStore) Load(ctx context.Context, id string) (Result, error) {
	rec, err := s.db.GetQueryRecord(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal([]byte(rec.PayloadJSON), &result); err != nil {
		return Result{}, fmt.Errorf("decode result %s: %w", rec.ID, err)
	}
	result.QueryID = rec.ID
	if result.CreatedAt.IsZero() {
		result.CreatedAt = rec.CreatedAt
	}
	return result, nil
}

// List returns result headers, newest first, with the count of results
// matching the filters.
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]Header, int64, error) {
	rows, total, err := s.db.ListQueryRecords(ctx, store.QueryListOptions{
		Offset:        opts.Offset,
		Limit:         opts.Limit,
		FinalDecision: string(opts.FinalDecision),
		Overridden:    opts.Overridden,
	})
	if err != nil {
		return nil, 0, err
	}
	headers := make([]Header, 0, len(rows))
	for _, row := range rows {
		headers = append(headers, Header{
			QueryID:          row.ID,
			Query:            row.Query,
			Domain:           row.Domain,
			FinalDecision:    rules.Verdict(row.FinalDecision),
			Overridden:       row.Overridden,
			ProcessingTimeMs: row.ProcessingTimeMs,
			CreatedAt:        row.CreatedAt,
		})
	}
	return headers, total, nil
}
