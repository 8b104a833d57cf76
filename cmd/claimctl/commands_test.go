package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-claims/backend/internal/api"
	"policy-claims/backend/internal/pipeline"
	"policy-claims/backend/internal/rules"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, c := newRootCommand()
	defer c.close()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRulesCommandFlags(t *testing.T) {
	out, err := run(t, "", "rules",
		"--slots", `{"age":46,"policy_duration":"2 months"}`,
		"--decision", "approved",
		"--amount", "50000",
	)
	require.NoError(t, err)

	var outcome rules.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, rules.Rejected, outcome.FinalDecision)
	assert.True(t, outcome.Overridden)
	require.NotEmpty(t, outcome.RuleEvents)
	assert.Equal(t, rules.RuleWaitingPeriod, outcome.RuleEvents[0].Rule)
}

func TestRulesCommandStdin(t *testing.T) {
	out, err := run(t, `{"slots":{},"decision":{"decision":"approved","amount":150000}}`, "rules", "--input", "-")
	require.NoError(t, err)

	var outcome rules.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, rules.Approved, outcome.FinalDecision)
	require.NotNil(t, outcome.FinalAmount)
	assert.InDelta(t, 100000, *outcome.FinalAmount, 1e-9)

	_, err = run(t, "  ", "rules", "--input", "-")
	assert.Error(t, err)
}

func TestIngestQueryShow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "claims.db")
	doc := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Knee surgery is covered after three months.\n\nCosmetic procedures are excluded."), 0o644))

	out, err := run(t, "", "--db", db, "--offline", "ingest", doc)
	require.NoError(t, err)
	var ingested api.IngestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	assert.Equal(t, "policy.txt", ingested.DocID)
	assert.Equal(t, 2, ingested.SegmentsCount)

	// A fresh command restores the index from the database.
	out, err = run(t, "", "--db", db, "--offline", "query", "knee", "surgery", "for", "a", "46-year-old")
	require.NoError(t, err)
	var result pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.QueryID)
	assert.NotEmpty(t, result.RetrievedClauses)

	out, err = run(t, "", "--db", db, "show", result.QueryID, "--view", "rules")
	require.NoError(t, err)
	var view api.RulesResponse
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, result.Rules.FinalDecision, view.Rules.FinalDecision)

	_, err = run(t, "", "--db", db, "show", "missing")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)

	_, err = run(t, "", "--db", db, "show", result.QueryID, "--view", "bogus")
	assert.Error(t, err)

	out, err = run(t, "", "--db", db, "list")
	require.NoError(t, err)
	var list api.QueryListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.EqualValues(t, 1, list.Total)
}

func TestListFilters(t *testing.T) {
	db := filepath.Join(t.TempDir(), "claims.db")
	for _, q := range []string{"knee surgery", "cosmetic surgery"} {
		_, err := run(t, "", "--db", db, "--offline", "query", q)
		require.NoError(t, err)
	}

	tests := []struct {
		args     []string
		total    int64
		decision rules.Verdict
	}{
		{args: nil, total: 2},
		{args: []string{"--decision", "rejected"}, total: 1, decision: rules.Rejected},
		{args: []string{"--overridden", "false"}, total: 1, decision: rules.Unknown},
		{args: []string{"--decision", "approved"}, total: 0},
	}
	for _, tt := range tests {
		out, err := run(t, "", append([]string{"--db", db, "list"}, tt.args...)...)
		require.NoError(t, err, tt.args)
		var list api.QueryListResponse
		require.NoError(t, json.Unmarshal([]byte(out), &list))
		assert.Equal(t, tt.total, list.Total, tt.args)
		require.Len(t, list.Items, int(tt.total), tt.args)
		if tt.decision != "" {
			assert.Equal(t, tt.decision, list.Items[0].FinalDecision, tt.args)
		}
	}

	_, err := run(t, "", "--db", db, "list", "--decision", "pending")
	assert.Error(t, err)
}

func TestIngestRejectsUnsupportedFile(t *testing.T) {
	_, err := run(t, "", "--db", filepath.Join(t.TempDir(), "claims.db"), "ingest", "policy.xlsx")
	assert.Error(t, err)
}
