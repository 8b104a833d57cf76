package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-claims/backend/internal/pipeline"
	"policy-claims/backend/internal/rules"
)

const policyText = `Knee surgery is covered after a waiting period of three months from the policy start date.

Cosmetic procedures are excluded from coverage under all plans.

Hospital stays in Pune and other network cities are reimbursed up to the payout cap.`

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	srv, err := NewServer(Config{
		DBPath:     filepath.Join(dir, "claims.db"),
		UploadDir:  filepath.Join(dir, "uploads"),
		SilentDB:   true,
		DisableAI:  true,
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	router, err := srv.Router()
	require.NoError(t, err)
	return srv, router
}

func upload(t *testing.T, router http.Handler, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest_document", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestAndQueryFlow(t *testing.T) {
	srv, router := newTestServer(t)

	rec := upload(t, router, "policy.txt", policyText)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ingested := decode[IngestResponse](t, rec)
	assert.Equal(t, "policy.txt", ingested.DocID)
	assert.Equal(t, 3, ingested.SegmentsCount)
	assert.Equal(t, "ingested", srv.notifier.LastEvent().Type)

	rec = doJSON(t, router, http.MethodPost, "/process_query", ProcessQueryRequest{
		Query: "46-year-old male, knee surgery in Pune, 3-month-old insurance policy",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[ProcessQueryResponse](t, rec).QueryID
	require.NotEmpty(t, id)
	assert.Equal(t, "processed", srv.notifier.LastEvent().Type)
	assert.Equal(t, id, srv.notifier.LastEvent().QueryID)

	rec = doJSON(t, router, http.MethodGet, "/get_full_result/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode[pipeline.Result](t, rec)
	assert.Equal(t, id, full.QueryID)
	assert.Equal(t, pipeline.DefaultDomain, full.Domain)
	assert.EqualValues(t, 46, full.Slots["age"])
	assert.NotEmpty(t, full.RetrievedClauses)
	assert.Len(t, full.Summaries, len(full.RetrievedClauses))
	// The offline reasoner has no verdict, so the rules keep it unknown.
	assert.Equal(t, rules.Unknown, full.Rules.FinalDecision)

	rec = doJSON(t, router, http.MethodGet, "/get_summaries/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[SummariesResponse](t, rec).Summaries, len(full.Summaries))

	rec = doJSON(t, router, http.MethodGet, "/get_chain_of_thought/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cot := decode[map[string]json.RawMessage](t, rec)
	assert.Contains(t, cot, "reasoning_trace")
	assert.Contains(t, cot, "llm_decision")

	rec = doJSON(t, router, http.MethodGet, "/get_rules/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, full.Rules, decode[RulesResponse](t, rec).Rules)

	rec = doJSON(t, router, http.MethodGet, "/queries?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[QueryListResponse](t, rec)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, id, list.Items[0].QueryID)
	assert.Equal(t, 10, list.Limit)
}

func TestIngestRejectsBadUploads(t *testing.T) {
	_, router := newTestServer(t)

	rec := upload(t, router, "policy.xlsx", "cells")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "unsupported")

	req := httptest.NewRequest(http.MethodPost, "/ingest_document", strings.NewReader(""))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessQueryValidation(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/process_query", ProcessQueryRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/process_query", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/process_query", ProcessQueryRequest{Query: "knee surgery", TopK: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessQueryWithoutDocument(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/process_query", ProcessQueryRequest{Query: "knee surgery in Pune"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[ProcessQueryResponse](t, rec).QueryID

	rec = doJSON(t, router, http.MethodGet, "/get_full_result/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode[pipeline.Result](t, rec)
	assert.Empty(t, full.RetrievedClauses)
	assert.Empty(t, full.Summaries)
}

func TestUnknownQueryIDs(t *testing.T) {
	_, router := newTestServer(t)

	for _, path := range []string{
		"/get_summaries/missing",
		"/get_chain_of_thought/missing",
		"/get_rules/missing",
		"/get_full_result/missing",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotEmpty(t, decode[map[string]string](t, rec)["error"], path)
	}
}

func TestListQueriesRejectsBadPaging(t *testing.T) {
	_, router := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, router, http.MethodGet, "/queries?offset=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, router, http.MethodGet, "/queries?limit=many", nil).Code)

	rec := doJSON(t, router, http.MethodGet, "/queries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[QueryListResponse](t, rec)
	assert.Zero(t, list.Total)
	assert.Equal(t, 25, list.Limit)
}

func TestListQueriesFilters(t *testing.T) {
	_, router := newTestServer(t)

	// With the offline reasoner the model verdict is unknown; only the
	// excluded procedure is turned into a rejection by the rules.
	for _, q := range []string{"knee surgery in Pune", "cosmetic surgery in Pune"} {
		require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/process_query", ProcessQueryRequest{Query: q}).Code)
	}

	tests := []struct {
		query    string
		total    int64
		decision rules.Verdict
	}{
		{query: "", total: 2},
		{query: "?final_decision=rejected", total: 1, decision: rules.Rejected},
		{query: "?final_decision=Unknown", total: 1, decision: rules.Unknown},
		{query: "?overridden=true", total: 1, decision: rules.Rejected},
		{query: "?overridden=false", total: 1, decision: rules.Unknown},
		{query: "?final_decision=approved", total: 0},
	}
	for _, tt := range tests {
		rec := doJSON(t, router, http.MethodGet, "/queries"+tt.query, nil)
		require.Equal(t, http.StatusOK, rec.Code, tt.query)
		list := decode[QueryListResponse](t, rec)
		assert.Equal(t, tt.total, list.Total, tt.query)
		require.Len(t, list.Items, int(tt.total), tt.query)
		if tt.decision != "" {
			assert.Equal(t, tt.decision, list.Items[0].FinalDecision, tt.query)
		}
	}

	assert.Equal(t, http.StatusBadRequest, doJSON(t, router, http.MethodGet, "/queries?final_decision=maybe", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, router, http.MethodGet, "/queries?overridden=sometimes", nil).Code)
}

func TestEvaluateRules(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		decision   rules.Verdict
		amount     *float64
		overridden bool
	}{
		{
			name:     "waiting period passes",
			body:     `{"slots":{"age":46,"policy_duration":"3-month-old","procedure":"knee surgery"},"decision":{"decision":"approved","amount":50000}}`,
			decision: rules.Approved,
			amount:   ptr(50000),
		},
		{
			name:       "excluded procedure",
			body:       `{"slots":{"procedure":"cosmetic surgery"},"decision":{"decision":"Approved","amount":20000}}`,
			decision:   rules.Rejected,
			overridden: true,
		},
		{
			name:     "payout capped",
			body:     `{"slots":{},"decision":{"decision":"approved","amount":150000}}`,
			decision: rules.Approved,
			amount:   ptr(100000),
		},
		{
			name:     "negative amount dropped",
			body:     `{"decision":{"decision":"maybe","amount":-5}}`,
			decision: rules.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/evaluate_rules", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			outcome := decode[rules.Outcome](t, rec)
			assert.Equal(t, tt.decision, outcome.FinalDecision)
			assert.Equal(t, tt.overridden, outcome.Overridden)
			if tt.amount == nil {
				assert.Nil(t, outcome.FinalAmount)
			} else if assert.NotNil(t, outcome.FinalAmount) {
				assert.InDelta(t, *tt.amount, *outcome.FinalAmount, 1e-9)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, router := newTestServer(t)

	require.Equal(t, http.StatusOK, upload(t, router, "policy.txt", policyText).Code)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.Segments)
	assert.Equal(t, "policy.txt", health.Document)
	assert.False(t, health.Reasoner)

	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/process_query", ProcessQueryRequest{Query: "knee surgery"}).Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claims_pipeline_queries_processed_total")
}

func TestNewServerRequiresDBPath(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func ptr(v float64) *float64 { return &v }
