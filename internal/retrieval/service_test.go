package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-claims/backend/internal/embedding"
	"policy-claims/backend/internal/ingest"
	"policy-claims/backend/internal/store"
)

const policyText = `Knee surgery is covered after a waiting period of three months.

Cosmetic procedures are excluded from this policy.

Hospital stays in Pune are reimbursed up to the sum insured.

Dental treatment requires a separate rider.`

func TestIndexSearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex(ctx, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}, {0, 0}})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 0, hits[0].SegmentID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-5)
	assert.Equal(t, 2, hits[1].SegmentID)
	assert.InDelta(t, 0.4, hits[1].Distance, 1e-5)
	assert.Equal(t, 1, hits[2].SegmentID)
	assert.InDelta(t, 1, hits[2].Distance, 1e-5)

	hits, err = idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexSearchEmpty(t *testing.T) {
	idx, err := NewIndex(context.Background(), nil)
	require.NoError(t, err)
	_, err = idx.Search(context.Background(), []float32{1}, 3)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestLexicalSearch(t *testing.T) {
	segments := []string{"dental rider", "knee surgery waiting period", "knee brace"}
	clauses := lexicalSearch("Knee surgery", segments, 2)
	require.Len(t, clauses, 2)
	assert.Equal(t, 1, clauses[0].ClauseID)
	assert.Equal(t, 2, clauses[1].ClauseID)
	assert.Less(t, clauses[0].Distance, clauses[1].Distance)

	clauses = lexicalSearch("xylophone", segments, 5)
	require.Len(t, clauses, 3)
	assert.Equal(t, 0, clauses[0].ClauseID)
	assert.InDelta(t, 1, clauses[0].Distance, 1e-9)
}

func newTestService(t *testing.T, db SegmentStore) *Service {
	t.Helper()
	svc, err := NewService(Config{UploadDir: t.TempDir()}, embedding.NewTFIDF(), db)
	require.NoError(t, err)
	return svc
}

func TestRetrieveBeforeIngest(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Retrieve(context.Background(), "knee", 3)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	res, err := svc.Ingest(ctx, "policy.txt", strings.NewReader(policyText))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Segments)
	assert.Equal(t, "policy.txt", res.Filename)
	assert.Equal(t, 4, svc.SegmentCount())
	assert.FileExists(t, filepath.Join(svc.uploadDir, "policy.txt"))

	clauses, err := svc.Retrieve(ctx, "knee surgery claim", 2)
	require.NoError(t, err)
	require.Len(t, clauses, 2)
	assert.Equal(t, 0, clauses[0].ClauseID)
	assert.Contains(t, clauses[0].Text, "Knee surgery")
	assert.LessOrEqual(t, clauses[0].Distance, clauses[1].Distance)

	clauses, err = svc.Retrieve(ctx, "knee", 50)
	require.NoError(t, err)
	assert.Len(t, clauses, 4)
}

func TestRetrieveFallsBackToLexicalSearch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	_, err := svc.Ingest(ctx, "policy.txt", strings.NewReader(policyText))
	require.NoError(t, err)

	// Only stopwords and unseen terms: the embedding is zero.
	clauses, err := svc.Retrieve(ctx, "the xylophone in a harp", 1)
	require.NoError(t, err)
	require.Len(t, clauses, 1)
	assert.Equal(t, 2, clauses[0].ClauseID)
}

func TestIngestRejectsUnsupportedFormat(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Ingest(context.Background(), "policy.xlsx", strings.NewReader("x"))
	assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)

	entries, err := os.ReadDir(svc.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLatestDocumentWins(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	_, err := svc.Ingest(ctx, "first.txt", strings.NewReader(policyText))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "second.txt", strings.NewReader("Maternity cover starts after two years."))
	require.NoError(t, err)

	assert.Equal(t, 1, svc.SegmentCount())
	assert.Equal(t, "second.txt", svc.ActiveDocument())
	clauses, err := svc.Retrieve(ctx, "maternity", 5)
	require.NoError(t, err)
	require.Len(t, clauses, 1)
	assert.Contains(t, clauses[0].Text, "Maternity")
}

// flakyStore accepts the first document and fails every later save.
type flakyStore struct {
	saved int
}

func (f *flakyStore) SaveDocument(_ context.Context, doc *store.Document, _ []store.Segment) error {
	if f.saved > 0 {
		return errors.New("disk full")
	}
	f.saved++
	doc.ID = uint(f.saved)
	return nil
}

func (f *flakyStore) LatestDocument(context.Context) (*store.Document, error) {
	return nil, store.ErrNotFound
}

func (f *flakyStore) ListSegments(context.Context, uint) ([]store.Segment, error) {
	return nil, nil
}

func TestFailedIngestKeepsActiveDocument(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &flakyStore{})
	_, err := svc.Ingest(ctx, "a.txt", strings.NewReader(policyText))
	require.NoError(t, err)

	queries := []string{"knee surgery waiting period", "motor accident knee", "dental rider"}
	before := make(map[string][]Clause, len(queries))
	for _, q := range queries {
		clauses, err := svc.Retrieve(ctx, q, 3)
		require.NoError(t, err)
		before[q] = clauses
	}

	_, err = svc.Ingest(ctx, "b.txt", strings.NewReader("Motor accident cover pays for vehicle repairs.\n\nTheft of the insured vehicle is covered."))
	require.ErrorContains(t, err, "disk full")

	assert.Equal(t, "a.txt", svc.ActiveDocument())
	assert.Equal(t, 4, svc.SegmentCount())
	for _, q := range queries {
		clauses, err := svc.Retrieve(ctx, q, 3)
		require.NoError(t, err, q)
		assert.Equal(t, before[q], clauses, q)
	}
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "claims.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first := newTestService(t, db)
	res, err := first.Ingest(ctx, "policy.txt", strings.NewReader(policyText))
	require.NoError(t, err)
	assert.NotZero(t, res.DocumentID)

	restored := newTestService(t, db)
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, 4, restored.SegmentCount())
	assert.Equal(t, "policy.txt", restored.ActiveDocument())

	want, err := first.Retrieve(ctx, "cosmetic procedures", 3)
	require.NoError(t, err)
	got, err := restored.Retrieve(ctx, "cosmetic procedures", 3)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ClauseID, got[i].ClauseID)
		assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-5)
	}
}

func TestRestoreWithoutDocuments(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "claims.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := newTestService(t, db)
	require.NoError(t, svc.Restore(context.Background()))
	assert.Zero(t, svc.SegmentCount())
}
