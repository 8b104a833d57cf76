package retrieval

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"policy-claims/backend/internal/embedding"
)

// ErrEmptyIndex is returned when searching before any document was ingested.
var ErrEmptyIndex = errors.New("retrieval index is empty")

const collectionName = "segments"

// Hit is one nearest-neighbour match. Distance is cosine distance, 1 - similarity.
type Hit struct {
	SegmentID int
	Distance  float64
}

// Index is an exact cosine-similarity index over the segments of one document.
// Segment ids are their positions in the document.
type Index struct {
	collection *chromem.Collection
}

// NewIndex builds an index from one vector per segment. Zero vectors carry no
// direction and are left out of the index.
func NewIndex(ctx context.Context, vectors [][]float32) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(vectors))
	for pos, vec := range vectors {
		if len(vec) == 0 || embedding.IsZero(vec) {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(pos),
			Embedding: vec,
		})
	}
	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("add segments: %w", err)
		}
	}
	return &Index{collection: collection}, nil
}

// Len returns the number of indexed segments.
func (i *Index) Len() int {
	if i == nil || i.collection == nil {
		return 0
	}
	return i.collection.Count()
}

// Search returns up to k hits ordered by ascending distance.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	n := i.Len()
	if n == 0 {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}
	if embedding.IsZero(vector) {
		return nil, errors.New("query vector is zero")
	}
	if k > n {
		k = n
	}

	results, err := i.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("segment id %q: %w", r.ID, err)
		}
		hits = append(hits, Hit{SegmentID: id, Distance: 1 - float64(r.Similarity)})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Distance == hits[b].Distance {
			return hits[a].SegmentID < hits[b].SegmentID
		}
		return hits[a].Distance < hits[b].Distance
	})
	return hits, nil
}

// noEmbed is the collection's embedding function. Every document and query
// arrives with a vector, so it is never expected to run.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("index does not embed text")
}
