package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"policy-claims/backend/internal/embedding"
	"policy-claims/backend/internal/ingest"
	"policy-claims/backend/internal/store"
)

// DefaultTopK is the number of clauses retrieved per query.
const DefaultTopK = 5

// Clause is a retrieved segment.
type Clause struct {
	ClauseID int     `json:"clause_id"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// SegmentStore persists ingested documents so the index survives restarts.
type SegmentStore interface {
	SaveDocument(ctx context.Context, doc *store.Document, segments []store.Segment) error
	LatestDocument(ctx context.Context) (*store.Document, error)
	ListSegments(ctx context.Context, documentID uint) ([]store.Segment, error)
}

// Config controls the retrieval service.
type Config struct {
	UploadDir string
	TopK      int
	Segmenter *ingest.Segmenter
}

// IngestResult describes a completed ingest.
type IngestResult struct {
	DocumentID uint
	Filename   string
	Segments   int
}

// Service owns the active document index. Ingesting a document replaces the
// index; queries always see either the old or the new one in full.
type Service struct {
	embedder  embedding.Embedder
	db        SegmentStore
	segmenter *ingest.Segmenter
	uploadDir string
	topK      int

	ingestMu sync.Mutex

	mu       sync.RWMutex
	index    *Index
	segments []string
	docName  string
}

// NewService wires the retrieval service.
func NewService(cfg Config, embedder embedding.Embedder, db SegmentStore) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Segmenter == nil {
		cfg.Segmenter = ingest.NewSegmenter(0, 0)
	}
	if strings.TrimSpace(cfg.UploadDir) != "" {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload directory: %w", err)
		}
	}
	return &Service{
		embedder:  embedder,
		db:        db,
		segmenter: cfg.Segmenter,
		uploadDir: cfg.UploadDir,
		topK:      cfg.TopK,
	}, nil
}

// SegmentCount returns the number of segments of the active document.
func (s *Service) SegmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// ActiveDocument returns the filename of the active document, if any.
func (s *Service) ActiveDocument() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docName
}

// Ingest stores the uploaded document under the upload directory, segments and
// embeds it, persists the segments and makes it the active document.
func (s *Service) Ingest(ctx context.Context, filename string, r io.Reader) (IngestResult, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	format, err := ingest.DetectFormat(name)
	if err != nil {
		return IngestResult{}, err
	}

	path, err := s.saveUpload(name, r)
	if err != nil {
		return IngestResult{}, err
	}
	return s.IngestFile(ctx, path, name, format)
}

// IngestFile indexes a document that is already on disk.
func (s *Service) IngestFile(ctx context.Context, path, name string, format ingest.Format) (_ IngestResult, err error) {
	start := time.Now()
	texts, err := s.segmenter.Segment(path)
	if err != nil {
		return IngestResult{}, err
	}
	if len(texts) == 0 {
		return IngestResult{}, fmt.Errorf("%s: no text segments extracted", name)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	// The embedder's corpus statistics change with the document, so queries
	// wait until the new vectors and index are in place.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.embedder.Prepare(texts); err != nil {
		s.refitActive()
		return IngestResult{}, fmt.Errorf("prepare embedder: %w", err)
	}
	defer func() {
		if err != nil {
			s.refitActive()
		}
	}()
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return IngestResult{}, fmt.Errorf("embed segment %d: %w", i, err)
		}
		vectors[i] = vec
	}
	index, err := NewIndex(ctx, vectors)
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{Filename: name, Segments: len(texts)}
	if s.db != nil {
		doc := &store.Document{Filename: name, Format: string(format), Embedder: s.embedder.Name()}
		rows := make([]store.Segment, len(texts))
		for i, text := range texts {
			rows[i].Text = text
			rows[i].SetEmbedding(vectors[i])
		}
		if err := s.db.SaveDocument(ctx, doc, rows); err != nil {
			return IngestResult{}, fmt.Errorf("persist segments: %w", err)
		}
		result.DocumentID = doc.ID
	}

	s.index = index
	s.segments = texts
	s.docName = name

	logrus.WithFields(logrus.Fields{
		"document": name,
		"segments": len(texts),
		"indexed":  index.Len(),
		"embedder": s.embedder.Name(),
		"duration": time.Since(start),
	}).Info("document ingested")
	return result, nil
}

// Restore rebuilds the index from the most recently persisted document. It is
// a no-op when nothing has been ingested yet.
func (s *Service) Restore(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	doc, err := s.db.LatestDocument(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load latest document: %w", err)
	}
	rows, err := s.db.ListSegments(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load segments: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.embedder.Prepare(texts); err != nil {
		s.refitActive()
		return fmt.Errorf("prepare embedder: %w", err)
	}
	defer func() {
		if err != nil {
			s.refitActive()
		}
	}()
	reuse := doc.Embedder == s.embedder.Name()
	vectors := make([][]float32, len(rows))
	for i, row := range rows {
		if reuse {
			if vec := row.Embedding(); vec != nil {
				vectors[i] = vec
				continue
			}
		}
		vec, err := s.embedder.Embed(ctx, row.Text)
		if err != nil {
			return fmt.Errorf("embed segment %d: %w", i, err)
		}
		vectors[i] = vec
	}
	index, err := NewIndex(ctx, vectors)
	if err != nil {
		return err
	}
	s.index = index
	s.segments = texts
	s.docName = doc.Filename

	logrus.WithFields(logrus.Fields{
		"document": doc.Filename,
		"segments": len(texts),
		"reused":   reuse,
	}).Info("retrieval index restored")
	return nil
}

// refitActive points the embedder back at the active document after a failed
// ingest or restore. Callers hold s.mu.
func (s *Service) refitActive() {
	if len(s.segments) == 0 {
		return
	}
	if err := s.embedder.Prepare(s.segments); err != nil {
		logrus.WithError(err).Error("refit embedder on active document")
	}
}

// Retrieve returns the k clauses closest to the query, ascending by distance.
// A query that shares no vocabulary with the embedder is answered by token
// overlap instead.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]Clause, error) {
	if k <= 0 {
		k = s.topK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.segments) == 0 {
		return nil, ErrEmptyIndex
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embedding.IsZero(vec) || s.index.Len() == 0 {
		return lexicalSearch(query, s.segments, k), nil
	}

	hits, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	clauses := make([]Clause, 0, len(hits))
	for _, hit := range hits {
		if hit.SegmentID < 0 || hit.SegmentID >= len(s.segments) {
			continue
		}
		clauses = append(clauses, Clause{
			ClauseID: hit.SegmentID,
			Text:     s.segments[hit.SegmentID],
			Distance: hit.Distance,
		})
	}
	return clauses, nil
}

func (s *Service) saveUpload(name string, r io.Reader) (string, error) {
	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
