package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Document is an ingested policy document. Only the most recent document is
// served by the retrieval index.
type Document struct {
	ID           uint   `gorm:"primaryKey"`
	Filename     string `gorm:"size:255;index"`
	Format       string `gorm:"size:16"`
	Embedder     string `gorm:"size:128"`
	SegmentCount int
	CreatedAt    time.Time
}

// Segment is one ordered text segment of a document together with its
// embedding.
type Segment struct {
	ID            uint   `gorm:"primaryKey"`
	DocumentID    uint   `gorm:"index:idx_segment_position,priority:1"`
	Position      int    `gorm:"index:idx_segment_position,priority:2"`
	Text          string `gorm:"type:text"`
	EmbeddingJSON string `gorm:"type:text"`
}

// SetEmbedding stores the vector as JSON.
func (s *Segment) SetEmbedding(v []float32) {
	if v == nil {
		s.EmbeddingJSON = ""
		return
	}
	payload, _ := json.Marshal(v)
	s.EmbeddingJSON = string(payload)
}

// Embedding decodes the stored vector.
func (s *Segment) Embedding() []float32 {
	if strings.TrimSpace(s.EmbeddingJSON) == "" {
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(s.EmbeddingJSON), &out); err != nil {
		return nil
	}
	return out
}

// QueryRecord is a persisted, immutable query result. The full result lives
// in PayloadJSON; the remaining columns support listing.
type QueryRecord struct {
	ID               string `gorm:"primaryKey;size:36"`
	Query            string `gorm:"type:text"`
	Domain           string `gorm:"size:64;index"`
	FinalDecision    string `gorm:"size:16;index"`
	Overridden       bool   `gorm:"index"`
	ProcessingTimeMs int64
	PayloadJSON      string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index"`
}
