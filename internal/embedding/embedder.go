package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder converts text into fixed-length vectors. Implementations that need
// corpus statistics build them in Prepare; the others treat it as a no-op.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures an embedder.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int
}

// New builds the embedder named by cfg.Provider. The local TF-IDF embedder is
// the default.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "tfidf", "local":
		return NewTFIDF(), nil
	case "openai":
		return NewOpenAI(cfg)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
