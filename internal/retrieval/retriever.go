// Package retrieval turns a free-text query into ranked book candidates.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/librarian/internal/embedding"
	"github.com/hyperengineering/librarian/internal/index"
)

// Defaults applied when the deployment does not configure them.
const (
	DefaultTopK        = 5
	DefaultMaxDistance = 0.8
)

// ErrEmptyQuery is returned when the query is empty or whitespace.
var ErrEmptyQuery = errors.New("query is empty")

// Index is the subset of the vector index the retriever needs.
type Index interface {
	Query(ctx context.Context, collection string, embedding []float32, k int) ([]index.Hit, error)
}

// SearchResult is one candidate that passed the distance filter.
type SearchResult struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Document string  `json:"document"`
	Distance float64 `json:"distance"`
}

// Config holds the per-deployment retrieval settings.
type Config struct {
	Collection  string
	TopK        int
	MaxDistance float64
}

// Retriever embeds queries with the same model used at ingest and filters
// the nearest documents by distance.
type Retriever struct {
	embedder    embedding.Embedder
	index       Index
	collection  string
	topK        int
	maxDistance float64
}

// New creates a Retriever. Zero values in cfg fall back to the defaults.
func New(embedder embedding.Embedder, idx Index, cfg Config) *Retriever {
	r := &Retriever{
		embedder:    embedder,
		index:       idx,
		collection:  cfg.Collection,
		topK:        cfg.TopK,
		maxDistance: cfg.MaxDistance,
	}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	if r.maxDistance <= 0 {
		r.maxDistance = DefaultMaxDistance
	}
	return r
}

// MaxDistance returns the distance threshold. Hits at or above it are dropped.
func (r *Retriever) MaxDistance() float64 {
	return r.maxDistance
}

// Search returns at most topK candidates ordered by ascending distance.
// A topK of zero or less uses the configured default. An empty slice is a
// valid outcome meaning nothing in the corpus is close enough.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.topK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Query(ctx, r.collection, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Distance >= r.maxDistance {
			continue
		}
		results = append(results, SearchResult{
			ID:       h.ID,
			Title:    h.Title,
			Document: h.Document,
			Distance: h.Distance,
		})
	}
	return results, nil
}

// BestTitle returns the title of the single nearest candidate. The boolean is
// false when no candidate passes the filter.
func (r *Retriever) BestTitle(ctx context.Context, query string) (string, bool, error) {
	results, err := r.Search(ctx, query, 1)
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 {
		return "", false, nil
	}
	return results[0].Title, true, nil
}
