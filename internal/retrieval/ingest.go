package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperengineering/librarian/internal/corpus"
	"github.com/hyperengineering/librarian/internal/embedding"
	"github.com/hyperengineering/librarian/internal/index"
)

// embedBatchSize caps the number of documents sent per embeddings request.
const embedBatchSize = 100

// Rebuilder is the subset of the vector index the ingester needs.
type Rebuilder interface {
	Rebuild(ctx context.Context, collection string, entries []index.Entry) (string, error)
}

// IngestOptions controls a corpus rebuild.
type IngestOptions struct {
	Collection string
	// StrictSlugs makes distinct titles sharing a slug a fatal error.
	// When false the later record wins.
	StrictSlugs bool
}

// IngestReport summarizes a completed rebuild.
type IngestReport struct {
	Collection string                 `json:"collection"`
	Generation string                 `json:"generation"`
	Documents  int                    `json:"documents"`
	Collisions []corpus.SlugCollision `json:"collisions,omitempty"`
}

// Ingest normalizes records, embeds every document and atomically replaces
// the collection. Running it twice over the same records yields the same set
// of document IDs.
func Ingest(ctx context.Context, embedder embedding.Embedder, idx Rebuilder, records []corpus.BookRecord, opts IngestOptions) (*IngestReport, error) {
	if len(records) == 0 {
		return nil, corpus.ErrEmptyCorpus
	}

	docs := corpus.NormalizeAll(records)

	collisions := corpus.CheckSlugs(docs)
	if len(collisions) > 0 {
		for _, c := range collisions {
			slog.Warn("slug collision",
				"component", "ingest",
				"id", c.ID,
				"titles", strings.Join(c.Titles, " | "),
			)
		}
		if opts.StrictSlugs {
			return nil, fmt.Errorf("%w: %d slug(s) shared by several titles, first %q",
				corpus.ErrSlugCollision, len(collisions), collisions[0].ID)
		}
	}

	vectors, err := embedDocuments(ctx, embedder, docs)
	if err != nil {
		return nil, err
	}

	entries := make([]index.Entry, len(docs))
	for i, d := range docs {
		entries[i] = index.Entry{
			ID:        d.ID,
			Title:     d.Title,
			Document:  d.Text,
			Embedding: vectors[i],
		}
	}

	generation, err := idx.Rebuild(ctx, opts.Collection, entries)
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	report := &IngestReport{
		Collection: opts.Collection,
		Generation: generation,
		Documents:  len(docs) - duplicates(collisions),
		Collisions: collisions,
	}

	slog.Info("corpus ingested",
		"component", "ingest",
		"collection", opts.Collection,
		"generation", generation,
		"documents", report.Documents,
		"model", embedder.ModelName(),
	)
	return report, nil
}

func embedDocuments(ctx context.Context, embedder embedding.Embedder, docs []corpus.Document) ([][]float32, error) {
	vectors := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))

		texts := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			texts = append(texts, d.Text)
		}

		batch, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed documents %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// duplicates counts the records that lose to a later record with the same slug.
func duplicates(collisions []corpus.SlugCollision) int {
	n := 0
	for _, c := range collisions {
		n += len(c.Titles) - 1
	}
	return n
}
