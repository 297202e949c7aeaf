package embedding

import "context"

// Embedder converts text into fixed-length vectors. The same model must be
// used when building the index and when embedding queries.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	ModelName() string
}
