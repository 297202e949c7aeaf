package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Compile-time interface check
var _ Embedder = (*Hashing)(nil)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// Hashing is an offline embedder that maps lowercase word tokens into a
// fixed number of buckets and L2-normalizes the counts. It needs no corpus
// preparation, so ingest and query always agree, but it only captures
// lexical overlap.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing embedder with dims buckets.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 512
	}
	return &Hashing{dims: dims}
}

// Embed hashes the tokens of text into a unit vector. Text without tokens
// yields the zero vector.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dims)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// EmbedBatch embeds each text in order.
func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelName identifies the bucket count so indexes built with a different
// size are recognisable.
func (h *Hashing) ModelName() string {
	return "hashing-" + strconv.Itoa(h.dims)
}
