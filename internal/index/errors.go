package index

import "errors"

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidK           = errors.New("k must be positive")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding     = errors.New("empty embedding")
)
