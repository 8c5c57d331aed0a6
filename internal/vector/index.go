// Package vector provides exact inner-product vector indexes aligned by position with a record list.
package vector

import "context"

// VectorIndex defines positional vector storage and similarity search.
// Vectors are addressed by insertion position; position i corresponds to record i.
type VectorIndex interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single search hit.
type VectorResult struct {
	Position int
	Score    float64 // inner product; cosine similarity for unit vectors
}
