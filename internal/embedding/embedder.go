// Package embedding maps grievance text to unit-length vectors.
//
// Embedders distinguish passage mode (corpus records) from query mode (incoming grievances),
// following the E5 convention of "passage: " and "query: " prompt prefixes.
package embedding

import (
	"context"
	"fmt"
)

// Prompt prefixes for E5-style models.
const (
	PassagePrefix = "passage: "
	QueryPrefix   = "query: "
)

// Embedder produces L2-normalized, fixed-dimension vectors.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Identifier is implemented by embedders that can name the model behind their vectors.
type Identifier interface {
	Identity() string
}

// Identity names the vector space e produces. Vectors from embedders with different identities
// are not comparable even when their dimensions agree.
func Identity(e Embedder) string {
	if id, ok := e.(Identifier); ok {
		return id.Identity()
	}
	return fmt.Sprintf("%T/%d", e, e.Dimensions())
}
