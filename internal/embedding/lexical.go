package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/hyperjump/civicmatch/pkg/utils"
)

// tokenAnalyzer is the subset of a bleve analyzer used for term extraction.
type tokenAnalyzer interface {
	Analyze(input []byte) analysis.TokenStream
}

// LexicalEmbedder is a hashed bag-of-words embedder. Terms come from bleve's standard analyzer
// (unicode tokenization, lower-casing, English stop words) and are hashed into a fixed number of buckets.
// Identical texts embed to identical unit vectors; texts sharing no terms score zero unless buckets collide.
// Passage and query modes produce the same vector.
type LexicalEmbedder struct {
	dimensions int
	analyzer   tokenAnalyzer
}

// NewLexicalEmbedder creates a lexical embedder with the given dimension.
func NewLexicalEmbedder(dimensions int) (*LexicalEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	analyzer, err := registry.NewCache().AnalyzerNamed(standard.Name)
	if err != nil {
		return nil, fmt.Errorf("load standard analyzer: %w", err)
	}
	return &LexicalEmbedder{dimensions: dimensions, analyzer: analyzer}, nil
}

// EmbedPassages embeds each text.
func (e *LexicalEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (e *LexicalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

// Terms returns the analyzed terms of text in order.
func (e *LexicalEmbedder) Terms(text string) []string {
	stream := e.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) > 0 {
			terms = append(terms, string(tok.Term))
		}
	}
	return terms
}

// vector weights each bucket by 1+ln(tf) and normalizes. Text without terms yields the zero vector.
func (e *LexicalEmbedder) vector(text string) []float32 {
	counts := make(map[int]int)
	for _, term := range e.Terms(text) {
		counts[e.bucket(term)]++
	}
	vec := make([]float32, e.dimensions)
	for b, tf := range counts {
		vec[b] = float32(1 + math.Log(float64(tf)))
	}
	utils.NormalizeL2(vec)
	return vec
}

func (e *LexicalEmbedder) bucket(term string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum64() % uint64(e.dimensions))
}

// Dimensions returns the embedding dimension.
func (e *LexicalEmbedder) Dimensions() int {
	return e.dimensions
}

// Identity names the lexical vector space by its bucket count.
func (e *LexicalEmbedder) Identity() string {
	return fmt.Sprintf("lexical/%d", e.dimensions)
}

// Close is a no-op for LexicalEmbedder.
func (e *LexicalEmbedder) Close() error {
	return nil
}
