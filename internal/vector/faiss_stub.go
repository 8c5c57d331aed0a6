//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a stub used when the faiss build tag is not set.
type FAISSIndex struct{}

// NewFAISSIndex returns an error because FAISS is not compiled in.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32) error { return errFAISSUnavailable }

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Save(path string) error { return errFAISSUnavailable }

func (f *FAISSIndex) Load(path string) error { return errFAISSUnavailable }

func (f *FAISSIndex) Size() int { return 0 }

func (f *FAISSIndex) Dimensions() int { return 0 }

func (f *FAISSIndex) Close() error { return nil }

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
