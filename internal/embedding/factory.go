package embedding

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderONNX    = "onnx"
	ProviderLexical = "lexical"
)

// Options configures New.
type Options struct {
	Provider   string
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New creates the configured embedder. When the ONNX provider cannot start (no CGO, missing runtime or model)
// it logs a warning and falls back to the lexical embedder with the same dimension.
func New(opts Options, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Provider {
	case ProviderONNX, "":
		emb, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens, opts.CacheSize)
		if err == nil {
			return emb, nil
		}
		logger.Warn("ONNX embedder unavailable, using lexical embedder",
			zap.String("model", opts.ModelPath),
			zap.Error(err))
		return NewLexicalEmbedder(opts.Dimensions)
	case ProviderLexical:
		return NewLexicalEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, lexical)", opts.Provider)
	}
}
