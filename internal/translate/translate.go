// Package translate renders text between the base language and the caller's language.
//
// Translation is best-effort: Localizer swallows the known failure modes of the provider
// and returns the untranslated text instead.
package translate

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedLanguage is returned when the provider cannot translate the language pair.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrUnavailable is returned when the provider cannot be reached or failed server-side.
	ErrUnavailable = errors.New("translation service unavailable")
)

// Translator translates text from source to target language (ISO 639-1 codes).
// An empty source lets the provider detect it.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Noop returns text unchanged. Used when no translation provider is configured.
type Noop struct{}

// Translate returns text.
func (Noop) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
