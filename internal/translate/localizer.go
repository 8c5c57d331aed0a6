package translate

import (
	"context"
	"errors"
	"net"

	"github.com/hyperjump/civicmatch/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Degradation reasons reported by Classify.
const (
	ReasonUnsupported = "unsupported"
	ReasonUnavailable = "unavailable"
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonNetwork     = "network"
	ReasonOther       = "other"
)

// Classify maps a translation error to a degradation reason.
func Classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrUnsupportedLanguage):
		return ReasonUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrUnavailable):
		return ReasonUnavailable
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	default:
		return ReasonOther
	}
}

// Localizer translates user-facing strings between the base language and a caller language,
// returning the input text whenever translation fails.
type Localizer struct {
	translator  Translator
	base        string
	concurrency int
	logger      *zap.Logger
}

// NewLocalizer creates a Localizer. A nil translator behaves as Noop; concurrency below 1 means 1.
func NewLocalizer(t Translator, base string, concurrency int, logger *zap.Logger) *Localizer {
	if t == nil {
		t = Noop{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Localizer{translator: t, base: base, concurrency: concurrency, logger: logger}
}

// Base returns the base language code.
func (l *Localizer) Base() string {
	return l.base
}

// ToBase translates text from lang into the base language.
func (l *Localizer) ToBase(ctx context.Context, text, lang string) string {
	if lang == l.base || text == "" {
		return text
	}
	return l.translate(ctx, text, lang, l.base)
}

// FromBase translates base-language text into lang.
func (l *Localizer) FromBase(ctx context.Context, text, lang string) string {
	if lang == l.base || text == "" {
		return text
	}
	return l.translate(ctx, text, l.base, lang)
}

// FromBaseAll translates each text into lang with bounded parallelism, preserving order.
func (l *Localizer) FromBaseAll(ctx context.Context, texts []string, lang string) []string {
	out := make([]string, len(texts))
	if lang == l.base {
		copy(out, texts)
		return out
	}
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			out[i] = l.FromBase(ctx, text, lang)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (l *Localizer) translate(ctx context.Context, text, source, target string) string {
	translated, err := l.translator.Translate(ctx, text, source, target)
	if err == nil {
		return translated
	}
	reason := Classify(err)
	metrics.TranslationDegradedTotal.WithLabelValues(reason).Inc()
	fields := []zap.Field{
		zap.String("source", source),
		zap.String("target", target),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if reason == ReasonOther {
		l.logger.Warn("translation failed, using untranslated text", fields...)
	} else {
		l.logger.Debug("translation degraded", fields...)
	}
	return text
}
