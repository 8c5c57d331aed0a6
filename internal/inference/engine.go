// Package inference matches a grievance against the indexed corpus and assembles the localized reply.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/indexer"
	"github.com/hyperjump/civicmatch/internal/language"
	"github.com/hyperjump/civicmatch/internal/metrics"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/profile"
	"github.com/hyperjump/civicmatch/internal/translate"
	"github.com/hyperjump/civicmatch/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrEmptyQuery is returned for an empty or whitespace-only query.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrEmptyIndex is returned when there is no index or no records to search.
	ErrEmptyIndex = errors.New("grievance index is empty")
	// ErrRetrievalFailure wraps embedding and search failures.
	ErrRetrievalFailure = errors.New("retrieval failed")
)

// Defaults used when Config leaves a value unset.
const (
	DefaultTopK                   = 8
	DefaultLowConfidenceThreshold = 0.35
	DefaultBaseLanguage           = "en"
)

// Corpus is a read-only snapshot of the index, its aligned records, and department profiles.
type Corpus struct {
	Index    vector.VectorIndex
	Records  []*models.GrievanceRecord
	Profiles profile.Profiles
}

// Config tunes retrieval and reply shaping.
type Config struct {
	TopK                   int
	LowConfidenceThreshold float64
	BaseLanguage           string
	SupportedLanguages     []string
}

// Engine runs one inference pass per query. It is safe for concurrent use.
type Engine struct {
	embedder  embedding.Embedder
	detector  language.Detector
	localizer *translate.Localizer
	supported language.Supported
	cfg       Config
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDetector sets the language detector. Without one every query is treated as the base language.
func WithDetector(d language.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithLocalizer sets the localizer used for query and reply translation.
func WithLocalizer(l *translate.Localizer) Option {
	return func(e *Engine) { e.localizer = l }
}

// NewEngine creates an Engine.
func NewEngine(embedder embedding.Embedder, cfg Config, opts ...Option) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	if cfg.BaseLanguage == "" {
		cfg.BaseLanguage = DefaultBaseLanguage
	}
	if len(cfg.SupportedLanguages) == 0 {
		cfg.SupportedLanguages = language.DefaultSupported
	}
	e := &Engine{
		embedder:  embedder,
		cfg:       cfg,
		supported: language.NewSupported(append([]string{cfg.BaseLanguage}, cfg.SupportedLanguages...)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.localizer == nil {
		e.localizer = translate.NewLocalizer(nil, cfg.BaseLanguage, 1, e.logger)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Validate checks the query and corpus preconditions of Infer without doing any work.
func Validate(query string, corpus *Corpus) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	if corpus == nil || corpus.Index == nil || corpus.Index.Size() == 0 || len(corpus.Records) == 0 {
		return ErrEmptyIndex
	}
	return nil
}

// Infer matches query against corpus. topK <= 0 uses the configured default.
func (e *Engine) Infer(ctx context.Context, query string, corpus *Corpus, topK int) (*models.InferenceResult, error) {
	start := time.Now()
	result, err := e.infer(ctx, query, corpus, topK)
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	metrics.InferenceTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	result.QueryTime = time.Since(start).Milliseconds()
	return result, nil
}

func (e *Engine) infer(ctx context.Context, query string, corpus *Corpus, topK int) (*models.InferenceResult, error) {
	if err := Validate(query, corpus); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	query = strings.TrimSpace(query)

	lang := language.DetectOrDefault(e.detector, e.supported, e.cfg.BaseLanguage, query)
	baseQuery := e.localizer.ToBase(ctx, query, lang)

	qvec, err := e.embedder.EmbedQuery(ctx, baseQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalFailure, err)
	}
	predicted, _, hasPrediction := corpus.Profiles.Predict(qvec)

	hits, err := indexer.Search(ctx, corpus.Index, qvec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrRetrievalFailure, err)
	}
	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(corpus.Records) {
			continue
		}
		candidates = append(candidates, Candidate{Record: corpus.Records[h.Position], Score: h.Score})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrRetrievalFailure)
	}

	best := candidates[SelectBest(candidates, predicted, hasPrediction)]
	confidence := clampConfidence(best.Score)
	lowConfidence := confidence < e.cfg.LowConfidenceThreshold
	if lowConfidence {
		metrics.LowConfidenceTotal.Inc()
	}

	result := e.assemble(best, candidates, lowConfidence)
	result.Confidence = round(confidence, 3)
	result.Language = lang
	if hasPrediction {
		result.PredictedDepartment = predicted
	}
	e.localize(ctx, result, lang)

	e.logger.Debug("inference",
		zap.String("language", lang),
		zap.String("predicted_department", predicted),
		zap.String("department", result.Department),
		zap.String("grievance_id", best.Record.ID),
		zap.Float64("confidence", result.Confidence),
		zap.Int("candidates", len(candidates)))
	return result, nil
}

// assemble builds the base-language result for the selected candidate.
func (e *Engine) assemble(best Candidate, candidates []Candidate, lowConfidence bool) *models.InferenceResult {
	rec := best.Record
	steps := SolutionSteps(rec)

	reply := fmt.Sprintf("Your grievance appears to concern %s. First step: %s", rec.Department, steps[0])
	if lowConfidence {
		reply = LowConfidenceReply
	}

	similar := make([]*models.SimilarCase, len(candidates))
	for i, c := range candidates {
		similar[i] = &models.SimilarCase{
			GrievanceID: c.Record.ID,
			Department:  c.Record.Department,
			Solution:    primaryAction(c.Record),
			Similarity:  round(finiteScore(c.Score), 4),
		}
	}

	return &models.InferenceResult{
		Reply:              reply,
		Answer:             Answer(steps),
		SolutionSteps:      steps,
		Department:         rec.Department,
		ExpectedResolution: fmt.Sprintf("%d days", rec.ResolutionDays),
		SimilarCases:       similar,
		Escalation: models.EscalationInfo{
			AfterDays: rec.ResolutionDays,
			Keyword:   models.EscalationKeyword,
			Note: fmt.Sprintf("Reply %s after %d days to raise an escalation ticket with the Escalation Desk.",
				models.EscalationKeyword, rec.ResolutionDays),
		},
		LowConfidence: lowConfidence,
	}
}

// localize renders every user-facing string of result in lang. Department names stay untranslated.
func (e *Engine) localize(ctx context.Context, result *models.InferenceResult, lang string) {
	if lang == e.localizer.Base() {
		return
	}
	texts := []string{result.Reply, result.Answer, result.Escalation.Note}
	texts = append(texts, result.SolutionSteps...)
	for _, c := range result.SimilarCases {
		texts = append(texts, c.Solution)
	}

	out := e.localizer.FromBaseAll(ctx, texts, lang)

	result.Reply, result.Answer, result.Escalation.Note = out[0], out[1], out[2]
	n := 3
	for i := range result.SolutionSteps {
		result.SolutionSteps[i] = out[n]
		n++
	}
	for _, c := range result.SimilarCases {
		c.Solution = out[n]
		n++
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, ErrEmptyIndex):
		return "empty_index"
	case errors.Is(err, ErrRetrievalFailure):
		return "retrieval_failure"
	default:
		return "error"
	}
}

// clampConfidence maps a similarity score into [0, 1]. NaN counts as no similarity.
func clampConfidence(score float64) float64 {
	return math.Max(0, math.Min(1, finiteScore(score)))
}

func finiteScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
