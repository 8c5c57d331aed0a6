// Package indexer builds, persists, and reloads the grievance vector index together with its record metadata.
//
// A persisted index is reused only while its stored dataset fingerprint matches the current dataset file.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/civicmatch/internal/dataset"
	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/fingerprint"
	"github.com/hyperjump/civicmatch/internal/metrics"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrCorruptCache reports persisted artifacts that are unreadable or disagree with each other.
	// LoadOrBuild recovers from it by rebuilding.
	ErrCorruptCache = errors.New("corrupt index cache")

	errNoCache             = errors.New("no persisted index")
	errFingerprintMismatch = errors.New("dataset changed")
)

// Paths locates the dataset and the three persisted artifacts.
type Paths struct {
	Dataset     string
	Index       string
	Metadata    string
	Fingerprint string
}

// Result is a ready-to-query index with its aligned records.
type Result struct {
	Index       vector.VectorIndex
	Records     []*models.GrievanceRecord
	Fingerprint string
	Rebuilt     bool
}

// Store builds and loads the vector index for one dataset.
type Store struct {
	paths     Paths
	indexType string
	embedder  embedding.Embedder
	loader    *dataset.Loader
	logger    *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for load and build events.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithIndexType selects the vector index implementation ("memory" or "faiss").
func WithIndexType(t string) StoreOption {
	return func(s *Store) { s.indexType = t }
}

// NewStore creates a Store for the given paths and embedder.
func NewStore(paths Paths, embedder embedding.Embedder, opts ...StoreOption) *Store {
	s := &Store{
		paths:     paths,
		indexType: string(vector.IndexTypeMemory),
		embedder:  embedder,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.loader = dataset.NewLoader(s.logger)
	return s
}

// Paths returns the configured paths.
func (s *Store) Paths() Paths {
	return s.paths
}

// Fingerprint returns the current dataset fingerprint, or ErrDatasetMissing.
func (s *Store) Fingerprint() (string, error) {
	fp, err := fingerprint.Compute(s.paths.Dataset)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w at %s", dataset.ErrDatasetMissing, s.paths.Dataset)
		}
		return "", err
	}
	return fp, nil
}

// LoadOrBuild reuses the persisted index when its fingerprint matches the dataset and index size equals
// the non-zero record count; otherwise it rebuilds from the dataset and overwrites the artifacts.
func (s *Store) LoadOrBuild(ctx context.Context) (*Result, error) {
	fp, err := s.Fingerprint()
	if err != nil {
		return nil, err
	}

	idx, records, err := s.Load(fp)
	if err == nil {
		metrics.IndexLoadTotal.WithLabelValues("hit").Inc()
		s.logger.Info("loaded persisted index",
			zap.Int("records", len(records)),
			zap.String("index_type", idx.Type()))
		return &Result{Index: idx, Records: records, Fingerprint: fp}, nil
	}
	switch {
	case errors.Is(err, errNoCache):
		s.logger.Info("no persisted index, building")
	case errors.Is(err, errFingerprintMismatch):
		s.logger.Info("dataset changed, rebuilding index")
	default:
		s.logger.Warn("persisted index unusable, rebuilding", zap.Error(err))
	}
	metrics.IndexLoadTotal.WithLabelValues("rebuild").Inc()
	return s.Build(ctx, fp)
}

// Load reads the persisted artifacts if they were committed for fingerprint fp.
// It never re-embeds. Inconsistent artifacts, including vectors from a different embedder, yield ErrCorruptCache.
func (s *Store) Load(fp string) (vector.VectorIndex, []*models.GrievanceRecord, error) {
	for _, p := range []string{s.paths.Index, s.paths.Metadata, s.paths.Fingerprint} {
		if _, err := os.Stat(p); err != nil {
			return nil, nil, errNoCache
		}
	}
	stored, err := fingerprint.ReadFile(s.paths.Fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read fingerprint: %w", ErrCorruptCache, err)
	}
	storedFP, storedEmbedder, _ := strings.Cut(stored, "\n")
	if !fingerprint.Matches(strings.TrimSpace(storedFP), fp) {
		return nil, nil, errFingerprintMismatch
	}
	if id := embedding.Identity(s.embedder); strings.TrimSpace(storedEmbedder) != id {
		return nil, nil, fmt.Errorf("%w: vectors built by %q, current embedder is %q",
			ErrCorruptCache, strings.TrimSpace(storedEmbedder), id)
	}

	records, err := readMetadata(s.paths.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}
	idx, err := vector.NewVectorIndex(s.indexType, s.embedder.Dimensions())
	if err != nil {
		return nil, nil, err
	}
	if err := idx.Load(s.paths.Index); err != nil {
		idx.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}
	if idx.Size() == 0 || idx.Size() != len(records) {
		idx.Close()
		return nil, nil, fmt.Errorf("%w: records=%d index=%d", ErrCorruptCache, len(records), idx.Size())
	}
	return idx, records, nil
}

// Build loads the dataset, embeds every record in passage mode, and commits the artifacts for fingerprint fp.
func (s *Store) Build(ctx context.Context, fp string) (*Result, error) {
	start := time.Now()
	records, err := s.loader.Load(s.paths.Dataset)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := s.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vecs) != len(records) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d records", len(vecs), len(records))
	}

	idx, err := vector.NewVectorIndex(s.indexType, s.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, vecs); err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}
	if err := s.commit(idx, records, fp); err != nil {
		idx.Close()
		return nil, err
	}

	elapsed := time.Since(start)
	metrics.IndexBuildDuration.Observe(elapsed.Seconds())
	s.logger.Info("index built and persisted",
		zap.Int("records", len(records)),
		zap.String("index_type", idx.Type()),
		zap.Duration("elapsed", elapsed))
	return &Result{Index: idx, Records: records, Fingerprint: fp, Rebuilt: true}, nil
}

// commit writes index, metadata, then fingerprint, each via temp file and rename.
// The fingerprint file records the dataset fingerprint and, on a second line, the embedder identity.
// The old fingerprint is removed first so a crash part-way leaves no fingerprint vouching for mixed artifacts.
func (s *Store) commit(idx vector.VectorIndex, records []*models.GrievanceRecord, fp string) error {
	if err := os.Remove(s.paths.Fingerprint); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale fingerprint: %w", err)
	}
	if err := fingerprint.AtomicWriteFunc(s.paths.Index, idx.Save); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	meta, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fingerprint.AtomicWrite(s.paths.Metadata, meta); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	if err := fingerprint.WriteFile(s.paths.Fingerprint, fp+"\n"+embedding.Identity(s.embedder)); err != nil {
		return fmt.Errorf("persist fingerprint: %w", err)
	}
	return nil
}

func readMetadata(path string) ([]*models.GrievanceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var records []*models.GrievanceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for i, r := range records {
		if r == nil || r.Text == "" {
			return nil, fmt.Errorf("metadata record %d is empty", i)
		}
	}
	return records, nil
}

// Search returns up to topK hits ordered by descending score. topK is clamped to [1, index size];
// an empty or nil index yields no hits.
func Search(ctx context.Context, idx vector.VectorIndex, query []float32, topK int) ([]*vector.VectorResult, error) {
	if idx == nil || idx.Size() == 0 {
		return nil, nil
	}
	topK = max(1, min(topK, idx.Size()))
	return idx.Search(ctx, query, topK)
}
