// Package service holds the shared grievance corpus snapshot and serves inference against it.
//
// The snapshot is built at most once per dataset fingerprint, even under concurrent first access,
// and is replaced atomically on reload so in-flight queries keep the snapshot they started with.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/civicmatch/internal/indexer"
	"github.com/hyperjump/civicmatch/internal/inference"
	"github.com/hyperjump/civicmatch/internal/metrics"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/profile"
	"github.com/hyperjump/civicmatch/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable corpus generation.
type Snapshot struct {
	Corpus      *inference.Corpus
	Fingerprint string
	Rebuilt     bool
	LoadedAt    time.Time
}

// Status describes the active snapshot.
type Status struct {
	Ready          bool      `json:"ready"`
	Records        int       `json:"records"`
	IndexSize      int       `json:"index_size"`
	IndexType      string    `json:"index_type,omitempty"`
	Departments    []string  `json:"departments"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Rebuilt        bool      `json:"rebuilt"`
	LoadedAt       time.Time `json:"loaded_at,omitempty"`
	DiskUsageBytes int64     `json:"disk_usage_bytes"`
}

// Service owns the corpus snapshot and delegates queries to the inference engine.
type Service struct {
	store    *indexer.Store
	profiles *profile.Builder
	engine   *inference.Engine
	logger   *zap.Logger

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	buildMu sync.Mutex

	mu      sync.Mutex
	retired []*Snapshot
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. Nothing is loaded until Init, Reload, or the first RunInference.
func New(store *indexer.Store, profiles *profile.Builder, engine *inference.Engine, opts ...Option) *Service {
	s := &Service{store: store, profiles: profiles, engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// RunInference answers query against the current snapshot, initializing it on first use.
// An empty query is rejected before any initialization work.
func (s *Service) RunInference(ctx context.Context, query string) (*models.InferenceResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, inference.ErrEmptyQuery
	}
	snap, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Infer(ctx, query, snap.Corpus, 0)
}

// Init returns the current snapshot, loading or building it once if none exists.
// Concurrent callers share one load; startup errors leave no snapshot published.
func (s *Service) Init(ctx context.Context) (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}
	fp, err := s.store.Fingerprint()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, fp)
}

// Reload rebuilds the snapshot when the dataset fingerprint differs from the active one and swaps it in.
// It returns the active snapshot and whether a swap happened.
func (s *Service) Reload(ctx context.Context) (*Snapshot, bool, error) {
	cur := s.current.Load()
	fp, err := s.store.Fingerprint()
	if err != nil {
		return cur, false, err
	}
	if cur != nil && fp == cur.Fingerprint {
		return cur, false, nil
	}
	snap, err := s.load(ctx, fp)
	if err != nil {
		return cur, false, err
	}
	return snap, snap != cur, nil
}

// load runs one shared build per dataset fingerprint, so a caller that saw a newer dataset never
// joins a build of an older one. The build is detached from the caller's cancellation since other
// callers may be waiting on it; ctx only bounds this caller's wait.
func (s *Service) load(ctx context.Context, fp string) (*Snapshot, error) {
	ch := s.group.DoChan("load:"+fp, func() (interface{}, error) {
		return s.build(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// build stages a complete snapshot and publishes it. Builds run one at a time since they share the
// persisted artifacts. When the active snapshot already matches the dataset fingerprint it is kept.
func (s *Service) build(ctx context.Context) (*Snapshot, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	cur := s.current.Load()
	if cur != nil {
		if fp, err := s.store.Fingerprint(); err == nil && fp == cur.Fingerprint {
			return cur, nil
		}
	}

	res, err := s.store.LoadOrBuild(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles.Build(ctx, res.Records)
	if err != nil {
		res.Index.Close()
		return nil, fmt.Errorf("build department profiles: %w", err)
	}
	snap := &Snapshot{
		Corpus: &inference.Corpus{
			Index:    res.Index,
			Records:  res.Records,
			Profiles: profiles,
		},
		Fingerprint: res.Fingerprint,
		Rebuilt:     res.Rebuilt,
		LoadedAt:    time.Now(),
	}
	if old := s.current.Swap(snap); old != nil {
		s.retire(old)
	}
	metrics.IndexedRecords.Set(float64(len(res.Records)))
	s.logger.Info("corpus snapshot ready",
		zap.Int("records", len(res.Records)),
		zap.Int("departments", len(profiles)),
		zap.Bool("rebuilt", res.Rebuilt))
	return snap, nil
}

// retire keeps replaced snapshots alive until Close so in-flight queries never see a closed index.
func (s *Service) retire(old *Snapshot) {
	s.mu.Lock()
	s.retired = append(s.retired, old)
	s.mu.Unlock()
}

// Snapshot returns the active snapshot, or nil before initialization.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Status reports on the active snapshot without triggering a load.
func (s *Service) Status() Status {
	paths := s.store.Paths()
	usage, _ := storage.DiskUsageBytes(paths.Index, paths.Metadata, paths.Fingerprint)
	st := Status{DiskUsageBytes: usage, Departments: []string{}}
	snap := s.current.Load()
	if snap == nil {
		return st
	}
	st.Ready = true
	st.Records = len(snap.Corpus.Records)
	st.IndexSize = snap.Corpus.Index.Size()
	st.IndexType = snap.Corpus.Index.Type()
	st.Departments = snap.Corpus.Profiles.Departments()
	st.Fingerprint = snap.Fingerprint
	st.Rebuilt = snap.Rebuilt
	st.LoadedAt = snap.LoadedAt
	return st
}

// Close releases the active and retired snapshot indexes.
func (s *Service) Close() error {
	s.mu.Lock()
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()
	for _, snap := range retired {
		_ = snap.Corpus.Index.Close()
	}
	if snap := s.current.Swap(nil); snap != nil {
		return snap.Corpus.Index.Close()
	}
	return nil
}
