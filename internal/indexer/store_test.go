package indexer

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/civicmatch/internal/dataset"
	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/vector"
)

const sampleCSV = `text,department,solution,location,resolution_days
no water supply in Rajajinagar,Water Board,Contact ward office,Rajajinagar,3
garbage not collected,Solid Waste Management,File complaint with BBMP,Jayanagar,2
street light broken near park,Electricity,Raise BESCOM ticket,Indiranagar,4
`

// countingEmbedder wraps an embedder and counts passage embeddings.
type countingEmbedder struct {
	embedding.Embedder
	passages atomic.Int64
}

func (c *countingEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	c.passages.Add(int64(len(texts)))
	return c.Embedder.EmbedPassages(ctx, texts)
}

type failingEmbedder struct {
	embedding.Embedder
}

func (failingEmbedder) EmbedPassages(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func newTestStore(t *testing.T, csv string) (*Store, *countingEmbedder) {
	t.Helper()
	dir := t.TempDir()
	paths := Paths{
		Dataset:     filepath.Join(dir, "bbmp_reddit_data.csv"),
		Index:       filepath.Join(dir, "cache", "grievance.index"),
		Metadata:    filepath.Join(dir, "cache", "grievance_meta.json"),
		Fingerprint: filepath.Join(dir, "cache", "grievance_fingerprint.txt"),
	}
	if csv != "" {
		if err := os.WriteFile(paths.Dataset, []byte(csv), 0644); err != nil {
			t.Fatal(err)
		}
	}
	lex, err := embedding.NewLexicalEmbedder(256)
	if err != nil {
		t.Fatal(err)
	}
	emb := &countingEmbedder{Embedder: lex}
	return NewStore(paths, emb), emb
}

func TestLoadOrBuild_buildThenHit(t *testing.T) {
	s, emb := newTestStore(t, sampleCSV)
	ctx := context.Background()

	first, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Rebuilt {
		t.Error("first call should build")
	}
	if first.Index.Size() != len(first.Records) || len(first.Records) != 3 {
		t.Fatalf("size=%d records=%d", first.Index.Size(), len(first.Records))
	}
	built := emb.passages.Load()
	if built != 3 {
		t.Errorf("embedded %d passages, want 3", built)
	}
	for _, p := range []string{s.paths.Index, s.paths.Metadata, s.paths.Fingerprint} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact %s missing: %v", filepath.Base(p), err)
		}
	}

	for i := 0; i < 2; i++ {
		again, err := s.LoadOrBuild(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if again.Rebuilt {
			t.Error("unchanged dataset should be a cache hit")
		}
		if again.Index.Size() != len(again.Records) {
			t.Errorf("size=%d records=%d", again.Index.Size(), len(again.Records))
		}
		if again.Records[1].Department != "Solid Waste Management" {
			t.Errorf("metadata not restored: %+v", again.Records[1])
		}
	}
	if got := emb.passages.Load(); got != built {
		t.Errorf("cache hit re-embedded: %d passages, want %d", got, built)
	}
}

func TestLoadOrBuild_rebuildsOnMtimeChange(t *testing.T) {
	s, emb := newTestStore(t, sampleCSV)
	ctx := context.Background()
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(s.paths.Dataset, later, later); err != nil {
		t.Fatal(err)
	}
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt {
		t.Error("mtime change should force rebuild")
	}
	if emb.passages.Load() != 6 {
		t.Errorf("expected re-embedding, passages=%d", emb.passages.Load())
	}
}

func TestLoadOrBuild_rebuildsOnContentChange(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	ctx := context.Background()
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	more := sampleCSV + "open drain overflowing,Storm Water Drains,Desilting request,Koramangala,6\n"
	if err := os.WriteFile(s.paths.Dataset, []byte(more), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt || len(res.Records) != 4 || res.Index.Size() != 4 {
		t.Errorf("rebuilt=%v records=%d size=%d", res.Rebuilt, len(res.Records), res.Index.Size())
	}
}

func TestLoadOrBuild_sizeMismatchIsCorrupt(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	ctx := context.Background()
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.paths.Metadata, []byte(`[{"id":"0","text":"x","department":"D"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	fp, _ := s.Fingerprint()
	if _, _, err := s.Load(fp); !errors.Is(err, ErrCorruptCache) {
		t.Errorf("Load: got %v, want ErrCorruptCache", err)
	}
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt || len(res.Records) != 3 {
		t.Errorf("corrupt cache should rebuild: rebuilt=%v records=%d", res.Rebuilt, len(res.Records))
	}
}

func TestLoadOrBuild_garbageIndexIsCorrupt(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	ctx := context.Background()
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.paths.Index, []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt {
		t.Error("unreadable index should rebuild")
	}
}

func TestLoadOrBuild_missingFingerprintRebuilds(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	ctx := context.Background()
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	_ = os.Remove(s.paths.Fingerprint)
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt {
		t.Error("missing fingerprint should rebuild")
	}
}

func TestLoadOrBuild_corruptVectorCountRebuilds(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	ctx := context.Background()
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.paths.Index)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[4:8], 0xFFFFFFF0)
	if err := os.WriteFile(s.paths.Index, data, 0644); err != nil {
		t.Fatal(err)
	}
	fp, _ := s.Fingerprint()
	if _, _, err := s.Load(fp); !errors.Is(err, ErrCorruptCache) {
		t.Errorf("Load: got %v, want ErrCorruptCache", err)
	}
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt || res.Index.Size() != 3 {
		t.Errorf("rebuilt=%v size=%d", res.Rebuilt, res.Index.Size())
	}
}

// spaceEmbedder reports a fixed identity for the wrapped embedder's vectors.
type spaceEmbedder struct {
	embedding.Embedder
	id string
}

func (e spaceEmbedder) Identity() string { return e.id }

func TestLoadOrBuild_embedderChangeRebuilds(t *testing.T) {
	s, emb := newTestStore(t, sampleCSV)
	ctx := context.Background()
	s.embedder = spaceEmbedder{Embedder: emb, id: "onnx/models/e5.onnx/256"}
	if _, err := s.LoadOrBuild(ctx); err != nil {
		t.Fatal(err)
	}
	stored, err := os.ReadFile(s.paths.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(stored)), "onnx/models/e5.onnx/256") {
		t.Errorf("fingerprint file does not record the embedder: %q", stored)
	}

	s.embedder = spaceEmbedder{Embedder: emb, id: "lexical/256"}
	fp, _ := s.Fingerprint()
	if _, _, err := s.Load(fp); !errors.Is(err, ErrCorruptCache) {
		t.Errorf("Load: got %v, want ErrCorruptCache", err)
	}
	res, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rebuilt {
		t.Error("vectors from another embedder must not be reused")
	}
	if emb.passages.Load() != 6 {
		t.Errorf("passages=%d, want 6", emb.passages.Load())
	}
	again, err := s.LoadOrBuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Rebuilt {
		t.Error("same embedder should hit the rebuilt cache")
	}
}

func TestLoadOrBuild_datasetMissing(t *testing.T) {
	s, _ := newTestStore(t, "")
	_, err := s.LoadOrBuild(context.Background())
	if !errors.Is(err, dataset.ErrDatasetMissing) {
		t.Errorf("got %v, want ErrDatasetMissing", err)
	}
}

func TestLoadOrBuild_emptyCorpus(t *testing.T) {
	s, _ := newTestStore(t, "text,department\n  ,Roads\n")
	_, err := s.LoadOrBuild(context.Background())
	if !errors.Is(err, dataset.ErrEmptyCorpus) {
		t.Errorf("got %v, want ErrEmptyCorpus", err)
	}
	if _, statErr := os.Stat(s.paths.Fingerprint); statErr == nil {
		t.Error("failed build must not commit a fingerprint")
	}
}

func TestBuild_embedFailureCommitsNothing(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	s.embedder = failingEmbedder{Embedder: s.embedder}
	if _, err := s.LoadOrBuild(context.Background()); err == nil {
		t.Fatal("expected embedding error")
	}
	for _, p := range []string{s.paths.Index, s.paths.Metadata, s.paths.Fingerprint} {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("artifact %s should not exist after failed build", filepath.Base(p))
		}
	}
}

func TestCommit_noTemporaryFilesLeft(t *testing.T) {
	s, _ := newTestStore(t, sampleCSV)
	if _, err := s.LoadOrBuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(s.paths.Index))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected exactly 3 artifacts, got %v", names)
	}
}

func TestSearch_clampsTopK(t *testing.T) {
	idx, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}})

	tests := []struct {
		topK int
		want int
	}{
		{0, 1},
		{-3, 1},
		{2, 2},
		{50, 3},
	}
	for _, tt := range tests {
		hits, err := Search(ctx, idx, []float32{1, 0}, tt.topK)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != tt.want {
			t.Errorf("Search(topK=%d) returned %d hits, want %d", tt.topK, len(hits), tt.want)
		}
		for i := 1; i < len(hits); i++ {
			if hits[i].Score > hits[i-1].Score {
				t.Errorf("hits not sorted: %v", hits)
			}
		}
	}
}

func TestSearch_emptyIndex(t *testing.T) {
	idx, _ := vector.NewMemoryIndex(2)
	hits, err := Search(context.Background(), idx, []float32{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("empty index: hits=%v err=%v", hits, err)
	}
	if hits, err := Search(context.Background(), nil, []float32{1, 0}, 5); err != nil || hits != nil {
		t.Errorf("nil index: hits=%v err=%v", hits, err)
	}
}
