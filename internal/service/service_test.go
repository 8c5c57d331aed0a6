package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/civicmatch/internal/dataset"
	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/indexer"
	"github.com/hyperjump/civicmatch/internal/inference"
	"github.com/hyperjump/civicmatch/internal/profile"
)

const sampleCSV = `text,department,solution,location,resolution_days
no water supply in Rajajinagar,Water Board,Contact ward office,Rajajinagar,3
garbage not collected,Solid Waste Management,File complaint with BBMP,Jayanagar,2
street light broken near park,Electricity,Raise BESCOM ticket,Indiranagar,4
`

type countingEmbedder struct {
	embedding.Embedder
	passages atomic.Int64
}

func (c *countingEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	c.passages.Add(int64(len(texts)))
	return c.Embedder.EmbedPassages(ctx, texts)
}

func newTestService(t *testing.T, csv string) (*Service, *countingEmbedder, indexer.Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := indexer.Paths{
		Dataset:     filepath.Join(dir, "bbmp_reddit_data.csv"),
		Index:       filepath.Join(dir, "cache", "grievance.index"),
		Metadata:    filepath.Join(dir, "cache", "grievance_meta.json"),
		Fingerprint: filepath.Join(dir, "cache", "grievance_fingerprint.txt"),
	}
	if csv != "" {
		writeDataset(t, paths.Dataset, csv, time.Now())
	}
	lex, err := embedding.NewLexicalEmbedder(256)
	if err != nil {
		t.Fatal(err)
	}
	emb := &countingEmbedder{Embedder: lex}
	return newServiceWith(t, paths, emb), emb, paths
}

func newServiceWith(t *testing.T, paths indexer.Paths, emb embedding.Embedder) *Service {
	t.Helper()
	store := indexer.NewStore(paths, emb)
	engine := inference.NewEngine(emb, inference.Config{SupportedLanguages: []string{"en"}})
	svc := New(store, profile.NewBuilder(emb, profile.DefaultSampleSize), engine)
	t.Cleanup(func() { svc.Close() })
	return svc
}

// gatedEmbedder blocks the first passage embedding until release is closed.
type gatedEmbedder struct {
	embedding.Embedder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Embedder.EmbedPassages(ctx, texts)
}

func writeDataset(t *testing.T, path, csv string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestRunInference_emptyQueryBeforeInit(t *testing.T) {
	svc, emb, _ := newTestService(t, sampleCSV)
	_, err := svc.RunInference(context.Background(), "   ")
	if !errors.Is(err, inference.ErrEmptyQuery) {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
	if svc.Snapshot() != nil {
		t.Error("empty query must not initialize the corpus")
	}
	if n := emb.passages.Load(); n != 0 {
		t.Errorf("embedded %d passages", n)
	}
}

func TestRunInference_initializesLazily(t *testing.T) {
	svc, _, _ := newTestService(t, sampleCSV)
	res, err := svc.RunInference(context.Background(), "no water supply in Rajajinagar")
	if err != nil {
		t.Fatal(err)
	}
	if res.Department != "Water Board" {
		t.Errorf("department = %q, want Water Board", res.Department)
	}
	if svc.Snapshot() == nil {
		t.Error("snapshot should be published")
	}
}

func TestInit_concurrentCallersBuildOnce(t *testing.T) {
	svc, emb, _ := newTestService(t, sampleCSV)

	const callers = 16
	var wg sync.WaitGroup
	snaps := make([]*Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps[i], errs[i] = svc.Init(context.Background())
		}()
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if snaps[i] != snaps[0] {
			t.Fatalf("caller %d got a different snapshot", i)
		}
	}
	// three index passages plus one profile sample per department
	if n := emb.passages.Load(); n != 6 {
		t.Errorf("embedded %d passages, want 6", n)
	}
}

func TestInit_startupErrorNotPublished(t *testing.T) {
	svc, _, paths := newTestService(t, "")
	_, err := svc.Init(context.Background())
	if !errors.Is(err, dataset.ErrDatasetMissing) {
		t.Fatalf("err = %v, want ErrDatasetMissing", err)
	}
	if svc.Snapshot() != nil {
		t.Fatal("failed init published a snapshot")
	}

	writeDataset(t, paths.Dataset, sampleCSV, time.Now())
	snap, err := svc.Init(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(snap.Corpus.Records) != 3 {
		t.Errorf("records = %d", len(snap.Corpus.Records))
	}
}

func TestReload_swapsOnDatasetChange(t *testing.T) {
	svc, _, paths := newTestService(t, sampleCSV)
	ctx := context.Background()
	first, err := svc.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}

	same, swapped, err := svc.Reload(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swapped || same != first {
		t.Error("unchanged dataset should keep the snapshot")
	}

	updated := sampleCSV + "pothole on main road,Roads,Report to ward engineer,Malleshwaram,7\n"
	writeDataset(t, paths.Dataset, updated, time.Now().Add(time.Minute))
	next, swapped, err := svc.Reload(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !swapped || next == first {
		t.Fatal("changed dataset should swap the snapshot")
	}
	if len(next.Corpus.Records) != 4 {
		t.Errorf("records = %d, want 4", len(next.Corpus.Records))
	}
	if svc.Snapshot() != next {
		t.Error("active snapshot not replaced")
	}

	// the retired snapshot stays queryable
	if _, err := indexer.Search(ctx, first.Corpus.Index, make([]float32, first.Corpus.Index.Dimensions()), 1); err != nil {
		t.Errorf("retired index: %v", err)
	}
}

func TestReload_duringInitialBuildSeesNewDataset(t *testing.T) {
	_, _, paths := newTestService(t, "")
	writeDataset(t, paths.Dataset, sampleCSV, time.Now())
	lex, err := embedding.NewLexicalEmbedder(256)
	if err != nil {
		t.Fatal(err)
	}
	gate := &gatedEmbedder{Embedder: lex, entered: make(chan struct{}), release: make(chan struct{})}
	svc := newServiceWith(t, paths, gate)
	ctx := context.Background()

	initDone := make(chan error, 1)
	go func() {
		_, err := svc.Init(ctx)
		initDone <- err
	}()
	<-gate.entered

	updated := sampleCSV + "pothole on main road,Roads,Report to ward engineer,Malleshwaram,7\n"
	writeDataset(t, paths.Dataset, updated, time.Now().Add(time.Minute))

	type reloadResult struct {
		snap    *Snapshot
		swapped bool
		err     error
	}
	reloadDone := make(chan reloadResult, 1)
	go func() {
		snap, swapped, err := svc.Reload(ctx)
		reloadDone <- reloadResult{snap, swapped, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	if err := <-initDone; err != nil {
		t.Fatalf("init: %v", err)
	}
	res := <-reloadDone
	if res.err != nil {
		t.Fatalf("reload: %v", res.err)
	}
	fp, err := indexer.NewStore(paths, lex).Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if !res.swapped || len(res.snap.Corpus.Records) != 4 || res.snap.Fingerprint != fp {
		t.Errorf("reload returned swapped=%v records=%d current=%v",
			res.swapped, len(res.snap.Corpus.Records), res.snap.Fingerprint == fp)
	}
	if active := svc.Snapshot(); active == nil || len(active.Corpus.Records) != 4 {
		t.Error("active snapshot is stale after reload")
	}
}

func TestReload_failureKeepsSnapshot(t *testing.T) {
	svc, _, paths := newTestService(t, sampleCSV)
	ctx := context.Background()
	first, err := svc.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(paths.Dataset); err != nil {
		t.Fatal(err)
	}
	cur, swapped, err := svc.Reload(ctx)
	if err == nil {
		t.Fatal("expected error for missing dataset")
	}
	if swapped || cur != first || svc.Snapshot() != first {
		t.Error("failed reload must keep the active snapshot")
	}
}

func TestStatus(t *testing.T) {
	svc, _, _ := newTestService(t, sampleCSV)
	st := svc.Status()
	if st.Ready || st.Records != 0 || len(st.Departments) != 0 {
		t.Errorf("status before init = %+v", st)
	}

	if _, err := svc.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = svc.Status()
	if !st.Ready || st.Records != 3 || st.IndexSize != 3 {
		t.Errorf("status = %+v", st)
	}
	if len(st.Departments) != 3 || st.Departments[0] != "Electricity" {
		t.Errorf("departments = %v", st.Departments)
	}
	if st.Fingerprint == "" || st.DiskUsageBytes == 0 || st.IndexType != "memory" {
		t.Errorf("status = %+v", st)
	}
}
