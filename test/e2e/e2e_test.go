package e2e

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/indexer"
	"github.com/hyperjump/civicmatch/internal/inference"
	"github.com/hyperjump/civicmatch/internal/profile"
	"github.com/hyperjump/civicmatch/internal/service"
)

const (
	e2ePerTopic   = 12
	e2eDimensions = 1024
)

func newService(t *testing.T, datasetPath, cacheDir string) *service.Service {
	t.Helper()
	emb, err := embedding.NewLexicalEmbedder(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	store := indexer.NewStore(indexer.Paths{
		Dataset:     datasetPath,
		Index:       filepath.Join(cacheDir, "grievance.index"),
		Metadata:    filepath.Join(cacheDir, "grievance_meta.json"),
		Fingerprint: filepath.Join(cacheDir, "grievance_fingerprint.txt"),
	}, emb)
	engine := inference.NewEngine(emb, inference.Config{TopK: 8, SupportedLanguages: []string{"en"}})
	svc := service.New(store, profile.NewBuilder(emb, profile.DefaultSampleSize), engine)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestE2E_RoutesQueriesToDepartments(t *testing.T) {
	corpus := BuildCorpus(e2ePerTopic)
	for _, format := range []string{"csv", "xlsx"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "grievances."+format)
			var err error
			if format == "csv" {
				err = WriteCSV(path, corpus)
			} else {
				err = WriteXLSX(path, corpus)
			}
			if err != nil {
				t.Fatal(err)
			}

			svc := newService(t, path, filepath.Join(dir, "cache"))
			ctx := context.Background()
			snap, err := svc.Init(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(snap.Corpus.Records) != len(corpus.Grievances) || len(snap.Corpus.Profiles) != corpus.Departments {
				t.Fatalf("records=%d profiles=%d", len(snap.Corpus.Records), len(snap.Corpus.Profiles))
			}

			for _, tc := range corpus.TestCases {
				res, err := svc.RunInference(ctx, tc.Query)
				if err != nil {
					t.Fatalf("%s: %v", tc.Description, err)
				}
				if res.Department != tc.ExpectedDepartment {
					t.Errorf("%s: query %q routed to %q", tc.Description, tc.Query, res.Department)
				}
				if res.PredictedDepartment != tc.ExpectedDepartment {
					t.Errorf("%s: predicted %q", tc.Description, res.PredictedDepartment)
				}
				if res.LowConfidence {
					t.Errorf("%s: unexpected low confidence %.3f", tc.Description, res.Confidence)
				}
				if len(res.SimilarCases) == 0 || len(res.SimilarCases) > 8 {
					t.Errorf("%s: %d similar cases", tc.Description, len(res.SimilarCases))
				}
				for i := 1; i < len(res.SimilarCases); i++ {
					if res.SimilarCases[i].Similarity > res.SimilarCases[i-1].Similarity {
						t.Errorf("%s: similar cases not sorted", tc.Description)
						break
					}
				}
			}
		})
	}
}

func TestE2E_SecondProcessReusesArtifacts(t *testing.T) {
	corpus := BuildCorpus(4)
	dir := t.TempDir()
	path := filepath.Join(dir, "grievances.csv")
	if err := WriteCSV(path, corpus); err != nil {
		t.Fatal(err)
	}
	cache := filepath.Join(dir, "cache")
	ctx := context.Background()

	first, err := newService(t, path, cache).Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Rebuilt {
		t.Error("first start should build")
	}

	second, err := newService(t, path, cache).Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Rebuilt {
		t.Error("second start should load persisted artifacts")
	}
	if second.Fingerprint != first.Fingerprint || len(second.Corpus.Records) != len(first.Corpus.Records) {
		t.Errorf("snapshots differ: %s/%d vs %s/%d",
			first.Fingerprint, len(first.Corpus.Records), second.Fingerprint, len(second.Corpus.Records))
	}
}
