package profile

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/vector"
)

// tableEmbedder returns fixed vectors per text and records batch sizes.
type tableEmbedder struct {
	vecs    map[string][]float32
	batches []int
	err     error
}

func (e *tableEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vecs[t]
	}
	return out, nil
}

func (e *tableEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vecs[text], nil
}

func (e *tableEmbedder) Dimensions() int { return 2 }
func (e *tableEmbedder) Close() error    { return nil }

func rec(text, dept string) *models.GrievanceRecord {
	return &models.GrievanceRecord{Text: text, Department: dept}
}

func TestBuilder_Build(t *testing.T) {
	emb := &tableEmbedder{vecs: map[string][]float32{
		"w1": {1, 0}, "w2": {0.6, 0.8},
		"g1": {0, 1},
		"z1": {1, 0}, "z2": {-1, 0},
	}}
	records := []*models.GrievanceRecord{
		rec("w1", "Water Board"), rec("g1", "Solid Waste Management"), rec("w2", "Water Board"),
		rec("z1", "Zero"), rec("z2", "Zero"),
	}
	profiles, err := NewBuilder(emb, 80).Build(context.Background(), records)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(profiles))
	}
	for _, dept := range []string{"Water Board", "Solid Waste Management"} {
		if n := vector.L2Norm(profiles[dept]); math.Abs(n-1) > 1e-6 {
			t.Errorf("%s centroid norm = %f, want 1", dept, n)
		}
	}
	w := profiles["Water Board"]
	if math.Abs(float64(w[0])-0.8/math.Sqrt(0.8)) > 1e-6 || math.Abs(float64(w[1])-0.4/math.Sqrt(0.8)) > 1e-6 {
		t.Errorf("water centroid = %v, want mean (0.8, 0.4) normalized", w)
	}
	if z := profiles["Zero"]; z[0] != 0 || z[1] != 0 {
		t.Errorf("cancelling samples should keep the zero vector, got %v", z)
	}
}

func TestBuilder_sampleSizeBounds(t *testing.T) {
	emb := &tableEmbedder{vecs: map[string][]float32{"a": {1, 0}, "b": {0, 1}, "c": {0, 1}}}
	records := []*models.GrievanceRecord{rec("a", "D"), rec("b", "D"), rec("c", "D")}
	profiles, err := NewBuilder(emb, 1).Build(context.Background(), records)
	if err != nil {
		t.Fatal(err)
	}
	if len(emb.batches) != 1 || emb.batches[0] != 1 {
		t.Errorf("expected a single batch of 1, got %v", emb.batches)
	}
	if p := profiles["D"]; p[0] != 1 || p[1] != 0 {
		t.Errorf("only the first sample should count, got %v", p)
	}
}

func TestBuilder_emptyTextOmitted(t *testing.T) {
	emb := &tableEmbedder{vecs: map[string][]float32{"a": {1, 0}}}
	records := []*models.GrievanceRecord{rec("a", "D"), rec("", "Empty")}
	profiles, err := NewBuilder(emb, 0).Build(context.Background(), records)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := profiles["Empty"]; ok {
		t.Error("department with zero sampled texts should be absent")
	}
}

func TestBuilder_embedError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewBuilder(&tableEmbedder{err: boom}, 5).Build(context.Background(), []*models.GrievanceRecord{rec("a", "D")})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped boom", err)
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([][]float32{{1, 0}, {0, 1}})
	want := float32(1 / math.Sqrt(2))
	if math.Abs(float64(c[0]-want)) > 1e-6 || math.Abs(float64(c[1]-want)) > 1e-6 {
		t.Errorf("Centroid = %v", c)
	}
	if Centroid(nil) != nil {
		t.Error("no vectors should give nil")
	}
}

func TestProfiles_Predict(t *testing.T) {
	p := Profiles{
		"Water Board":            {1, 0},
		"Solid Waste Management": {0, 1},
	}
	dept, score, ok := p.Predict([]float32{0.2, 0.9})
	if !ok || dept != "Solid Waste Management" || math.Abs(score-0.9) > 1e-6 {
		t.Errorf("Predict = (%s, %f, %v)", dept, score, ok)
	}
}

func TestProfiles_PredictTieBreaksLexicographically(t *testing.T) {
	p := Profiles{
		"Roads":       {1, 0},
		"Electricity": {1, 0},
		"Parks":       {1, 0},
	}
	for i := 0; i < 20; i++ {
		dept, _, ok := p.Predict([]float32{1, 0})
		if !ok || dept != "Electricity" {
			t.Fatalf("Predict tie = %s, want Electricity", dept)
		}
	}
}

func TestProfiles_PredictEmpty(t *testing.T) {
	if _, _, ok := (Profiles{}).Predict([]float32{1, 0}); ok {
		t.Error("no profiles should predict nothing")
	}
}
