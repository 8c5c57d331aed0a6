// Package profile builds per-department centroid vectors used to predict the responsible department.
package profile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/vector"
)

// DefaultSampleSize is the number of texts per department averaged into a centroid.
const DefaultSampleSize = 80

// Profiles maps department name to its centroid. Departments without samples are absent.
type Profiles map[string][]float32

// Builder computes department profiles with an embedder.
type Builder struct {
	embedder   embedding.Embedder
	sampleSize int
}

// NewBuilder creates a Builder. sampleSize <= 0 uses DefaultSampleSize.
func NewBuilder(embedder embedding.Embedder, sampleSize int) *Builder {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Builder{embedder: embedder, sampleSize: sampleSize}
}

// Build groups record texts by department, embeds the first sampleSize texts of each in passage mode,
// and stores the unit-normalized mean. A zero mean is kept as the zero vector.
func (b *Builder) Build(ctx context.Context, records []*models.GrievanceRecord) (Profiles, error) {
	samples := make(map[string][]string)
	for _, r := range records {
		if r.Text == "" {
			continue
		}
		if len(samples[r.Department]) < b.sampleSize {
			samples[r.Department] = append(samples[r.Department], r.Text)
		}
	}

	departments := make([]string, 0, len(samples))
	for d := range samples {
		departments = append(departments, d)
	}
	sort.Strings(departments)

	profiles := make(Profiles, len(departments))
	for _, dept := range departments {
		vecs, err := b.embedder.EmbedPassages(ctx, samples[dept])
		if err != nil {
			return nil, fmt.Errorf("embed %s samples: %w", dept, err)
		}
		if len(vecs) == 0 {
			continue
		}
		profiles[dept] = Centroid(vecs)
	}
	return profiles, nil
}

// Centroid returns the unit-normalized arithmetic mean of vecs.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	sum := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range sum {
			sum[i] += float64(v[i])
		}
	}
	var norm float64
	for i := range sum {
		sum[i] /= float64(len(vecs))
		norm += sum[i] * sum[i]
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(sum))
	for i, s := range sum {
		if norm > 0 {
			s /= norm
		}
		out[i] = float32(s)
	}
	return out
}

// Predict returns the department whose centroid has the highest inner product with query.
// Ties go to the lexicographically smallest name. ok is false when there are no profiles.
func (p Profiles) Predict(query []float32) (department string, score float64, ok bool) {
	for _, dept := range p.Departments() {
		s := vector.InnerProduct(query, p[dept])
		if !ok || s > score {
			department, score, ok = dept, s, true
		}
	}
	return department, score, ok
}

// Departments returns the profiled department names in sorted order.
func (p Profiles) Departments() []string {
	names := make([]string, 0, len(p))
	for d := range p {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}
