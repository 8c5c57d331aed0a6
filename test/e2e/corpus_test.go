package e2e

import (
	"path/filepath"
	"testing"

	"github.com/hyperjump/civicmatch/internal/dataset"
	"go.uber.org/zap"
)

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus(5)
	if len(c.Grievances) != 5*c.Departments {
		t.Errorf("grievances = %d, want %d", len(c.Grievances), 5*c.Departments)
	}
	if c.TotalQueries != c.Departments {
		t.Errorf("queries = %d, want one per department", c.TotalQueries)
	}
	seen := map[string]bool{}
	for _, g := range c.Grievances {
		if seen[g.Text] {
			t.Fatalf("duplicate grievance text %q", g.Text)
		}
		seen[g.Text] = true
	}
}

func TestFixtures_loadBack(t *testing.T) {
	c := BuildCorpus(3)
	dir := t.TempDir()
	loader := dataset.NewLoader(zap.NewNop())
	for _, name := range []string{"grievances.csv", "grievances.xlsx"} {
		path := filepath.Join(dir, name)
		var err error
		if filepath.Ext(name) == ".csv" {
			err = WriteCSV(path, c)
		} else {
			err = WriteXLSX(path, c)
		}
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		records, err := loader.Load(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(records) != len(c.Grievances) {
			t.Errorf("%s: %d records, want %d", name, len(records), len(c.Grievances))
		}
		if records[0].Department != c.Grievances[0].Department || records[0].ResolutionDays != c.Grievances[0].ResolutionDays {
			t.Errorf("%s: first record %+v", name, records[0])
		}
	}
}
