// Package dataset loads the historical grievance corpus from a tabular file.
//
// Supported sources are CSV files and Excel workbooks (".xlsx", first sheet).
// Column names are matched case-insensitively; missing columns read as empty strings.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/civicmatch/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrDatasetMissing is returned when the dataset file does not exist.
	ErrDatasetMissing = errors.New("dataset missing")
	// ErrEmptyCorpus is returned when no row has non-empty text.
	ErrEmptyCorpus = errors.New("no non-empty grievance text rows found in dataset")
)

// Column names recognized in the dataset header.
const (
	ColumnText           = "text"
	ColumnDepartment     = "department"
	ColumnSolution       = "solution"
	ColumnLocation       = "location"
	ColumnResolutionDays = "resolution_days"
)

var requiredColumns = []string{ColumnText, ColumnDepartment, ColumnSolution, ColumnLocation, ColumnResolutionDays}

// Loader reads grievance records from a dataset file.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a Loader. A nil logger is replaced with a no-op logger.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// Load reads path and returns the ordered, non-empty record list.
// Record IDs are the zero-based data row index, so dropped rows leave gaps.
func (l *Loader) Load(path string) ([]*models.GrievanceRecord, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrDatasetMissing, path)
		}
		return nil, fmt.Errorf("stat dataset: %w", err)
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}

	records := FromRows(rows)
	if len(records) == 0 {
		return nil, ErrEmptyCorpus
	}
	l.logger.Info("loaded dataset",
		zap.String("path", path),
		zap.Int("rows", max(len(rows)-1, 0)),
		zap.Int("records", len(records)))
	return records, nil
}

// FromRows converts a header row followed by data rows into records.
// Rows whose text is empty after trimming are dropped.
func FromRows(rows [][]string) []*models.GrievanceRecord {
	if len(rows) == 0 {
		return nil
	}
	columns := columnIndex(rows[0])
	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]*models.GrievanceRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		text := Preprocess(field(row, ColumnText))
		if text == "" {
			continue
		}
		days, _ := ParseResolutionDays(field(row, ColumnResolutionDays))
		records = append(records, &models.GrievanceRecord{
			ID:             strconv.Itoa(i),
			Text:           text,
			Department:     orDefault(field(row, ColumnDepartment), models.DefaultDepartment),
			Solution:       field(row, ColumnSolution),
			Location:       orDefault(field(row, ColumnLocation), models.DefaultLocation),
			ResolutionDays: days,
		})
	}
	return records
}

// columnIndex maps each required column to its header position; absent columns are omitted.
// The first occurrence wins when a header repeats.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(requiredColumns))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := idx[name]; !seen {
			idx[name] = i
		}
	}
	return idx
}

// ParseResolutionDays parses a resolution window in days. Decimal input is truncated toward zero.
// It returns the default of 5 and false when raw is empty, not numeric, or not positive.
func ParseResolutionDays(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.DefaultResolutionDays, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < 1 || f >= 1<<31 {
		return models.DefaultResolutionDays, false
	}
	return int(f), true
}

// Preprocess normalizes record text (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
