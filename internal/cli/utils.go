// Package cli renders inference results and status for the civicmatch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/pkg/utils"
)

// OutputFormat is the format for result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is a single line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact, or json)", s)
	}
}

// WriteInferenceResult writes result to w in the given format.
func WriteInferenceResult(w io.Writer, result *models.InferenceResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, result)
	case OutputCompact:
		_, err := fmt.Fprintf(w, "%s\t%.3f\t%s\t%s\n",
			result.Department, result.Confidence, result.ExpectedResolution, TruncateWords(result.Reply, 24))
		return err
	default:
		writeInferenceText(w, result)
		return nil
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeInferenceText(w io.Writer, result *models.InferenceResult) {
	fmt.Fprintf(w, "\n%s\n\n", result.Reply)
	fmt.Fprintf(w, "Department: %s (confidence %.3f", result.Department, result.Confidence)
	if result.LowConfidence {
		fmt.Fprint(w, ", low")
	}
	fmt.Fprintln(w, ")")
	if result.PredictedDepartment != "" && result.PredictedDepartment != result.Department {
		fmt.Fprintf(w, "Predicted department: %s\n", result.PredictedDepartment)
	}
	if result.Language != "" {
		fmt.Fprintf(w, "Language: %s\n", result.Language)
	}
	fmt.Fprintf(w, "Expected resolution: %s\n\n", result.ExpectedResolution)
	if result.Answer != "" {
		fmt.Fprintf(w, "%s\n\n", result.Answer)
	}
	if len(result.SimilarCases) > 0 {
		fmt.Fprintln(w, "--- Similar cases ---")
		for _, c := range result.SimilarCases {
			fmt.Fprintf(w, "#%s [%s] %.4f  %s\n", c.GrievanceID, c.Department, c.Similarity, utils.Truncate(c.Solution, 120))
		}
		fmt.Fprintln(w)
	}
	if result.Escalation.Note != "" {
		fmt.Fprintf(w, "%s\n", result.Escalation.Note)
	}
	fmt.Fprintf(w, "(%dms)\n", result.QueryTime)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
