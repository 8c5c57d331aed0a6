package inference

import (
	"fmt"
	"strings"

	"github.com/hyperjump/civicmatch/internal/models"
)

// Reply texts in the base language.
const (
	LowConfidenceReply = "We need a little more detail to route your grievance. " +
		"Please describe the problem and its exact location."
	EvidenceStep = "Keep your documents and complaint evidence ready."
)

// Candidate is a retrieved record with its raw similarity.
type Candidate struct {
	Record *models.GrievanceRecord
	Score  float64
}

// SelectBest returns the index of the first candidate, in ranked order, whose department equals predicted.
// Without a prediction or a matching candidate it returns 0, the top search hit.
func SelectBest(candidates []Candidate, predicted string, hasPrediction bool) int {
	if !hasPrediction {
		return 0
	}
	for i, c := range candidates {
		if c.Record.Department == predicted {
			return i
		}
	}
	return 0
}

// SolutionSteps returns the three recommended steps for rec: its action, evidence guidance, and escalation.
func SolutionSteps(rec *models.GrievanceRecord) []string {
	return []string{
		primaryAction(rec),
		EvidenceStep,
		fmt.Sprintf("If unresolved in %d days, reply with %s for auto-escalation.", rec.ResolutionDays, models.EscalationKeyword),
	}
}

// Answer formats steps as a numbered block.
func Answer(steps []string) string {
	var b strings.Builder
	b.WriteString("Recommended resolution steps:")
	for i, s := range steps {
		fmt.Fprintf(&b, "\n%d) %s", i+1, s)
	}
	return b.String()
}

// primaryAction is the record's canonical solution, or an instruction to attach the complaint to its department.
func primaryAction(rec *models.GrievanceRecord) string {
	if s := strings.TrimSpace(rec.Solution); s != "" {
		return s
	}
	return fmt.Sprintf("Your complaint has been registered with %s. "+
		"Contact the department office with complaint evidence and request an inspection timeline.", rec.Department)
}
