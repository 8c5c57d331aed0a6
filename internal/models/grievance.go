// Package models defines core data structures for grievances, inference results, and the audit trail.
package models

// DefaultDepartment is assigned to records whose department cell is empty.
const DefaultDepartment = "General Administration"

// DefaultLocation is assigned to records whose location cell is empty.
const DefaultLocation = "Unknown"

// DefaultResolutionDays is used when resolution_days is missing, unparsable, or not positive.
const DefaultResolutionDays = 5

// GrievanceRecord is one historical grievance from the dataset. Records are created once per
// dataset row during an index build and are never mutated afterwards.
type GrievanceRecord struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	Department     string `json:"department"`
	Solution       string `json:"solution"`
	Location       string `json:"location"`
	ResolutionDays int    `json:"resolution_days"`
}
