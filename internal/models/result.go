package models

// EscalationKeyword is the chat reply that triggers auto-escalation.
const EscalationKeyword = "NOT SOLVED"

// SimilarCase is one retrieved historical grievance, localized to the query language.
type SimilarCase struct {
	GrievanceID string  `json:"grievance_id"`
	Department  string  `json:"department"`
	Solution    string  `json:"solution"`
	Similarity  float64 `json:"similarity"`
}

// EscalationInfo tells the caller when and how an unresolved grievance escalates.
type EscalationInfo struct {
	AfterDays              int    `json:"after_days"`
	Keyword                string `json:"keyword"`
	Note                   string `json:"note,omitempty"`
	IsLiveAuthorityContact bool   `json:"is_live_authority_contact"`
}

// InferenceResult is the answer for one grievance query. Department and grievance IDs are never
// translated; reply, answer, steps, and case solutions are rendered in Language.
type InferenceResult struct {
	Reply               string         `json:"reply"`
	Answer              string         `json:"answer"`
	SolutionSteps       []string       `json:"solution_steps"`
	Confidence          float64        `json:"confidence"`
	Department          string         `json:"department"`
	PredictedDepartment string         `json:"predicted_department,omitempty"`
	ExpectedResolution  string         `json:"expected_resolution_time"`
	SimilarCases        []*SimilarCase `json:"similar_cases"`
	Escalation          EscalationInfo `json:"escalation"`
	Language            string         `json:"language"`
	LowConfidence       bool           `json:"low_confidence"`
	QueryTime           int64          `json:"query_time_ms"`
}
