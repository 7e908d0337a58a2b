package models

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
)

// Finding is one advisory result of a validation pass. Findings are data
// returned to the caller and are never persisted.
type Finding struct {
	ID         string   `json:"id"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
	NodeIDs    []string `json:"nodeIds,omitempty"`
}
