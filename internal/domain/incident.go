package domain

import "time"

// IncidentStatus enumerates the lifecycle of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen   IncidentStatus = "open"
	IncidentStatusClosed IncidentStatus = "closed"
)

// LearningEntry is a single logged lesson attached to an incident.
type LearningEntry struct {
	Note      string    `json:"note"`
	LoggedAt  time.Time `json:"logged_at"`
	LoggedBy  string    `json:"logged_by,omitempty"`
}

// Incident is a workspace-scoped record of an adverse event.
type Incident struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id"`
	RunID           string          `json:"run_id,omitempty"`
	RoomID          string          `json:"room_id,omitempty"`
	ThreadID        string          `json:"thread_id,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Severity        string          `json:"severity"`
	Status          IncidentStatus  `json:"status"`
	RCA             map[string]any  `json:"rca,omitempty"`
	RCAUpdatedAt    *time.Time      `json:"rca_updated_at,omitempty"`
	Learnings       []LearningEntry `json:"learnings,omitempty"`
	LearningCount   int             `json:"learning_count"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
}

// ReadyToClose reports whether the incident satisfies the close gate: an
// RCA has been recorded and at least one learning has been logged.
func (i Incident) ReadyToClose() bool {
	return i.RCAUpdatedAt != nil && i.LearningCount >= 1
}
