package domain

import "time"

// ApprovalScope enumerates how broadly a decision applies once made.
type ApprovalScope string

const (
	ApprovalScopeOnce      ApprovalScope = "once"
	ApprovalScopeRun       ApprovalScope = "run"
	ApprovalScopeRoom      ApprovalScope = "room"
	ApprovalScopeWorkspace ApprovalScope = "workspace"
	ApprovalScopeTemplate  ApprovalScope = "template"
)

// ApprovalStatus enumerates the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusHeld     ApprovalStatus = "held"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
)

// Terminal reports whether the status admits no further decisions.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusDenied
}

// Approval is a pending decision request gating a queued action.
type Approval struct {
	ID            string         `json:"id"`
	WorkspaceID   string         `json:"workspace_id"`
	ActionCode    string         `json:"action_code"`
	Scope         ApprovalScope  `json:"scope"`
	RequestedByID string         `json:"requested_by_id"`
	Status        ApprovalStatus `json:"status"`
	DecidedByID   string         `json:"decided_by_id,omitempty"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	ScopeSnapshot map[string]any `json:"scope_snapshot,omitempty"`
	// RunID, RoomID, and ExperimentID bind an approval to the entity it
	// gates, letting the pipeline projector answer "is there a pending
	// approval for this run/experiment" with an indexed lookup instead of
	// a scan of scope_snapshot. They are optional: a workspace-scope
	// approval binds to none of them.
	RunID        string    `json:"run_id,omitempty"`
	RoomID       string    `json:"room_id,omitempty"`
	ExperimentID string    `json:"experiment_id,omitempty"`
	LastEventID  string    `json:"last_event_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
