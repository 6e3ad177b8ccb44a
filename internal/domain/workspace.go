package domain

import "time"

// Workspace is the tenant boundary. Every query and mutation is scoped to
// one.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PrincipalType enumerates the kinds of identity that can hold capability
// tokens.
type PrincipalType string

const (
	PrincipalTypeUser    PrincipalType = "user"
	PrincipalTypeService PrincipalType = "service"
	PrincipalTypeAgent   PrincipalType = "agent"
)

// Principal is the unique identity behind any actor capable of holding
// capability tokens.
type Principal struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	Type        PrincipalType `json:"type"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Revoked reports whether the principal has been revoked.
func (p Principal) Revoked() bool {
	return p.RevokedAt != nil
}

// Agent is a principal with a display name and moderation state.
type Agent struct {
	ID               string     `json:"id"`
	WorkspaceID      string     `json:"workspace_id"`
	PrincipalID      string     `json:"principal_id"`
	DisplayName      string     `json:"display_name"`
	CreatedAt        time.Time  `json:"created_at"`
	QuarantinedAt    *time.Time `json:"quarantined_at,omitempty"`
	QuarantineReason string     `json:"quarantine_reason,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// Quarantined reports whether the agent is currently quarantined.
func (a Agent) Quarantined() bool {
	return a.QuarantinedAt != nil
}

// Engine is a service registered per workspace with its own principal.
type Engine struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	PrincipalID string     `json:"principal_id"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the engine has not been deactivated.
func (e Engine) Active() bool {
	return e.DeactivatedAt == nil
}
