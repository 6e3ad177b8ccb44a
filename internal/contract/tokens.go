package contract

import (
	"time"

	"github.com/agentctl/core/internal/domain"
)

// MergeCapabilityTokens folds a principal's active capability tokens into
// a single union scope for policy.Request.Token: a principal typically
// accumulates several tokens over successive autonomy approvals, and
// authorize() evaluates scope coverage against their union, not any one
// token in isolation. Callers filter to active tokens (ActiveForPrincipal
// already excludes revoked rows) before calling this; MergeCapabilityTokens
// additionally drops tokens whose valid_until has passed as of now.
func MergeCapabilityTokens(tokens []domain.CapabilityToken, now time.Time) *domain.CapabilityToken {
	union := domain.CapabilityToken{}
	seenRooms := make(map[string]bool)
	seenTools := make(map[string]bool)
	seenActions := make(map[string]bool)
	seenDomains := make(map[string]bool)
	found := false

	for _, t := range tokens {
		if !t.Valid(now) {
			continue
		}
		found = true
		if union.ID == "" {
			union.ID = t.ID
			union.WorkspaceID = t.WorkspaceID
			union.PrincipalID = t.PrincipalID
			union.CreatedAt = t.CreatedAt
		}
		if t.Scope.DataAccess.Read {
			union.Scope.DataAccess.Read = true
		}
		if t.Scope.DataAccess.Write {
			union.Scope.DataAccess.Write = true
		}
		for _, r := range t.Scope.Rooms {
			if !seenRooms[r] {
				seenRooms[r] = true
				union.Scope.Rooms = append(union.Scope.Rooms, r)
			}
		}
		for _, tool := range t.Scope.Tools {
			if !seenTools[tool] {
				seenTools[tool] = true
				union.Scope.Tools = append(union.Scope.Tools, tool)
			}
		}
		for _, a := range t.Scope.ActionTypes {
			if !seenActions[a] {
				seenActions[a] = true
				union.Scope.ActionTypes = append(union.Scope.ActionTypes, a)
			}
		}
		for _, d := range t.Scope.EgressDomains {
			if !seenDomains[d] {
				seenDomains[d] = true
				union.Scope.EgressDomains = append(union.Scope.EgressDomains, d)
			}
		}
	}

	if !found {
		return nil
	}
	return &union
}
