package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
)

func TestMergeCapabilityTokensUnionsScopeAndDropsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := domain.CapabilityToken{
		ID: "tok_1", PrincipalID: "agent_1",
		Scope: domain.TokenScope{
			Rooms: []string{"room_1"}, Tools: []string{"search"},
			ActionTypes: []string{"data.read"},
		},
		ValidUntil: &future,
	}
	alsoActive := domain.CapabilityToken{
		ID: "tok_2", PrincipalID: "agent_1",
		Scope: domain.TokenScope{
			Rooms: []string{"room_1", "room_2"}, Tools: []string{"browser"},
			EgressDomains: []string{"example.com"},
			DataAccess:    domain.DataAccessScope{Read: true},
		},
	}
	expired := domain.CapabilityToken{
		ID: "tok_3", PrincipalID: "agent_1",
		Scope:      domain.TokenScope{Rooms: []string{"room_3"}},
		ValidUntil: &past,
	}

	union := MergeCapabilityTokens([]domain.CapabilityToken{active, alsoActive, expired}, now)
	require.NotNil(t, union)
	assert.Len(t, union.Scope.Rooms, 2, "room_1 and room_2 should dedupe into the union")
	assert.Contains(t, union.Scope.Tools, "search")
	assert.Contains(t, union.Scope.Tools, "browser")
	assert.Contains(t, union.Scope.ActionTypes, "data.read")
	assert.Contains(t, union.Scope.EgressDomains, "example.com")
	assert.True(t, union.Scope.DataAccess.Read)
	assert.NotContains(t, union.Scope.Rooms, "room_3", "the expired token's room should be excluded")
}

func TestMergeCapabilityTokensAllExpiredReturnsNil(t *testing.T) {
	now := time.Unix(1000, 0)
	past := now.Add(-time.Hour)
	union := MergeCapabilityTokens([]domain.CapabilityToken{{ID: "tok_1", ValidUntil: &past}}, now)
	assert.Nil(t, union, "every token has expired")
}

func TestMergeCapabilityTokensEmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, MergeCapabilityTokens(nil, time.Unix(0, 0)))
}
