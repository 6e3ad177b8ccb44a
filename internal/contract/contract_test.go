package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serviceerrors "github.com/agentctl/core/internal/errors"
)

func TestAssertSupportedSchemaVersion(t *testing.T) {
	assert.NoError(t, AssertSupportedSchemaVersion(0), "zero should default to supported")
	assert.NoError(t, AssertSupportedSchemaVersion(1))

	err := AssertSupportedSchemaVersion(2)
	se := serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonUnsupportedVersion, se.Reason)
}

func TestRequireWorkspaceHeader(t *testing.T) {
	_, err := RequireWorkspaceHeader("", "")
	assert.Error(t, err, "missing header should be rejected")

	_, err = RequireWorkspaceHeader("ws_1", "ws_2")
	assert.Error(t, err, "mismatched body workspace_id should be rejected")

	ws, err := RequireWorkspaceHeader("ws_1", "")
	require.NoError(t, err)
	assert.Equal(t, "ws_1", ws)

	ws, err = RequireWorkspaceHeader("ws_1", "ws_1")
	require.NoError(t, err)
	assert.Equal(t, "ws_1", ws)
}

func TestIdempotencyKeyBuilderIsStableAndDistinctPerKind(t *testing.T) {
	b := NewIdempotencyKeyBuilder()

	k1 := b.LeaseClaim("ws_1", "run", "item_1", "agent_1")
	k2 := b.LeaseClaim("ws_1", "run", "item_1", "agent_1")
	assert.Equal(t, k1, k2, "identical inputs should synthesize identical keys")

	k3 := b.RunClaim("item_1", "agent_1", 1)
	assert.NotEqual(t, k1, k3, "different command kinds should never collide")
}
