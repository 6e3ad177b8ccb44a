package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupActionKnownType(t *testing.T) {
	row := LookupAction("external.write")
	assert.Equal(t, ZoneHighStakes, row.ZoneRequired)
	assert.True(t, row.RequiresPreApproval)
	assert.True(t, row.PostReviewRequired)
}

func TestLookupActionUnknownTypeFallsBackToSandbox(t *testing.T) {
	row := LookupAction("some.brand.new.action")
	assert.Equal(t, "some.brand.new.action", row.ActionType)
	assert.Equal(t, ZoneSandbox, row.ZoneRequired)
	assert.False(t, row.RequiresPreApproval)
}
