package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
)

func modeFor(t *testing.T, results []domain.TargetAutonomyMode, target string) domain.AutonomyMode {
	t.Helper()
	for _, r := range results {
		if r.Target == target {
			return r.Mode
		}
	}
	require.Failf(t, "no result for target", "target=%s", target)
	return ""
}

func TestRecommendApprovalModeHighTrustGrantsAuto(t *testing.T) {
	results := RecommendApprovalMode(AutonomySignals{Score: 0.9, AutonomyRate7d: 0.9, PassRate30d: 1})
	assert.Equal(t, domain.AutonomyModeAuto, modeFor(t, results, "external_write"))
	assert.Equal(t, domain.AutonomyModeAuto, modeFor(t, results, "internal_write"))
	// high_stakes always floors at pre regardless of trust.
	assert.Equal(t, domain.AutonomyModePre, modeFor(t, results, "high_stakes"))
}

func TestRecommendApprovalModeQuarantineBlocksEverything(t *testing.T) {
	results := RecommendApprovalMode(AutonomySignals{Score: 0.95, Quarantined: true, AutonomyRate7d: 0.9, PassRate30d: 1})
	for _, r := range results {
		assert.Equal(t, domain.AutonomyModeBlocked, r.Mode, "expected blocked for %s under quarantine", r.Target)
	}
}

func TestRecommendApprovalModeDampeningIsMonotonicOnly(t *testing.T) {
	// High trust would earn auto, but a low autonomy rate may only push
	// toward more oversight (post), never grant something stricter than
	// the baseline would have allowed in the other direction.
	high := RecommendApprovalMode(AutonomySignals{Score: 0.95, AutonomyRate7d: 0.1, PassRate30d: 1})
	assert.NotEqual(t, domain.AutonomyModeAuto, modeFor(t, high, "internal_write"), "expected dampening to downgrade from auto")
}
