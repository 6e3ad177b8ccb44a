package skills

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

func validManifest() *domain.SkillManifest {
	sandbox := true
	return &domain.SkillManifest{
		RequiredTools:   []string{"web_search"},
		EgressDomains:   []string{"example.com"},
		SandboxRequired: &sandbox,
		DataAccess:      &domain.DataAccessScope{Read: true},
	}
}

func TestDecideSignedVerifiesSpecScenarioS1(t *testing.T) {
	status, reason := Decide(SubmittedPackage{
		Hash:      HashBytes([]byte("pkg-x")),
		Manifest:  validManifest(),
		Signature: "sig",
	})
	assert.Equal(t, domain.SkillStatusVerified, status)
	assert.Empty(t, reason)
}

func TestDecideUnsignedIsPending(t *testing.T) {
	status, _ := Decide(SubmittedPackage{Hash: HashBytes([]byte("pkg-y")), Manifest: validManifest()})
	assert.Equal(t, domain.SkillStatusPending, status)
}

func TestDecideBadHashQuarantines(t *testing.T) {
	status, reason := Decide(SubmittedPackage{Hash: "not-a-hash", Manifest: validManifest()})
	assert.Equal(t, domain.SkillStatusQuarantined, status)
	assert.Equal(t, ReasonInvalidHash, reason)
}

func TestDecideMissingManifestFieldQuarantines(t *testing.T) {
	status, reason := Decide(SubmittedPackage{Hash: HashBytes([]byte("pkg-z")), Manifest: &domain.SkillManifest{}})
	assert.Equal(t, domain.SkillStatusQuarantined, status)
	assert.Equal(t, ReasonInvalidManifest, reason)
}

func TestReviewDecideUnsignedPendingQuarantinesWithSignatureReason(t *testing.T) {
	// spec §8 S1: reviewing the pending package Y quarantines it with
	// verify_signature_required.
	pkg := domain.SkillPackage{Hash: HashBytes([]byte("pkg-y")), Manifest: validManifest(), Status: domain.SkillStatusPending}
	status, reason := ReviewDecide(pkg)
	assert.Equal(t, domain.SkillStatusQuarantined, status)
	assert.Equal(t, ReasonVerifySignatureNeeded, reason)
}

func TestMergeStatusTakesHigherRank(t *testing.T) {
	assert.Equal(t, domain.SkillStatusVerified, domain.MergeStatus(domain.SkillStatusVerified, domain.SkillStatusPending),
		"verified should survive a lower-ranked merge")
	assert.Equal(t, domain.SkillStatusQuarantined, domain.MergeStatus(domain.SkillStatusPending, domain.SkillStatusQuarantined),
		"quarantined should win over pending")
}

// in-memory fakes for Engine-level tests.

type memPackages struct {
	rows map[string]domain.SkillPackage
}

func newMemPackages() *memPackages { return &memPackages{rows: make(map[string]domain.SkillPackage)} }

func (m *memPackages) Get(ctx context.Context, workspaceID, packageID string) (domain.SkillPackage, error) {
	return m.rows[packageID], nil
}
func (m *memPackages) Upsert(ctx context.Context, pkg domain.SkillPackage) error {
	m.rows[pkg.ID] = pkg
	return nil
}
func (m *memPackages) ListByAgentSkill(ctx context.Context, workspaceID, agentID, skillName string) ([]domain.SkillPackage, error) {
	var out []domain.SkillPackage
	for _, p := range m.rows {
		if p.SkillName == skillName {
			out = append(out, p)
		}
	}
	return out, nil
}

type memAssessments struct {
	rows []domain.SkillAssessment
}

func (m *memAssessments) Insert(ctx context.Context, a domain.SkillAssessment) error {
	m.rows = append(m.rows, a)
	return nil
}
func (m *memAssessments) HasAny(ctx context.Context, workspaceID, agentID, skillName string) (bool, error) {
	for _, r := range m.rows {
		if r.AgentID == agentID && r.SkillName == skillName {
			return true, nil
		}
	}
	return false, nil
}

func TestEngineImportProducesSpecScenarioS1Summary(t *testing.T) {
	events := memory.NewEventStore()
	pkgs := newMemPackages()
	engine := NewEngine(pkgs, &memAssessments{}, nil, events, func() time.Time { return time.Unix(0, 0) })

	x, err := engine.Import(context.Background(), "ws_1", "agent_a", domain.SkillPackage{
		ID: "pkg_x", SkillName: "search", Hash: HashBytes([]byte("x")), Manifest: validManifest(), Signature: "sig",
	})
	require.NoError(t, err)
	y, err := engine.Import(context.Background(), "ws_1", "agent_a", domain.SkillPackage{
		ID: "pkg_y", SkillName: "search", Hash: HashBytes([]byte("y")), Manifest: validManifest(),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SkillStatusVerified, x.Status)
	assert.Equal(t, domain.SkillStatusPending, y.Status)

	reviewed, err := engine.ReviewPending(context.Background(), "ws_1", "agent_a", "pkg_y")
	require.NoError(t, err)
	assert.Equal(t, domain.SkillStatusQuarantined, reviewed.Status)
	assert.Equal(t, ReasonVerifySignatureNeeded, reviewed.Reason)
}
