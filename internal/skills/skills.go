// Package skills implements the skill package import/verification ledger
// (C7 subcomponent of C8): the status-merge rank rule, the import and
// review-pending decision functions, the certify-imported composite, and
// agent-skill primary selection.
package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
)

// Decision reason codes, §4.7.
const (
	ReasonInvalidHash           = "invalid_hash_sha256"
	ReasonInvalidManifest       = "invalid_manifest"
	ReasonVerifyStoredHash      = "verify_stored_hash_invalid"
	ReasonVerifyStoredManifest  = "verify_stored_manifest_invalid"
	ReasonVerifySignatureNeeded = "verify_signature_required"
)

var sha256HexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHashShape reports whether hash is a canonical lowercase hex sha256
// digest. This checks shape only, not that it was actually computed over
// any particular payload — the submitting client is trusted to have hashed
// its own package.
func ValidHashShape(hash string) bool {
	return sha256HexPattern.MatchString(hash)
}

// HashBytes returns the canonical sha256 hex digest of data, used by
// callers that need to compute (rather than merely validate) a package
// hash.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidManifest reports whether m carries every field the import decision
// requires to be present.
func ValidManifest(m *domain.SkillManifest) bool {
	if m == nil {
		return false
	}
	if m.RequiredTools == nil || m.EgressDomains == nil {
		return false
	}
	if m.SandboxRequired == nil || m.DataAccess == nil {
		return false
	}
	return true
}

// SubmittedPackage is the input to an import decision.
type SubmittedPackage struct {
	Hash      string
	Manifest  *domain.SkillManifest
	Signature string
}

// Decide implements the import decision function, §4.7: hash shape, then
// manifest completeness, then signature presence, in that order.
func Decide(p SubmittedPackage) (domain.SkillStatus, string) {
	if !ValidHashShape(p.Hash) {
		return domain.SkillStatusQuarantined, ReasonInvalidHash
	}
	if !ValidManifest(p.Manifest) {
		return domain.SkillStatusQuarantined, ReasonInvalidManifest
	}
	if p.Signature != "" {
		return domain.SkillStatusVerified, ""
	}
	return domain.SkillStatusPending, ""
}

// ReviewDecide re-runs the same decision against a package's stored
// fields, used by the review-pending operation. The reasons here name the
// stored-field check specifically, distinct from the import-time reasons.
func ReviewDecide(pkg domain.SkillPackage) (domain.SkillStatus, string) {
	if !ValidHashShape(pkg.Hash) {
		return domain.SkillStatusQuarantined, ReasonVerifyStoredHash
	}
	if !ValidManifest(pkg.Manifest) {
		return domain.SkillStatusQuarantined, ReasonVerifyStoredManifest
	}
	if pkg.Signature == "" {
		return domain.SkillStatusQuarantined, ReasonVerifySignatureNeeded
	}
	return domain.SkillStatusVerified, ""
}

// PackageStore persists skill package rows.
type PackageStore interface {
	Get(ctx context.Context, workspaceID, packageID string) (domain.SkillPackage, error)
	Upsert(ctx context.Context, pkg domain.SkillPackage) error
	ListByAgentSkill(ctx context.Context, workspaceID, agentID, skillName string) ([]domain.SkillPackage, error)
}

// AssessmentStore persists skill assessment attempts.
type AssessmentStore interface {
	Insert(ctx context.Context, a domain.SkillAssessment) error
	HasAny(ctx context.Context, workspaceID, agentID, skillName string) (bool, error)
}

// AgentSkillStore persists per-agent usage-and-assessment rows.
type AgentSkillStore interface {
	Get(ctx context.Context, workspaceID, agentID, skillName string) (domain.AgentSkill, error)
	Upsert(ctx context.Context, row domain.AgentSkill) error
	ListForAgent(ctx context.Context, workspaceID, agentID string) ([]domain.AgentSkill, error)
	ClearPrimary(ctx context.Context, workspaceID, agentID string) error
	SetPrimary(ctx context.Context, workspaceID, agentID, skillName string) error
}

// Engine implements the skills ledger operations.
type Engine struct {
	packages    PackageStore
	assessments AssessmentStore
	agentSkills AgentSkillStore
	events      eventstore.Store
	now         func() time.Time
}

// NewEngine constructs a skills ledger engine.
func NewEngine(packages PackageStore, assessments AssessmentStore, agentSkills AgentSkillStore, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{packages: packages, assessments: assessments, agentSkills: agentSkills, events: events, now: now}
}

// Import installs a submitted package, merging its decided status with any
// existing install for the same (workspace, skill, version) by taking the
// higher rank, and emits the paired install/verify/quarantine events.
func (e *Engine) Import(ctx context.Context, workspaceID, agentID string, pkg domain.SkillPackage) (domain.SkillPackage, error) {
	decided, reason := Decide(SubmittedPackage{Hash: pkg.Hash, Manifest: pkg.Manifest, Signature: pkg.Signature})

	existing, err := e.packages.Get(ctx, workspaceID, pkg.ID)
	if err != nil {
		return domain.SkillPackage{}, err
	}

	finalStatus := decided
	if existing.ID != "" {
		finalStatus = domain.MergeStatus(existing.Status, decided)
	}

	now := e.now()
	pkg.WorkspaceID = workspaceID
	pkg.Status = finalStatus
	pkg.Reason = reason
	if existing.ID == "" {
		pkg.CreatedAt = now
	} else {
		pkg.CreatedAt = existing.CreatedAt
	}
	pkg.UpdatedAt = now

	if err := e.packages.Upsert(ctx, pkg); err != nil {
		return domain.SkillPackage{}, err
	}

	if err := e.emitImportEvents(ctx, workspaceID, agentID, pkg); err != nil {
		return domain.SkillPackage{}, err
	}

	return pkg, nil
}

func (e *Engine) emitImportEvents(ctx context.Context, workspaceID, agentID string, pkg domain.SkillPackage) error {
	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "skill.imported",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: agentID},
		CorrelationID: pkg.ID,
		Data: map[string]any{
			"package_id": pkg.ID, "skill_name": pkg.SkillName, "version": pkg.Version,
			"status": pkg.Status, "agent_id": agentID,
		},
	}); err != nil {
		return err
	}
	return e.emitStatusEvent(ctx, workspaceID, agentID, pkg)
}

func (e *Engine) emitStatusEvent(ctx context.Context, workspaceID, agentID string, pkg domain.SkillPackage) error {
	var eventType string
	switch pkg.Status {
	case domain.SkillStatusVerified:
		eventType = "skill.verified"
	case domain.SkillStatusQuarantined:
		eventType = "skill.quarantined"
	default:
		return nil
	}
	_, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   eventType,
		OccurredAt:  e.now(),
		WorkspaceID: workspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: agentID},
		CorrelationID: pkg.ID,
		Data: map[string]any{
			"package_id": pkg.ID, "reason": pkg.Reason,
		},
	})
	return err
}

// ReviewPending re-runs the decision against a package's currently stored
// fields and applies the (possibly unchanged) result.
func (e *Engine) ReviewPending(ctx context.Context, workspaceID, agentID, packageID string) (domain.SkillPackage, error) {
	pkg, err := e.packages.Get(ctx, workspaceID, packageID)
	if err != nil {
		return domain.SkillPackage{}, err
	}

	decided, reason := ReviewDecide(pkg)
	merged := domain.MergeStatus(pkg.Status, decided)

	pkg.Status = merged
	pkg.Reason = reason
	pkg.UpdatedAt = e.now()

	if err := e.packages.Upsert(ctx, pkg); err != nil {
		return domain.SkillPackage{}, err
	}
	if err := e.emitStatusEvent(ctx, workspaceID, agentID, pkg); err != nil {
		return domain.SkillPackage{}, err
	}
	return pkg, nil
}

// AssessImported creates a synthetic passed assessment for each verified
// package belonging to the agent's skill, ensuring assessment_total >= 1
// for primary-skill eligibility. When onlyUnassessed is set, packages
// whose agent-skill already has any assessment are skipped.
func (e *Engine) AssessImported(ctx context.Context, workspaceID, agentID, skillName string, onlyUnassessed bool) ([]domain.SkillAssessment, error) {
	pkgs, err := e.packages.ListByAgentSkill(ctx, workspaceID, agentID, skillName)
	if err != nil {
		return nil, err
	}

	if onlyUnassessed {
		already, err := e.assessments.HasAny(ctx, workspaceID, agentID, skillName)
		if err != nil {
			return nil, err
		}
		if already {
			return nil, nil
		}
	}

	var created []domain.SkillAssessment
	now := e.now()
	for _, pkg := range pkgs {
		if pkg.Status != domain.SkillStatusVerified {
			continue
		}
		assessment := domain.SkillAssessment{
			ID: pkg.ID + ":synthetic", WorkspaceID: workspaceID, AgentID: agentID,
			SkillName: skillName, Status: domain.SkillAssessmentPassed, Score: 1.0, CreatedAt: now,
		}
		if err := e.assessments.Insert(ctx, assessment); err != nil {
			return nil, err
		}
		created = append(created, assessment)
	}
	return created, nil
}

// CertifyImported is the composite operation: review-pending followed by
// assess-imported, run as direct in-process calls sharing one correlation
// id rather than a cross-route HTTP self-call (REDESIGN FLAGS §9).
func (e *Engine) CertifyImported(ctx context.Context, workspaceID, agentID, packageID, skillName string, onlyUnassessed bool) (domain.SkillPackage, []domain.SkillAssessment, error) {
	pkg, err := e.ReviewPending(ctx, workspaceID, agentID, packageID)
	if err != nil {
		return domain.SkillPackage{}, nil, err
	}
	assessments, err := e.AssessImported(ctx, workspaceID, agentID, skillName, onlyUnassessed)
	if err != nil {
		return domain.SkillPackage{}, nil, err
	}
	return pkg, assessments, nil
}

// SetPrimary selects the top-ranked agent-skill row ordered by (usage_total
// desc, reliability_score desc, level desc, updated_at desc) and makes it
// primary, clearing any prior primary first in the same transaction-shaped
// two-phase call since a partial unique index admits at most one primary
// per (workspace, agent).
func (e *Engine) SetPrimary(ctx context.Context, workspaceID, agentID string) (domain.AgentSkill, error) {
	rows, err := e.agentSkills.ListForAgent(ctx, workspaceID, agentID)
	if err != nil {
		return domain.AgentSkill{}, err
	}
	top, ok := topAgentSkill(rows)
	if !ok {
		return domain.AgentSkill{}, nil
	}

	if err := e.agentSkills.ClearPrimary(ctx, workspaceID, agentID); err != nil {
		return domain.AgentSkill{}, err
	}
	if err := e.agentSkills.SetPrimary(ctx, workspaceID, agentID, top.SkillName); err != nil {
		return domain.AgentSkill{}, err
	}
	top.IsPrimary = true

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "agent.skill.primary_set",
		OccurredAt:  e.now(),
		WorkspaceID: workspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: agentID},
		CorrelationID: agentID,
		Data: map[string]any{
			"agent_id": agentID, "skill_name": top.SkillName,
		},
	}); err != nil {
		return domain.AgentSkill{}, err
	}

	return top, nil
}

func topAgentSkill(rows []domain.AgentSkill) (domain.AgentSkill, bool) {
	var best domain.AgentSkill
	found := false
	for _, r := range rows {
		if !found || betterPrimary(r, best) {
			best = r
			found = true
		}
	}
	return best, found
}

func betterPrimary(a, b domain.AgentSkill) bool {
	if a.UsageTotal != b.UsageTotal {
		return a.UsageTotal > b.UsageTotal
	}
	ar, br := a.ReliabilityScore(), b.ReliabilityScore()
	if ar != br {
		return ar > br
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
