// Package contract implements the gate every external command passes
// through before reaching a domain engine (C11): schema-version
// assertion, the x-workspace-id header contract, authenticated-principal
// binding checks, and a centralized idempotency-key builder. It
// deliberately knows nothing about HTTP — internal/httpapi calls it from
// inside each handler so the same checks apply uniformly.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	serviceerrors "github.com/agentctl/core/internal/errors"
)

// SupportedSchemaVersion is the only schema_version this build accepts on
// inbound command bodies.
const SupportedSchemaVersion = 1

// WorkspaceHeader is the header every workspace-scoped command must carry.
const WorkspaceHeader = "x-workspace-id"

// EngineIDHeader and EngineTokenHeader carry engine authentication,
// falling back to body fields when absent per spec.md §6.
const (
	EngineIDHeader    = "x-engine-id"
	EngineTokenHeader = "x-engine-token"
)

// AssertSupportedSchemaVersion rejects any schema_version other than the
// one this build understands. A zero value is treated as version 1 for
// callers that omit the field entirely.
func AssertSupportedSchemaVersion(schemaVersion int) error {
	if schemaVersion == 0 {
		schemaVersion = SupportedSchemaVersion
	}
	if schemaVersion != SupportedSchemaVersion {
		return serviceerrors.New(serviceerrors.ReasonUnsupportedVersion, "unsupported schema_version")
	}
	return nil
}

// RequireWorkspaceHeader validates that the x-workspace-id header is
// present and, when the body also carries a workspace_id, that the two
// agree. A body workspace_id left empty is not a mismatch — the header is
// authoritative.
func RequireWorkspaceHeader(headerWorkspaceID, bodyWorkspaceID string) (string, error) {
	headerWorkspaceID = strings.TrimSpace(headerWorkspaceID)
	if headerWorkspaceID == "" {
		return "", serviceerrors.New(serviceerrors.ReasonMissingWorkspaceHeader, "x-workspace-id header is required")
	}
	if bodyWorkspaceID != "" && bodyWorkspaceID != headerWorkspaceID {
		return "", serviceerrors.New(serviceerrors.ReasonUnauthorizedWorkspace, "body workspace_id does not match x-workspace-id header")
	}
	return headerWorkspaceID, nil
}

// RequirePrincipalMatch rejects a command whose body claims to act as an
// agent identity other than the one the caller authenticated as. An empty
// claimedAgentPrincipalID means the body made no claim and this check is a no-op.
func RequirePrincipalMatch(authenticatedPrincipalID, claimedAgentPrincipalID string) error {
	if claimedAgentPrincipalID == "" {
		return nil
	}
	if claimedAgentPrincipalID != authenticatedPrincipalID {
		return serviceerrors.New(serviceerrors.ReasonUnauthorizedWorkspace, "authenticated principal does not match claimed agent identity")
	}
	return nil
}

// IdempotencyKeyBuilder centralizes per-command-kind idempotency key
// synthesis, replacing the scattered per-path string concatenation the
// original implementation grew organically.
type IdempotencyKeyBuilder struct{}

// NewIdempotencyKeyBuilder constructs the builder. It is stateless; the
// type exists so call sites read as `contract.NewIdempotencyKeyBuilder().LeaseClaim(...)`
// rather than bare package functions scattered across commands.
func NewIdempotencyKeyBuilder() IdempotencyKeyBuilder { return IdempotencyKeyBuilder{} }

func (IdempotencyKeyBuilder) build(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// LeaseClaim builds the idempotency key for a work-item lease claim.
func (b IdempotencyKeyBuilder) LeaseClaim(workspaceID, workItemType, workItemID, agentID string) string {
	return b.build("lease.claim", workspaceID, workItemType, workItemID, agentID)
}

// LeasePreempt builds the idempotency key for a reclaim-driven
// lease.preempted event, one per (old lease, new lease) pair per
// spec.md §5.
func (b IdempotencyKeyBuilder) LeasePreempt(oldLeaseID, newLeaseID string) string {
	return b.build("lease.preempt", oldLeaseID, newLeaseID)
}

// RunClaim builds the idempotency key for a run-execution lease claim
// attempt.
func (b IdempotencyKeyBuilder) RunClaim(runID, engineActorID string, attemptNo int) string {
	return b.build("run.claim", runID, engineActorID, itoa(attemptNo))
}

// AutonomyApproval builds the idempotency key for approving an autonomy
// recommendation, so a retried decision doesn't re-issue a second
// capability token.
func (b IdempotencyKeyBuilder) AutonomyApproval(recommendationID string) string {
	return b.build("autonomy.approve", recommendationID)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
